package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pompierapp/firequiz/config"
	"github.com/pompierapp/firequiz/querycache"
	"github.com/pompierapp/firequiz/store"
)

const testAPIKey = "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9." +
	"eyJyb2xlIjoiYW5vbiJ9." +
	"dGVzdC1zaWduYXR1cmU"

func newTestCatalog(t *testing.T, handler http.HandlerFunc) (*Catalog, *querycache.Cache) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := store.NewClient(&config.API{URL: srv.URL, Key: testAPIKey})
	require.NoError(t, err)

	cache := querycache.New(querycache.Options{GCInterval: time.Hour})
	t.Cleanup(func() { cache.Close() })

	return NewCatalog(client, cache), cache
}

func TestCatalogQuizServedFromCache(t *testing.T) {
	var requests atomic.Int64
	catalog, _ := newTestCatalog(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "/rest/v1/quiz", r.URL.Path)
		assert.Contains(t, r.URL.RawQuery, "id=eq.42")
		w.Write([]byte(`{"id":42,"titre":"Incendie urbain","categorie":"incendie","difficulte":"moyen","nombre_questions":20}`))
	})
	ctx := context.Background()

	q, err := catalog.Quiz(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "Incendie urbain", q.Title)
	assert.Equal(t, 20, q.QuestionCount)

	// second read is a fresh cache hit, no request goes out
	q2, err := catalog.Quiz(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, q, q2)
	assert.Equal(t, int64(1), requests.Load())
}

func TestCatalogQuizzesFilters(t *testing.T) {
	var requests atomic.Int64
	catalog, _ := newTestCatalog(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Contains(t, r.URL.RawQuery, "categorie=eq.incendie")
		assert.Contains(t, r.URL.RawQuery, "difficulte=eq.moyen")
		w.Write([]byte(`[{"id":1,"titre":"Feux de forêt"},{"id":2,"titre":"Feux urbains"}]`))
	})
	ctx := context.Background()

	rows, err := catalog.Quizzes(ctx, map[string]interface{}{
		"categorie":  "incendie",
		"difficulte": "moyen",
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Feux de forêt", rows[0].Title)

	// an equal filter set hits the same entry whatever the map order
	rows2, err := catalog.Quizzes(ctx, map[string]interface{}{
		"difficulte": "moyen",
		"categorie":  "incendie",
	})
	require.NoError(t, err)
	assert.Equal(t, rows, rows2)
	assert.Equal(t, int64(1), requests.Load())
}

func TestCatalogQuizInvalidation(t *testing.T) {
	var requests atomic.Int64
	catalog, cache := newTestCatalog(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte(`{"id":7,"titre":"Secourisme","categorie":"secours","difficulte":"facile","nombre_questions":10}`))
	})
	ctx := context.Background()

	_, err := catalog.Quiz(ctx, 7)
	require.NoError(t, err)

	cache.Invalidate(QuizDetailKey(7))

	_, err = catalog.Quiz(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(2), requests.Load())
}
