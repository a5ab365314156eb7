package session

import (
	"context"
	"sort"

	"github.com/pompierapp/firequiz/querycache"
	"github.com/pompierapp/firequiz/store"
)

const quizTable = "quiz"

// Quiz mirrors one row of the remote quiz table.
type Quiz struct {
	ID            int64  `json:"id"`
	Title         string `json:"titre"`
	Category      string `json:"categorie"`
	Difficulty    string `json:"difficulte"`
	QuestionCount int    `json:"nombre_questions"`
}

// Catalog serves quiz definitions through the query cache. Quiz content
// changes rarely, so reads lean on the cache defaults.
type Catalog struct {
	client *store.Client
	cache  *querycache.Cache
}

// NewCatalog builds a catalog reading through the given cache.
func NewCatalog(client *store.Client, cache *querycache.Cache) *Catalog {
	return &Catalog{client: client, cache: cache}
}

// Quiz returns one quiz definition by id.
func (c *Catalog) Quiz(ctx context.Context, id int64) (*Quiz, error) {
	v, err := c.cache.Read(ctx, QuizDetailKey(id), func(ctx context.Context) (interface{}, error) {
		var q Quiz
		if err := c.client.From(quizTable).Eq("id", id).Single().Get(ctx, &q); err != nil {
			return nil, err
		}
		return &q, nil
	}, querycache.ReadOptions{})
	if err != nil {
		return nil, err
	}
	return v.(*Quiz), nil
}

// Quizzes returns the listing matching the given column filters. Equal
// filter sets share one cache entry regardless of map iteration order.
func (c *Catalog) Quizzes(ctx context.Context, filters map[string]interface{}) ([]Quiz, error) {
	v, err := c.cache.Read(ctx, QuizListKey(filters), func(ctx context.Context) (interface{}, error) {
		q := c.client.From(quizTable)
		for _, col := range sortedColumns(filters) {
			q = q.Eq(col, filters[col])
		}
		var rows []Quiz
		if err := q.Order("titre", false).Get(ctx, &rows); err != nil {
			return nil, err
		}
		return rows, nil
	}, querycache.ReadOptions{})
	if err != nil {
		return nil, err
	}
	return v.([]Quiz), nil
}

func sortedColumns(filters map[string]interface{}) []string {
	cols := make([]string, 0, len(filters))
	for col := range filters {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}
