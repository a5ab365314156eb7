package session

import (
	"context"
	"fmt"
	"time"

	"github.com/pompierapp/firequiz/store"
)

const (
	sessionsTable = "sessions_quiz"
	answersTable  = "reponses_quiz"

	experienceRPC = "incrementer_experience"
)

// RemoteStore implements Store on top of the remote data store client.
type RemoteStore struct {
	client *store.Client
}

// NewRemoteStore wraps the given client.
func NewRemoteStore(client *store.Client) *RemoteStore {
	return &RemoteStore{client: client}
}

func (r *RemoteStore) ActiveSession(ctx context.Context, userID string) (*Session, error) {
	var rows []Session
	err := r.client.From(sessionsTable).
		Eq("user_id", userID).
		Eq("statut", string(StatusInProgress)).
		Limit(1).
		Get(ctx, &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *RemoteStore) CreateSession(ctx context.Context, s *Session) (*Session, error) {
	var rows []Session
	if err := r.client.From(sessionsTable).Insert(ctx, s, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("remote store returned no representation for the created session")
	}
	return &rows[0], nil
}

func (r *RemoteStore) Session(ctx context.Context, id int64) (*Session, error) {
	var s Session
	err := r.client.From(sessionsTable).Eq("id", id).Single().Get(ctx, &s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *RemoteStore) UpdateSession(ctx context.Context, id int64, patch SessionPatch) (*Session, error) {
	var rows []Session
	err := r.client.From(sessionsTable).Eq("id", id).Update(ctx, patch, &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("session %d not found while updating counters", id)
	}
	return &rows[0], nil
}

func (r *RemoteStore) SetStatus(ctx context.Context, id int64, status Status, endedAt time.Time) (*Session, error) {
	var rows []Session
	body := map[string]interface{}{
		"statut":     string(status),
		"terminee_a": endedAt,
	}
	err := r.client.From(sessionsTable).Eq("id", id).Update(ctx, body, &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("session %d not found while setting status", id)
	}
	return &rows[0], nil
}

func (r *RemoteStore) InsertAnswer(ctx context.Context, a *Answer) error {
	return r.client.From(answersTable).Insert(ctx, a, nil)
}

func (r *RemoteStore) AnswerExists(ctx context.Context, answerID string) (bool, error) {
	var rows []struct {
		ID string `json:"id"`
	}
	err := r.client.From(answersTable).Select("id").Eq("id", answerID).Limit(1).Get(ctx, &rows)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (r *RemoteStore) AwardExperience(ctx context.Context, userID string, points int) error {
	args := map[string]interface{}{
		"user_id": userID,
		"points":  points,
	}
	return r.client.RPC(ctx, experienceRPC, args, nil)
}
