package session

import (
	"context"
	"time"
)

// Store is the persistence boundary of the session domain. The production
// implementation talks to the remote data store; tests use an in-memory
// fake.
type Store interface {
	// ActiveSession returns the user's in_progress session, or nil when
	// there is none.
	ActiveSession(ctx context.Context, userID string) (*Session, error)

	// CreateSession inserts the row and returns the stored
	// representation.
	CreateSession(ctx context.Context, s *Session) (*Session, error)

	// Session returns the row by id.
	Session(ctx context.Context, id int64) (*Session, error)

	// UpdateSession writes the recomputed counters. The read-modify-write
	// is done by the caller without compare-and-swap: two concurrent
	// saves against one session can lose an update. Accepted, since the
	// single-active-session rule makes that a rapid double-submit only.
	UpdateSession(ctx context.Context, id int64, patch SessionPatch) (*Session, error)

	// SetStatus performs a terminal transition.
	SetStatus(ctx context.Context, id int64, status Status, endedAt time.Time) (*Session, error)

	// InsertAnswer writes one immutable answer row.
	InsertAnswer(ctx context.Context, a *Answer) error

	// AnswerExists reports whether the answer id is already persisted.
	// Lets a retried save skip the insert instead of duplicating it.
	AnswerExists(ctx context.Context, answerID string) (bool, error)

	// AwardExperience invokes the server-side experience-point
	// procedure. Opaque: the server owns the rules.
	AwardExperience(ctx context.Context, userID string, points int) error
}
