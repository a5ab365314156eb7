// Package session is the unified state service for quiz attempts. It
// enforces "at most one active session per user", owns the retry logic of
// the answer save (the single highest-risk write), and keeps the query
// cache coherent after every transition.
package session

import (
	"errors"
	"time"
)

// Status of a quiz session. in_progress is the only state transitions can
// leave; completed and abandoned are terminal.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusAbandoned  Status = "abandoned"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// Session mirrors one row of the remote sessions table. The remote store is
// the source of truth; cached copies are disposable projections.
type Session struct {
	ID     int64  `json:"id,omitempty"`
	UserID string `json:"user_id"`
	QuizID int64  `json:"quiz_id"`
	Status Status `json:"statut"`

	Score             int `json:"score_actuel"`
	CurrentQuestion   int `json:"question_actuelle"`
	QuestionsAnswered int `json:"questions_repondues"`
	CorrectAnswers    int `json:"reponses_correctes"`
	TimeSpent         int `json:"temps_passe"`

	StartedAt time.Time  `json:"commencee_a"`
	EndedAt   *time.Time `json:"terminee_a,omitempty"`
}

// Answer is one submitted response. Immutable once written: the ID is
// generated client-side so a retried insert can be detected instead of
// duplicated.
type Answer struct {
	ID         string    `json:"id"`
	SessionID  int64     `json:"session_id"`
	QuestionID int64     `json:"question_id"`
	ChoiceID   int64     `json:"reponse_id"`
	Correct    bool      `json:"est_correcte"`
	TimeSpent  int       `json:"temps_reponse"`
	Points     int       `json:"points_gagnes"`
	CreatedAt  time.Time `json:"creee_a"`
}

// SessionPatch carries the recomputed counters of an answer save.
type SessionPatch struct {
	Score             int `json:"score_actuel"`
	CurrentQuestion   int `json:"question_actuelle"`
	QuestionsAnswered int `json:"questions_repondues"`
	CorrectAnswers    int `json:"reponses_correctes"`
	TimeSpent         int `json:"temps_passe"`
}

// Domain rule violations.
var (
	ErrSessionActive   = errors.New("une session est déjà en cours")
	ErrSessionFinished = errors.New("la session est déjà terminée")
)
