package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pompierapp/firequiz/apperr"
	"github.com/pompierapp/firequiz/config"
	"github.com/pompierapp/firequiz/log"
	"github.com/pompierapp/firequiz/querycache"
	"github.com/pompierapp/firequiz/retry"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
)

// Service drives the session state machine:
//
//	none -> in_progress -> {completed, abandoned}
//
// Reads go through the injected cache; every successful transition
// invalidates the user's session keys so dependent screens refetch.
type Service struct {
	store   Store
	cache   *querycache.Cache
	mutator *querycache.Mutator
	journal *apperr.Journal

	maxRetries int
	retryDelay time.Duration

	clock func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
}

// ServiceOption customizes a Service.
type ServiceOption interface {
	apply(*Service)
}

type optionFunc func(*Service)

func (f optionFunc) apply(s *Service) { f(s) }

// WithConfig applies the tuning file settings.
func WithConfig(cfg config.SessionConfig) ServiceOption {
	return optionFunc(func(s *Service) {
		s.maxRetries = cfg.MaxRetries
		s.retryDelay = time.Duration(cfg.RetryDelay)
	})
}

// WithJournal routes normalized errors through the given journal.
func WithJournal(j *apperr.Journal) ServiceOption {
	return optionFunc(func(s *Service) { s.journal = j })
}

// WithClock injects the time source. For tests.
func WithClock(clock func() time.Time) ServiceOption {
	return optionFunc(func(s *Service) { s.clock = clock })
}

// WithSleep injects the backoff suspension primitive. For tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) ServiceOption {
	return optionFunc(func(s *Service) { s.sleep = sleep })
}

// WithIDGenerator injects the answer id generator. For tests.
func WithIDGenerator(newID func() string) ServiceOption {
	return optionFunc(func(s *Service) { s.newID = newID })
}

// NewService builds the session service over the given store and cache.
func NewService(st Store, cache *querycache.Cache, options ...ServiceOption) *Service {
	s := &Service{
		store:      st,
		cache:      cache,
		mutator:    querycache.NewMutator(cache),
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
		clock:      time.Now,
		newID:      uuid.NewString,
	}
	for _, o := range options {
		o.apply(s)
	}
	return s
}

// Create starts a new session for the user. At most one in_progress session
// may exist per user: when one is found the call fails with a business
// error and no row is created.
func (s *Service) Create(ctx context.Context, quizID int64, userID string) (*Session, error) {
	res, err := s.mutator.Run(ctx, querycache.Mutation{
		Name: "create-session",
		Op: func(ctx context.Context) (interface{}, error) {
			active, err := s.store.ActiveSession(ctx, userID)
			if err != nil {
				return nil, err
			}
			if active != nil {
				return nil, apperr.NewBusiness(ErrSessionActive,
					"Une session est déjà en cours pour cet utilisateur.")
			}

			return s.store.CreateSession(ctx, &Session{
				UserID:          userID,
				QuizID:          quizID,
				Status:          StatusInProgress,
				CurrentQuestion: 1,
				StartedAt:       s.clock(),
			})
		},
		OnSuccess: func(c *querycache.Cache, result interface{}) {
			created := result.(*Session)
			c.Write(ActiveSessionKey(userID), created)
			c.Invalidate(SessionListKey(userID))
		},
	})
	if err != nil {
		return nil, s.fail(err)
	}
	return res.(*Session), nil
}

// AnswerParams describe one submitted response.
type AnswerParams struct {
	SessionID  int64
	QuestionID int64
	ChoiceID   int64
	Correct    bool
	TimeSpent  int
	Points     int
}

// SaveAnswer persists the answer and advances the session counters. The two
// writes are one logical unit issued as two remote calls; the whole unit is
// retried with linear backoff, and the insert is guarded by a
// check-before-insert on the client-generated answer id so a retry never
// duplicates the row. When every attempt fails the counters are left
// untouched and a save failure is surfaced even if the answer row itself
// persisted (known inconsistency window, resolved on the server by
// recomputing from answer history).
func (s *Service) SaveAnswer(ctx context.Context, p AnswerParams) (*Session, error) {
	sess, err := s.store.Session(ctx, p.SessionID)
	if err != nil {
		return nil, s.fail(err)
	}
	if sess.Status != StatusInProgress {
		return nil, s.fail(apperr.NewBusiness(ErrSessionFinished,
			"Cette session est terminée."))
	}

	answerID := s.newID()
	correct := 0
	if p.Correct {
		correct = 1
	}
	patch := SessionPatch{
		Score:             sess.Score + p.Points,
		CurrentQuestion:   sess.CurrentQuestion + 1,
		QuestionsAnswered: sess.QuestionsAnswered + 1,
		CorrectAnswers:    sess.CorrectAnswers + correct,
		TimeSpent:         sess.TimeSpent + p.TimeSpent,
	}

	var updated *Session
	err = retry.Do(ctx, func(ctx context.Context) error {
		exists, err := s.store.AnswerExists(ctx, answerID)
		if err != nil {
			return err
		}
		if !exists {
			a := &Answer{
				ID:         answerID,
				SessionID:  p.SessionID,
				QuestionID: p.QuestionID,
				ChoiceID:   p.ChoiceID,
				Correct:    p.Correct,
				TimeSpent:  p.TimeSpent,
				Points:     p.Points,
				CreatedAt:  s.clock(),
			}
			if err := s.store.InsertAnswer(ctx, a); err != nil {
				return err
			}
		}

		updated, err = s.store.UpdateSession(ctx, sess.ID, patch)
		return err
	}, retry.Options{
		MaxAttempts: s.maxRetries,
		Delay:       s.retryDelay,
		Backoff:     retry.Linear,
		IsRetryable: apperr.IsRetryable,
		OnRetry: func(attempt int, err error) {
			log.Debugf("session %d: retrying answer save (attempt %d): %s", p.SessionID, attempt, err)
		},
		Sleep: s.sleep,
	})
	if err != nil {
		return nil, s.fail(err)
	}

	s.cache.Write(ActiveSessionKey(sess.UserID), updated)
	s.cache.Invalidate(SessionListKey(sess.UserID))
	return updated, nil
}

// Complete marks the session finished and triggers the server-side
// experience award.
func (s *Service) Complete(ctx context.Context, id int64) (*Session, error) {
	finished, err := s.finish(ctx, id, StatusCompleted)
	if err != nil {
		return nil, err
	}

	// the award is server-owned and non-essential: a failure must not
	// undo a completed session
	if err := s.store.AwardExperience(ctx, finished.UserID, finished.Score); err != nil {
		log.Errorf("session %d: experience award failed: %s", id, err)
	}
	return finished, nil
}

// Abandon marks the session as given up.
func (s *Service) Abandon(ctx context.Context, id int64) (*Session, error) {
	return s.finish(ctx, id, StatusAbandoned)
}

func (s *Service) finish(ctx context.Context, id int64, status Status) (*Session, error) {
	var userID string
	res, err := s.mutator.Run(ctx, querycache.Mutation{
		Name: "finish-session",
		Op: func(ctx context.Context) (interface{}, error) {
			sess, err := s.store.Session(ctx, id)
			if err != nil {
				return nil, err
			}
			if sess.Status.Terminal() {
				return nil, apperr.NewBusiness(ErrSessionFinished,
					"Cette session est déjà terminée.")
			}
			userID = sess.UserID
			return s.store.SetStatus(ctx, id, status, s.clock())
		},
		OnSuccess: func(c *querycache.Cache, result interface{}) {
			c.Invalidate(ActiveSessionKey(userID))
			c.Invalidate(SessionListKey(userID))
		},
	})
	if err != nil {
		return nil, s.fail(err)
	}
	return res.(*Session), nil
}

// fail normalizes the error, records it when a journal is wired, and
// returns the normalized form so callers can surface UserMessage.
func (s *Service) fail(err error) error {
	if s.journal != nil {
		return s.journal.Report(err)
	}
	return apperr.Classify(err)
}
