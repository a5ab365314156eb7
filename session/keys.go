package session

import "github.com/pompierapp/firequiz/querycache"

// Cache key taxonomy for the session domain. Every transition invalidates
// through these helpers so screens re-render from coherent cache state.

// ActiveSessionKey addresses the user's in-progress session.
func ActiveSessionKey(userID string) querycache.Key {
	return querycache.NewKey("session", "current", userID)
}

// SessionListKey addresses the user's session history.
func SessionListKey(userID string) querycache.Key {
	return querycache.NewKey("session", "list", userID)
}

// UserSessionsPrefix covers every session read of the user.
func UserSessionsPrefix() querycache.Key {
	return querycache.NewKey("session")
}

// QuizDetailKey addresses one quiz definition.
func QuizDetailKey(quizID int64) querycache.Key {
	return querycache.NewKey("quiz", "detail", quizID)
}

// QuizListKey addresses a filtered quiz listing.
func QuizListKey(filters map[string]interface{}) querycache.Key {
	if filters == nil {
		filters = map[string]interface{}{}
	}
	return querycache.NewKey("quiz", "list", filters)
}
