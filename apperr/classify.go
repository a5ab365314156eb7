package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/pompierapp/firequiz/store"
)

var defaultSeverity = map[Kind]Severity{
	Unknown:    Medium,
	Network:    Medium,
	Auth:       High,
	Validation: Low,
	Database:   Medium,
	Permission: High,
	Business:   Low,
}

// The canned user-facing messages per kind. Raw backend wording never
// reaches the user.
var userMessages = map[Kind]string{
	Unknown:    "Une erreur inattendue s'est produite. Veuillez réessayer.",
	Network:    "Connexion impossible. Vérifiez votre réseau et réessayez.",
	Auth:       "Votre session a expiré. Veuillez vous reconnecter.",
	Validation: "Les données envoyées sont invalides.",
	Database:   "Le service est momentanément indisponible. Veuillez réessayer.",
	Permission: "Vous n'avez pas accès à cette ressource.",
	Business:   "Cette action n'est pas autorisée.",
}

func userMessage(kind Kind, _ error) string {
	if m, ok := userMessages[kind]; ok {
		return m
	}
	return userMessages[Unknown]
}

// Classify converts any recovered value into a normalized *Error.
//
// Order matters: structured remote-store errors first, then network
// heuristics on the message, then plain errors, then everything else
// stringified.
func Classify(v interface{}) *Error {
	if v == nil {
		return New(Unknown, nil)
	}

	if ae, ok := v.(*Error); ok {
		return ae
	}

	err, ok := v.(error)
	if !ok {
		e := New(Unknown, fmt.Errorf("%v", v))
		e.Severity = Low
		return e
	}

	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}

	var se *store.Error
	if errors.As(err, &se) {
		return classifyStore(se, err)
	}

	if kind, ok := classifyMessage(err.Error()); ok {
		return New(kind, err)
	}

	return New(Unknown, err)
}

// classifyStore maps the structured remote-store error onto the taxonomy.
// The status and PostgreSQL/PostgREST codes are authoritative; the message
// is only consulted when both are silent.
func classifyStore(se *store.Error, cause error) *Error {
	switch {
	case se.StatusCode == http.StatusUnauthorized || strings.HasPrefix(se.Code, "PGRST3"):
		// PGRST30x are the JWT failures.
		return New(Auth, cause)
	case se.StatusCode == http.StatusForbidden || se.Code == "42501":
		// 42501 is insufficient_privilege, how RLS rejections surface.
		return New(Permission, cause)
	case se.StatusCode == http.StatusNotFound || se.Code == "PGRST116":
		return New(Validation, cause)
	case strings.HasPrefix(se.Code, "23") || se.StatusCode == http.StatusBadRequest ||
		se.StatusCode == http.StatusUnprocessableEntity:
		// 23xxx are integrity constraint violations.
		return New(Validation, cause)
	}

	if kind, ok := classifyMessage(se.Message); ok && kind != Network {
		return New(kind, cause)
	}
	return New(Database, cause)
}

// Substring fallback for opaque errors. Fragile by nature, kept as the last
// resort only; the known substrings are pinned by tests.
func classifyMessage(msg string) (Kind, bool) {
	m := strings.ToLower(msg)

	switch {
	case strings.Contains(m, "jwt"), strings.Contains(m, "token"),
		strings.Contains(m, "401"), strings.Contains(m, "unauthorized"),
		strings.Contains(m, "auth"):
		return Auth, true
	case strings.Contains(m, "403"), strings.Contains(m, "permission"),
		strings.Contains(m, "row-level security"), strings.Contains(m, "policy"):
		return Permission, true
	case strings.Contains(m, "404"), strings.Contains(m, "not found"),
		strings.Contains(m, "invalid"), strings.Contains(m, "constraint"),
		strings.Contains(m, "duplicate"):
		return Validation, true
	case strings.Contains(m, "network"), strings.Contains(m, "fetch"),
		strings.Contains(m, "timeout"), strings.Contains(m, "connection"):
		return Network, true
	}

	return Unknown, false
}

// IsRetryable reports whether retrying the failed call verbatim can succeed.
// Client-error-equivalents (auth, permission, validation) and domain-rule
// violations fail identically on every attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch Classify(err).Kind {
	case Auth, Permission, Validation, Business:
		return false
	}

	var se *store.Error
	if errors.As(err, &se) && se.IsClientError() {
		return false
	}

	return true
}
