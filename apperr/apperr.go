// Package apperr normalizes the heterogeneous failures coming back from the
// remote store and the network into a fixed taxonomy, derives the message
// shown to the user, and keeps a bounded journal of recent failures.
package apperr

import (
	"fmt"
	"time"
)

// Kind is the failure taxonomy.
type Kind uint8

const (
	Unknown Kind = iota
	Network
	Auth
	Validation
	Database
	Permission
	Business
)

var kindNames = map[Kind]string{
	Unknown:    "unknown",
	Network:    "network",
	Auth:       "auth",
	Validation: "validation",
	Database:   "database",
	Permission: "permission",
	Business:   "business",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Severity orders failures by how loudly they should be reported.
type Severity uint8

const (
	Low Severity = iota
	Medium
	High
	Critical
)

var severityNames = map[Severity]string{
	Low:      "low",
	Medium:   "medium",
	High:     "high",
	Critical: "critical",
}

func (s Severity) String() string {
	if n, ok := severityNames[s]; ok {
		return n
	}
	return "low"
}

// ParseSeverity converts the config notation to a Severity.
func ParseSeverity(s string) (Severity, error) {
	for sev, name := range severityNames {
		if name == s {
			return sev, nil
		}
	}
	return Low, fmt.Errorf("unknown severity %q", s)
}

// Error is a normalized failure. UserMessage is the only part ever shown to
// an end user; Err keeps the raw cause for logs and telemetry.
type Error struct {
	Kind        Kind
	Severity    Severity
	Err         error
	UserMessage string
	Time        time.Time
	Context     map[string]string
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.UserMessage)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// WithContext attaches a key/value pair for logs and telemetry.
func (e *Error) WithContext(k, v string) *Error {
	if e.Context == nil {
		e.Context = map[string]string{}
	}
	e.Context[k] = v
	return e
}

// New builds a normalized error of the given kind wrapping cause (which may
// be nil for pure domain-rule violations).
func New(kind Kind, cause error) *Error {
	return &Error{
		Kind:        kind,
		Severity:    defaultSeverity[kind],
		Err:         cause,
		UserMessage: userMessage(kind, cause),
		Time:        time.Now(),
	}
}

// NewBusiness builds a domain-rule violation carrying an explicit
// user-facing message.
func NewBusiness(cause error, userMessage string) *Error {
	e := New(Business, cause)
	e.UserMessage = userMessage
	return e
}
