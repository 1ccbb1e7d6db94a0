package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies core errors for handling policy. Only
// KindPrecondition and KindMigration may abort the process; the rest
// are returned as values and translated by the orchestrator.
type ErrorKind string

const (
	// KindPrecondition means the core must not start (source tree
	// detected, lock held, corrupt schema version).
	KindPrecondition ErrorKind = "precondition"
	// KindTransient means the operation may be retried with backoff.
	KindTransient ErrorKind = "transient"
	// KindDataInvariant means a write violated an entity invariant.
	// The transaction is rolled back; never retried.
	KindDataInvariant ErrorKind = "data_invariant"
	// KindPolicyDenial means the safety guard denied a ceremony.
	// Non-fatal; recorded and surfaced.
	KindPolicyDenial ErrorKind = "policy_denial"
	// KindAgentFailure means the agent runner failed or produced
	// unparseable output; handled per ceremony failure policy.
	KindAgentFailure ErrorKind = "agent_failure"
	// KindMigration means a store migration phase failed and the
	// pre-migration state was restored.
	KindMigration ErrorKind = "migration"
	// KindCancelled means orchestration was halted by a signal.
	KindCancelled ErrorKind = "cancelled"
)

// Machine codes surfaced to users alongside the kind and message.
const (
	CodeSourceTree      = "E001"
	CodeLockHeld        = "E002"
	CodeMissingDep      = "E003"
	CodeMigration       = "E010"
	CodeSchemaMismatch  = "E011"
	CodeDataInvariant   = "E020"
	CodePlanCycle       = "E030"
	CodePolicyDenial    = "E040"
	CodeAgentFailure    = "E050"
	CodeCancelled       = "E060"
)

// CoreError is the typed error all components raise across package
// boundaries. It carries the kind for policy, a machine code, and the
// offending fields for diagnostics.
type CoreError struct {
	// Kind classifies the error for handling policy.
	Kind ErrorKind
	// Code is the stable machine code (E001-E099).
	Code string
	// Msg is the short human-readable description.
	Msg string
	// Fields holds the offending values, if any.
	Fields map[string]any
	// Err is the wrapped cause, if any.
	Err error
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Kind, e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Code, e.Msg)
}

// Unwrap returns the wrapped cause.
func (e *CoreError) Unwrap() error { return e.Err }

// Is matches on kind so callers can test errors.Is(err, &CoreError{Kind: ...}).
func (e *CoreError) Is(target error) bool {
	t, ok := target.(*CoreError)
	if !ok {
		return false
	}
	if t.Kind != "" && t.Kind != e.Kind {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	return true
}

// NewInvariantError builds a DataInvariantError with offending fields.
func NewInvariantError(msg string, fields map[string]any) error {
	return &CoreError{Kind: KindDataInvariant, Code: CodeDataInvariant, Msg: msg, Fields: fields}
}

// NewPreconditionError builds a PreconditionError with the given code.
func NewPreconditionError(code, msg string) error {
	return &CoreError{Kind: KindPrecondition, Code: code, Msg: msg}
}

// NewPolicyDenial builds a PolicyDenial carrying the deny reason.
func NewPolicyDenial(reason string) error {
	return &CoreError{Kind: KindPolicyDenial, Code: CodePolicyDenial, Msg: reason}
}

// NewTransient wraps a retryable failure.
func NewTransient(msg string, err error) error {
	return &CoreError{Kind: KindTransient, Code: "", Msg: msg, Err: err}
}

// NewAgentFailure wraps an agent runner failure.
func NewAgentFailure(msg string, err error) error {
	return &CoreError{Kind: KindAgentFailure, Code: CodeAgentFailure, Msg: msg, Err: err}
}

// NewMigrationError wraps a failed migration phase.
func NewMigrationError(msg string, err error) error {
	return &CoreError{Kind: KindMigration, Code: CodeMigration, Msg: msg, Err: err}
}

// KindOf returns the error kind, or "" for untyped errors.
func KindOf(err error) ErrorKind {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
