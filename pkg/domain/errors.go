package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ContractViolation marks errors that indicate a defect in the caller or in
// state-graph construction rather than a retryable condition. Operations
// returning one must be treated as failed permanently; the offending call is
// halted without mutating further state.
type ContractViolation interface {
	error
	ContractViolation()
}

// IsContractViolation reports whether err (or anything it wraps) is an
// unrecoverable contract violation.
func IsContractViolation(err error) bool {
	var cv ContractViolation
	return errors.As(err, &cv)
}

// UnhandledEventError reports an event dispatched to a lifecycle state with no
// handler anywhere on its ancestor chain.
type UnhandledEventError struct {
	State   string
	Event   string
	Context any
}

func (e UnhandledEventError) Error() string {
	return fmt.Sprintf("record in state %s received unhandled event %q (context: %v)", e.State, e.Event, e.Context)
}

// ContractViolation marks the error as unrecoverable.
func (UnhandledEventError) ContractViolation() {}

// IdentityConflictError reports an id change that violates identity
// invariants: the id may only be set while unset, unchanged, or still new.
type IdentityConflictError struct {
	Identity  Identity
	Attempted string
}

func (e IdentityConflictError) Error() string {
	return fmt.Sprintf("cannot change id of %s to %q", e.Identity, e.Attempted)
}

// ContractViolation marks the error as unrecoverable.
func (IdentityConflictError) ContractViolation() {}

// DestroyWhileMaterializedError reports destruction attempted while a live
// facade still exists for the record.
type DestroyWhileMaterializedError struct {
	Identity Identity
}

func (e DestroyWhileMaterializedError) Error() string {
	return fmt.Sprintf("cannot destroy %s while its facade is materialized", e.Identity)
}

// ContractViolation marks the error as unrecoverable.
func (DestroyWhileMaterializedError) ContractViolation() {}

// AlreadyDestroyedError reports an operation (typically a destroy
// cancellation) against a record whose control block was already destroyed.
type AlreadyDestroyedError struct {
	Identity Identity
}

func (e AlreadyDestroyedError) Error() string {
	return fmt.Sprintf("record %s is already destroyed", e.Identity)
}

// ContractViolation marks the error as unrecoverable.
func (AlreadyDestroyedError) ContractViolation() {}

// RecordUnloadedError reports an async relationship fetch whose owning record
// was unloaded before the fetch settled. Unlike AlreadyDestroyedError it is
// not a contract violation; unloading with fetches in flight is ordinary
// operation and holders of the rejected proxy simply refetch.
type RecordUnloadedError struct {
	Identity Identity
}

func (e RecordUnloadedError) Error() string {
	return fmt.Sprintf("record %s was unloaded before the relationship resolved", e.Identity)
}

// DeletedRecordMutationError reports an attribute mutation attempted on a
// record in a deleted lifecycle state.
type DeletedRecordMutationError struct {
	Identity Identity
	Key      string
}

func (e DeletedRecordMutationError) Error() string {
	return fmt.Sprintf("cannot set %q on deleted record %s", e.Key, e.Identity)
}

// InvalidRelationshipValueError reports a relationship setter given a value
// that does not conform to the relationship's shape.
type InvalidRelationshipValueError struct {
	Identity Identity
	Key      string
	Reason   string
}

func (e InvalidRelationshipValueError) Error() string {
	return fmt.Sprintf("invalid value for relationship %q on %s: %s", e.Key, e.Identity, e.Reason)
}

// MissingAssociatedRecordsError reports synchronous relationship access that
// found unloaded members. Synchronous relationships never trigger a fetch.
type MissingAssociatedRecordsError struct {
	Identity Identity
	Key      string
	Missing  []Identity
}

func (e MissingAssociatedRecordsError) Error() string {
	names := make([]string, len(e.Missing))
	for i, id := range e.Missing {
		names[i] = id.String()
	}
	return fmt.Sprintf("relationship %q on %s references unloaded records: %s", e.Key, e.Identity, strings.Join(names, ", "))
}

// FieldError is a single field-scoped validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries the field-scoped errors of a rejected commit. It is
// a recoverable application state: the record transitions to an invalid
// lifecycle state and may be corrected and re-committed.
type ValidationError struct {
	Identity Identity
	Errors   []FieldError
}

func (e ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fmt.Sprintf("%s: %s", fe.Field, fe.Message)
	}
	return fmt.Sprintf("validation failed for %s (%s)", e.Identity, strings.Join(parts, "; "))
}

// ErrorsFor returns the messages recorded against one field.
func (e ValidationError) ErrorsFor(field string) []string {
	var out []string
	for _, fe := range e.Errors {
		if fe.Field == field {
			out = append(out, fe.Message)
		}
	}
	return out
}

// CommitError wraps a non-field failure from a rejected commit or reload.
type CommitError struct {
	Identity  Identity
	Operation string
	Err       error
}

func (e CommitError) Error() string {
	return fmt.Sprintf("%s failed for %s: %v", e.Operation, e.Identity, e.Err)
}

func (e CommitError) Unwrap() error { return e.Err }

// NotFoundError is returned by adapters when no record exists for an identity.
type NotFoundError struct {
	Identity Identity
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("record %s not found", e.Identity)
}
