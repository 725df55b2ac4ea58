package graft

import "fmt"

// PreflightKind enumerates the ways Apply Phase P1 can refuse to proceed.
type PreflightKind string

// The preflight failure kinds named in spec.md §7.
const (
	MissingSource            PreflightKind = "missing_source"
	UnexpectedExistingTarget PreflightKind = "unexpected_existing_target"
	DigestMismatchKind       PreflightKind = "digest_mismatch"
	MissingPayload           PreflightKind = "missing_payload"
)

// PreflightError reports a precondition failure discovered during Apply
// Phase P1. No filesystem mutation has occurred when this is returned.
type PreflightError struct {
	Path     string
	Kind     PreflightKind
	Expected string
	Got      string
}

func (e *PreflightError) Error() string {
	switch e.Kind {
	case DigestMismatchKind:
		return fmt.Sprintf("preflight %s: %s: digest mismatch (expected %s, got %s)", e.Path, e.Kind, e.Expected, e.Got)
	default:
		return fmt.Sprintf("preflight %s: %s", e.Path, e.Kind)
	}
}

// RollbackOutcome describes what happened to a target directory's
// .patch-backup/ after an Apply failure triggered rollback.
type RollbackOutcome struct {
	// Restored is true if every journaled path was successfully restored.
	Restored bool
	// BackupRetained is true if .patch-backup/ still exists on disk.
	BackupRetained bool
}

// ApplyError reports a failure during Apply Phase P2. Cause is the
// underlying mutation failure; Rollback records what the engine did in
// response (it always attempts rollback).
type ApplyError struct {
	Path     string
	Cause    error
	Rollback RollbackOutcome
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply failed at %s: %v (rollback restored=%v backup-retained=%v)",
		e.Path, e.Cause, e.Rollback.Restored, e.Rollback.BackupRetained)
}

func (e *ApplyError) Unwrap() error { return e.Cause }

// DeltaCorruptError is returned by the delta codec when a delta is malformed
// or does not match the old input it is being applied against.
type DeltaCorruptError struct {
	Reason string
}

func (e *DeltaCorruptError) Error() string { return "delta corrupt: " + e.Reason }

// ManifestCorruptError is returned when manifest.json (or
// backup-manifest.json) fails to parse or violates a structural invariant.
type ManifestCorruptError struct {
	Detail string
}

func (e *ManifestCorruptError) Error() string { return "manifest corrupt: " + e.Detail }

// UnrecoverableCorruptionError is terminal: rollback could not restore path,
// and .patch-backup/ has been preserved for forensic inspection.
type UnrecoverableCorruptionError struct {
	Path       string
	BackupPath string
	Cause      error
}

func (e *UnrecoverableCorruptionError) Error() string {
	return fmt.Sprintf("unrecoverable corruption at %s (backup preserved at %s): %v", e.Path, e.BackupPath, e.Cause)
}

func (e *UnrecoverableCorruptionError) Unwrap() error { return e.Cause }

// NoPayloadError is returned by the self-extractor when the executing binary
// has no valid EmbeddedPayload footer. Callers (the GUI collaborator) treat
// this as "demo mode", not a fatal error.
type NoPayloadError struct {
	Reason string
}

func (e *NoPayloadError) Error() string { return "no embedded payload: " + e.Reason }
