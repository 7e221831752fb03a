package patrimoine

import (
	"fmt"
	"strings"
)

// ParsingError is the single error type crossing the Registry boundary: a
// parser's internal failures are always translated into one of these, so
// callers never depend on a parser's internal error vocabulary.
type ParsingError struct {
	Strategy string // strategy that failed, empty for aggregate failures
	Path     string
	Err      error
}

func (e *ParsingError) Error() string {
	if e.Strategy == "" {
		return fmt.Sprintf("parsing %q failed: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("parsing %q with %s failed: %v", e.Path, e.Strategy, e.Err)
}

func (e *ParsingError) Unwrap() error { return e.Err }

// UnknownStrategyError reports a strategy name absent from the registry,
// listing what is available so a manifest typo is easy to spot.
type UnknownStrategyError struct {
	Strategy  string
	Available []string
}

func (e *UnknownStrategyError) Error() string {
	return fmt.Sprintf("unknown parser strategy %q, available: %s", e.Strategy, strings.Join(e.Available, ", "))
}

// ManifestNotFoundError aborts a run: the manifest is the single required
// external input.
type ManifestNotFoundError struct {
	Path string
	Err  error
}

func (e *ManifestNotFoundError) Error() string {
	return fmt.Sprintf("manifest not found at %q: %v", e.Path, e.Err)
}

func (e *ManifestNotFoundError) Unwrap() error { return e.Err }

// ManifestValidationError aggregates every structural violation found in the
// manifest, so a user sees all problems in one pass instead of one at a time.
type ManifestValidationError struct {
	Violations []string
}

func (e *ManifestValidationError) Error() string {
	return fmt.Sprintf("manifest validation failed with %d violation(s):\n  - %s",
		len(e.Violations), strings.Join(e.Violations, "\n  - "))
}

// SecurityError reports a manifest entry whose source file resolves outside
// the configured sources directory. It always aborts the run.
type SecurityError struct {
	Path string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("source file %q resolves outside the sources directory", e.Path)
}

// ValidationError reports a fatal inconsistency in the final canonical
// document (negative total, missing referenced source file).
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("canonical document validation failed with %d error(s):\n  - %s",
		len(e.Problems), strings.Join(e.Problems, "\n  - "))
}
