package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrGuardViolation      = errors.New("transition not allowed")
	ErrAllocationMismatch  = errors.New("allocation mismatch")
	ErrMissingExchangeRate = errors.New("missing exchange rate")
)

// Issue is one violated field or rule. Path addresses the offending input field.
type Issue struct {
	Path    []string `json:"path"`
	Message string   `json:"message"`
}

// ValidationError collects every issue found in one pass over an input.
type ValidationError struct {
	Issues []Issue
	kinds  []error
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		if len(issue.Path) == 0 {
			parts = append(parts, issue.Message)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", strings.Join(issue.Path, "."), issue.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() []error {
	if len(e.kinds) == 0 {
		return []error{ErrValidation}
	}
	return e.kinds
}

// Add records a plain validation issue.
func (e *ValidationError) Add(message string, path ...string) {
	e.add(ErrValidation, message, path)
}

// AddMismatch records an issue that breaks the allocation invariant.
func (e *ValidationError) AddMismatch(message string, path ...string) {
	e.add(ErrAllocationMismatch, message, path)
}

// Merge appends the issues of another validation error, prefixing their paths.
func (e *ValidationError) Merge(err error, prefix ...string) bool {
	var other *ValidationError
	if !errors.As(err, &other) {
		return false
	}
	for _, issue := range other.Issues {
		path := append(append([]string{}, prefix...), issue.Path...)
		e.Issues = append(e.Issues, Issue{Path: path, Message: issue.Message})
	}
	for _, kind := range other.Unwrap() {
		e.addKind(kind)
	}
	return true
}

// Err returns nil when no issue was recorded.
func (e *ValidationError) Err() error {
	if len(e.Issues) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) add(kind error, message string, path []string) {
	if path == nil {
		path = []string{}
	}
	e.Issues = append(e.Issues, Issue{Path: path, Message: message})
	e.addKind(kind)
}

func (e *ValidationError) addKind(kind error) {
	for _, known := range e.kinds {
		if known == kind {
			return
		}
	}
	e.kinds = append(e.kinds, kind)
}

// IssuesOf extracts the issues carried by err, if any.
func IssuesOf(err error) []Issue {
	var v *ValidationError
	if errors.As(err, &v) {
		return v.Issues
	}
	return nil
}

func guardViolation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrGuardViolation, fmt.Sprintf(format, args...))
}
