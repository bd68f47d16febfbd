// Package errors provides centralized error handling for the burstline
// pipeline, with categorized errors and structured context suitable for
// per-unit failure reporting.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"time"
)

// ErrorCategory groups errors for reporting and aggregation.
type ErrorCategory string

const (
	CategoryValidation    ErrorCategory = "validation"
	CategoryFileIO        ErrorCategory = "file-io"
	CategoryNetwork       ErrorCategory = "network"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryDatabase      ErrorCategory = "database"
	CategoryAnnotation    ErrorCategory = "annotation-parsing"
	CategoryInventory     ErrorCategory = "burst-inventory"
	CategoryPlan          ErrorCategory = "processing-plan"
	CategoryStage         ErrorCategory = "stage-execution"
	CategoryArtifact      ErrorCategory = "artifact-management"
	CategoryTimeseries    ErrorCategory = "timeseries-assembly"
	CategoryDownload      ErrorCategory = "download"
	CategoryGeneric       ErrorCategory = "generic"
)

// Kind identifies the domain-level error classes the pipeline reacts to.
// Unlike categories, kinds carry control-flow meaning: a RetrievalRequired
// error triggers a download, a StageFailure aborts one work item only.
type Kind int

const (
	KindUnknown Kind = iota
	// KindRetrievalRequired means a source scene is not available locally.
	// Not fatal; the caller is expected to fetch it and retry.
	KindRetrievalRequired
	// KindStageFailure means an external processing stage invocation failed.
	// Aborts the remaining stage chain for that work item only.
	KindStageFailure
	// KindIntegrityFailure means a downloaded artifact failed checksum
	// verification after the retry budget was exhausted.
	KindIntegrityFailure
	// KindInsufficientCoverage means a burst was dropped by the coverage
	// filter. Informational, not a failure.
	KindInsufficientCoverage
	// KindChainTermination means a burst's date sequence ended; the
	// coherence branch is skipped. Expected, not a failure.
	KindChainTermination
)

// String returns the kind name used in logs and summaries.
func (k Kind) String() string {
	switch k {
	case KindRetrievalRequired:
		return "retrieval-required"
	case KindStageFailure:
		return "stage-failure"
	case KindIntegrityFailure:
		return "integrity-failure"
	case KindInsufficientCoverage:
		return "insufficient-coverage"
	case KindChainTermination:
		return "chain-termination"
	default:
		return "unknown"
	}
}

// PipelineError wraps an error with category, kind and context metadata.
type PipelineError struct {
	Err       error
	Component string
	Category  ErrorCategory
	Kind      Kind
	Context   map[string]any
	Timestamp time.Time
}

// Error implements the error interface.
func (pe *PipelineError) Error() string {
	return pe.Err.Error()
}

// Unwrap implements the error unwrapping interface.
func (pe *PipelineError) Unwrap() error {
	return pe.Err
}

// Is matches on kind when the target is a *PipelineError, otherwise defers
// to the wrapped error chain.
func (pe *PipelineError) Is(target error) bool {
	if other, ok := target.(*PipelineError); ok {
		return pe.Kind == other.Kind && pe.Category == other.Category
	}
	return stderrors.Is(pe.Err, target)
}

// GetContext returns a copy of the context map.
func (pe *PipelineError) GetContext() map[string]any {
	if pe.Context == nil {
		return nil
	}
	cp := make(map[string]any, len(pe.Context))
	maps.Copy(cp, pe.Context)
	return cp
}

// ErrorBuilder provides a fluent interface for constructing pipeline errors.
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	kind      Kind
	context   map[string]any
}

// New starts building a pipeline error around err.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf starts building a pipeline error around a formatted message.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the component name for reporting.
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the error category.
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Kind sets the domain error kind.
func (eb *ErrorBuilder) Kind(kind Kind) *ErrorBuilder {
	eb.kind = kind
	return eb
}

// Context adds a context key/value pair to the error.
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// UnitContext adds burst id and date context, the granularity at which
// pipeline failures are reported.
func (eb *ErrorBuilder) UnitContext(bid, date string) *ErrorBuilder {
	if bid != "" {
		eb.Context("bid", bid)
	}
	if date != "" {
		eb.Context("date", date)
	}
	return eb
}

// Build finalizes the error.
func (eb *ErrorBuilder) Build() *PipelineError {
	pe := &PipelineError{
		Err:       eb.err,
		Component: eb.component,
		Category:  eb.category,
		Kind:      eb.kind,
		Context:   eb.context,
		Timestamp: time.Now(),
	}
	if pe.Component == "" {
		pe.Component = "unknown"
	}
	if pe.Category == "" {
		pe.Category = CategoryGeneric
	}
	return pe
}

// KindOf returns the kind of err if it is (or wraps) a PipelineError.
func KindOf(err error) Kind {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// CategoryOf returns the category of err if it is (or wraps) a
// PipelineError.
func CategoryOf(err error) ErrorCategory {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Category
	}
	return CategoryGeneric
}

// IsRetrievalRequired reports whether err indicates a scene must be fetched
// before processing can continue.
func IsRetrievalRequired(err error) bool {
	return KindOf(err) == KindRetrievalRequired
}

// IsStageFailure reports whether err came from a failed external stage call.
func IsStageFailure(err error) bool {
	return KindOf(err) == KindStageFailure
}

// IsIntegrityFailure reports whether err came from checksum verification.
func IsIntegrityFailure(err error) bool {
	return KindOf(err) == KindIntegrityFailure
}

// Standard library passthroughs so callers only import this package.

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Join wraps a multi-error.
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}
