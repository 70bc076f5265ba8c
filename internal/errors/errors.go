// Package errors provides categorized, component-tagged errors for the alert
// engine. It mirrors the standard library's errors helpers so callers can
// import it in place of "errors".
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"sync"
	"time"
)

// Category groups errors by how callers should react to them.
type Category string

const (
	CategoryGeneric       Category = "generic"
	CategoryValidation    Category = "validation"
	CategoryNotFound      Category = "not-found"
	CategoryUnknownMetric Category = "unknown-metric"
	CategoryIllegalState  Category = "illegal-state"
	CategoryNotRetryable  Category = "not-retryable"
	CategoryDatabase      Category = "database"
	CategoryCollector     Category = "collector"
	CategoryNotification  Category = "notification"
	CategoryConfiguration Category = "configuration"
)

// categoryError is a sentinel matched by any EnhancedError of the same category.
type categoryError struct {
	category Category
}

func (c *categoryError) Error() string {
	return string(c.category)
}

// Category sentinels for use with errors.Is.
var (
	ErrValidation    error = &categoryError{CategoryValidation}
	ErrNotFound      error = &categoryError{CategoryNotFound}
	ErrUnknownMetric error = &categoryError{CategoryUnknownMetric}
	ErrIllegalState  error = &categoryError{CategoryIllegalState}
	ErrNotRetryable  error = &categoryError{CategoryNotRetryable}
)

// EnhancedError carries a category, the reporting component and free-form
// context alongside the wrapped error.
type EnhancedError struct {
	Err       error
	component string
	category  Category
	context   map[string]any
	Timestamp time.Time
}

func (e *EnhancedError) Error() string {
	if e.Err == nil {
		return string(e.category)
	}
	return e.Err.Error()
}

func (e *EnhancedError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's category.
func (e *EnhancedError) Is(target error) bool {
	var ce *categoryError
	if stderrors.As(target, &ce) {
		return ce.category == e.category
	}
	return false
}

// GetComponent returns the component that raised the error.
func (e *EnhancedError) GetComponent() string {
	return e.component
}

// GetCategory returns the error category.
func (e *EnhancedError) GetCategory() Category {
	return e.category
}

// GetContext returns a copy of the error's context data.
func (e *EnhancedError) GetContext() map[string]any {
	return maps.Clone(e.context)
}

// ErrorBuilder assembles an EnhancedError.
type ErrorBuilder struct {
	err       error
	component string
	category  Category
	context   map[string]any
}

// New starts a builder wrapping err.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err, category: CategoryGeneric}
}

// Newf starts a builder from a formatted message. %w verbs wrap as in fmt.Errorf.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the reporting component.
func (b *ErrorBuilder) Component(component string) *ErrorBuilder {
	b.component = component
	return b
}

// Category sets the error category.
func (b *ErrorBuilder) Category(category Category) *ErrorBuilder {
	b.category = category
	return b
}

// Context attaches a key/value pair.
func (b *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if b.context == nil {
		b.context = make(map[string]any)
	}
	b.context[key] = value
	return b
}

// Build finalizes the error and hands it to the registered reporter.
func (b *ErrorBuilder) Build() error {
	ee := &EnhancedError{
		Err:       b.err,
		component: b.component,
		category:  b.category,
		context:   b.context,
		Timestamp: time.Now(),
	}
	report(ee)
	return ee
}

// Reporter receives built errors, e.g. to forward them to telemetry.
type Reporter func(ee *EnhancedError)

var (
	reporter   Reporter
	reporterMu sync.RWMutex
)

// SetReporter installs the global error reporter. A nil reporter disables reporting.
func SetReporter(r Reporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	reporter = r
}

func report(ee *EnhancedError) {
	reporterMu.RLock()
	r := reporter
	reporterMu.RUnlock()
	if r != nil && !IsClientError(ee) {
		r(ee)
	}
}

// IsClientError reports whether err stems from caller input or a legal
// lifecycle refusal rather than a system fault.
func IsClientError(err error) bool {
	return Is(err, ErrValidation) || Is(err, ErrNotFound) || Is(err, ErrUnknownMetric) ||
		Is(err, ErrIllegalState) || Is(err, ErrNotRetryable)
}

// CategoryOf returns the category of the first EnhancedError in err's chain.
func CategoryOf(err error) Category {
	var ee *EnhancedError
	if As(err, &ee) {
		return ee.category
	}
	return CategoryGeneric
}

// Is is errors.Is from the standard library.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As is errors.As from the standard library.
func As(err error, target any) bool { return stderrors.As(err, target) }

// Unwrap is errors.Unwrap from the standard library.
func Unwrap(err error) error { return stderrors.Unwrap(err) }

// Join is errors.Join from the standard library.
func Join(errs ...error) error { return stderrors.Join(errs...) }

// NewStd creates a plain error, for sentinels.
func NewStd(text string) error { return stderrors.New(text) }
