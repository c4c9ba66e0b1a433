// Package errs defines the failure kinds a render job can end with.
// Every kind aborts the whole job; callers classify with errors.As or the Is* helpers.
package errs

import (
	"errors"
	"fmt"
)

// ConfigurationError reports invalid input parameters. It is raised before any work is done.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration: " + e.Reason
	}
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

// Configf builds a ConfigurationError for field.
func Configf(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// SourceUnavailableError reports a media reference that could not be fetched, probed or decoded.
type SourceUnavailableError struct {
	Ref string
	Err error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source unavailable: %s: %v", e.Ref, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// Unavailable wraps err as a SourceUnavailableError for ref. A nil err stays nil.
func Unavailable(ref string, err error) error {
	if err == nil {
		return nil
	}
	var sue *SourceUnavailableError
	if errors.As(err, &sue) {
		return err
	}
	return &SourceUnavailableError{Ref: ref, Err: err}
}

// ConsistencyError reports a broken scheduling or reconciliation invariant found at render time.
type ConsistencyError struct {
	What   string
	Detail string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency: %s: %s", e.What, e.Detail)
}

// Inconsistent builds a ConsistencyError.
func Inconsistent(what, format string, args ...any) error {
	return &ConsistencyError{What: what, Detail: fmt.Sprintf(format, args...)}
}

// EncodingError reports an encoder or container failure.
type EncodingError struct {
	Stage  string
	Err    error
	Output string
}

func (e *EncodingError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("encoding (%s): %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("encoding (%s): %v, output: %s", e.Stage, e.Err, e.Output)
}

func (e *EncodingError) Unwrap() error { return e.Err }

func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

func IsSourceUnavailable(err error) bool {
	var target *SourceUnavailableError
	return errors.As(err, &target)
}

func IsConsistency(err error) bool {
	var target *ConsistencyError
	return errors.As(err, &target)
}

func IsEncoding(err error) bool {
	var target *EncodingError
	return errors.As(err, &target)
}
