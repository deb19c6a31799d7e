package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnknownOperator  = errors.New("unknown operator")
	ErrUnknownRelation  = errors.New("unknown relation")
	ErrNoConnection     = errors.New("connection not found")
	ErrCollectionLocked = errors.New("collection cannot change after stages are added")
	ErrNoModel          = errors.New("query is not bound to a model")
	ErrNotFound         = errors.New("document not found")
)

// ConfigurationError is returned for invalid use of the builder API. It is
// created at the call site that detects the problem and is never retried.
type ConfigurationError struct {
	Msg string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return "configuration: " + e.Msg
	}
	if e.Msg == "" {
		return "configuration: " + e.Err.Error()
	}
	return fmt.Sprintf("configuration: %s: %s", e.Err, e.Msg)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func configErrorf(err error, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...), Err: err}
}

// ValidationError carries per-field messages from schema validation.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], ", "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

// ConflictError reports a relation cardinality violation, for example a
// second item attached through a has-one relation.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string {
	return e.Msg
}

// StoreError wraps any error surfaced by the backing store. Code is the
// store specific error code when one is known, zero otherwise.
type StoreError struct {
	Op   string
	Code int
	Err  error
}

func (e *StoreError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("store: %s: %s (code %d)", e.Op, e.Err, e.Code)
	}
	return fmt.Sprintf("store: %s: %s", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError wraps err unless it already is a *StoreError.
func NewStoreError(op string, code int, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Code: code, Err: err}
}
