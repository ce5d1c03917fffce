package sqlmap

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	ErrMalformedTemplate = errors.New("sqlmap: malformed template")
	ErrMissingParameter  = errors.New("sqlmap: missing parameter")
	ErrUnmappableType    = errors.New("sqlmap: unmappable type")
	ErrMissingColumn     = errors.New("sqlmap: missing column")
	ErrTypeCoercion      = errors.New("sqlmap: type coercion failed")
	ErrMultipleResults   = errors.New("sqlmap: more than one row")
	ErrExecution         = errors.New("sqlmap: execution failed")
)

// TemplateError reports SQL text that cannot be turned into a Template.
// Pos is the byte offset of the offending character, or -1.
type TemplateError struct {
	Pos    int
	Reason string
}

func (e *TemplateError) Error() string {
	if e.Pos < 0 {
		return fmt.Sprintf("%v: %s", ErrMalformedTemplate, e.Reason)
	}
	return fmt.Sprintf("%v: %s at offset %d", ErrMalformedTemplate, e.Reason, e.Pos)
}

func (e *TemplateError) Is(target error) bool { return target == ErrMalformedTemplate }

// MissingParameterError names a placeholder the binding source could not resolve.
type MissingParameterError struct {
	Name string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("%v: :%s", ErrMissingParameter, e.Name)
}

func (e *MissingParameterError) Is(target error) bool { return target == ErrMissingParameter }

// UnmappableTypeError reports a record type whose declared shape cannot be
// built from any result.
type UnmappableTypeError struct {
	Type   reflect.Type
	Reason string
}

func (e *UnmappableTypeError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrUnmappableType, typeName(e.Type), e.Reason)
}

func (e *UnmappableTypeError) Is(target error) bool { return target == ErrUnmappableType }

// MissingColumnError reports a record field with no matching column in an
// actual result.
type MissingColumnError struct {
	Type   reflect.Type
	Field  string
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("%v: %s.%s expects column %q", ErrMissingColumn, typeName(e.Type), e.Field, e.Column)
}

func (e *MissingColumnError) Is(target error) bool { return target == ErrMissingColumn }

// CoercionError reports a column value that cannot be converted to the
// declared field type.
type CoercionError struct {
	Column string
	From   string
	To     string
	Err    error
}

func (e *CoercionError) Error() string {
	msg := fmt.Sprintf("%v: column %q: %s -> %s", ErrTypeCoercion, e.Column, e.From, e.To)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CoercionError) Is(target error) bool { return target == ErrTypeCoercion }

func (e *CoercionError) Unwrap() error { return e.Err }

// ExecutionError wraps a failure reported by the driver or the store.
// Index is the position of the failing statement inside an ExecuteAll call,
// or -1 for single statements.
type ExecutionError struct {
	Op    string
	SQL   string
	Index int
	Err   error
}

func (e *ExecutionError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("%v: %s #%d: %v", ErrExecution, e.Op, e.Index, e.Err)
	}
	return fmt.Sprintf("%v: %s: %v", ErrExecution, e.Op, e.Err)
}

func (e *ExecutionError) Is(target error) bool { return target == ErrExecution }

func (e *ExecutionError) Unwrap() error { return e.Err }

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
