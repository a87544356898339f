// Package errors defines the failure taxonomy shared by sinks, the checkpoint
// store and the orchestrator.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
)

var (
	ErrConfiguration = errors.New("configuration error")
	ErrPayloadShape  = errors.New("payload shape error")
	ErrCASMismatch   = errors.New("checkpoint version mismatch")
	ErrStorage       = errors.New("storage error")
	ErrNotFound      = errors.New("not found")
	ErrTransition    = errors.New("invalid unit state transition")
)

// ConfigurationError is raised for unknown model ids, missing key columns,
// missing connection strings and unsupported run modes. It is never retried.
type ConfigurationError struct {
	Component string
	Field     string
	Message   string
}

func NewConfigurationError(component, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{
		Component: component,
		Message:   fmt.Sprintf(format, args...),
	}
}

func (e *ConfigurationError) WithField(field string) *ConfigurationError {
	e.Field = field
	return e
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Component != "" && e.Field != "":
		return fmt.Sprintf("%s: field '%s': %s", e.Component, e.Field, e.Message)
	case e.Component != "":
		return fmt.Sprintf("%s: %s", e.Component, e.Message)
	default:
		return e.Message
	}
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

func (e *ConfigurationError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusBadRequest, e.Error()).
		AddMetaValue("component", e.Component).
		AddMetaValue("field", e.Field)
}

// PayloadShapeError reports a record whose payload is not a JSON object. It
// fails the containing batch only.
type PayloadShapeError struct {
	EntityType  string
	LogicalID   string
	RecordIndex int
	Got         string
}

func NewPayloadShapeError(entityType, logicalID string, index int, payload any) *PayloadShapeError {
	return &PayloadShapeError{
		EntityType:  entityType,
		LogicalID:   logicalID,
		RecordIndex: index,
		Got:         fmt.Sprintf("%T", payload),
	}
}

func (e *PayloadShapeError) Error() string {
	return fmt.Sprintf("record %d (%s %q): payload must be an object, got %s", e.RecordIndex, e.EntityType, e.LogicalID, e.Got)
}

func (e *PayloadShapeError) Is(target error) bool {
	return target == ErrPayloadShape
}

func (e *PayloadShapeError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusUnprocessableEntity, e.Error()).
		AddMetaValue("entity_type", e.EntityType).
		AddMetaValue("record_index", strconv.Itoa(e.RecordIndex))
}

// CASMismatchError is returned when a conditional write carries a version
// that no longer matches the stored one.
type CASMismatchError struct {
	Key      string
	Expected string
	Current  string
}

func NewCASMismatchError(key, expected, current string) *CASMismatchError {
	return &CASMismatchError{Key: key, Expected: expected, Current: current}
}

func (e *CASMismatchError) Error() string {
	expected := e.Expected
	if expected == "" {
		expected = "<absent>"
	}
	current := e.Current
	if current == "" {
		current = "<absent>"
	}
	return fmt.Sprintf("version mismatch for %s: expected %s, current %s", e.Key, expected, current)
}

func (e *CASMismatchError) Is(target error) bool {
	return target == ErrCASMismatch
}

func (e *CASMismatchError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusConflict, e.Error()).
		AddMetaValue("key", e.Key).
		AddMetaValue("expected_version", e.Expected).
		AddMetaValue("current_version", e.Current)
}

// StorageError wraps a relational, graph or key-value backend failure. The
// cause is preserved for errors.As.
type StorageError struct {
	Backend string
	Op      string
	Err     error
}

func NewStorageError(backend, op string, err error) *StorageError {
	return &StorageError{Backend: backend, Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func (e *StorageError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusBadGateway, e.Error()).
		AddMetaValue("backend", e.Backend).
		AddMetaValue("op", e.Op)
}

// TransitionError rejects an operation that would move a unit through an
// illegal lifecycle step, such as starting a run on a paused unit.
type TransitionError struct {
	UnitID string
	From   string
	To     string
}

func NewTransitionError(unitID, from, to string) *TransitionError {
	return &TransitionError{UnitID: unitID, From: from, To: to}
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("unit %s cannot move from %s to %s", e.UnitID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrTransition
}

func (e *TransitionError) ToHTTPError() *httperror.HTTPError {
	return httperror.NewHTTPError(http.StatusConflict, e.Error()).
		AddMetaValue("unit_id", e.UnitID).
		AddMetaValue("state", e.From)
}

type httpConvertible interface {
	ToHTTPError() *httperror.HTTPError
}

// ToHTTPError maps any error in the taxonomy onto an ectoerror HTTP error. Errors
// that already are HTTP errors pass through; everything else becomes a 500.
func ToHTTPError(err error) error {
	if err == nil {
		return nil
	}
	if httperror.IsHTTPError(err) {
		return err
	}
	var convertible httpConvertible
	if errors.As(err, &convertible) {
		return convertible.ToHTTPError()
	}
	if errors.Is(err, ErrNotFound) {
		return httperror.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return httperror.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// NotFoundf returns an error matching ErrNotFound.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func IsNotFound(err error) bool      { return errors.Is(err, ErrNotFound) }
func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }
func IsPayloadShape(err error) bool  { return errors.Is(err, ErrPayloadShape) }
func IsCASMismatch(err error) bool   { return errors.Is(err, ErrCASMismatch) }
func IsStorage(err error) bool       { return errors.Is(err, ErrStorage) }
func IsTransition(err error) bool    { return errors.Is(err, ErrTransition) }
