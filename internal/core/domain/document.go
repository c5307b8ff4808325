package domain

import (
	"errors"
	"fmt"
)

// CollectionRef scopes a document collection to its owning user.
type CollectionRef struct {
	UserID     string
	Collection string
}

func (c CollectionRef) String() string {
	return "users/" + c.UserID + "/" + c.Collection
}

// Document is a single stored document: its server-assigned id and fields.
type Document struct {
	ID     string
	Fields map[string]any
}

// ServerTimestamp is a field value sentinel: the store replaces it with its own
// commit time when the write is applied.
type ServerTimestamp struct{}

// StoreCode is the provider-specific failure code of a document store call.
type StoreCode string

const (
	StoreCodePermissionDenied StoreCode = "permission-denied"
	StoreCodeUnavailable      StoreCode = "unavailable"
	StoreCodeNotFound         StoreCode = "not-found"
	StoreCodeUnknown          StoreCode = "unknown"
)

// StoreError is returned by document store adapters.
type StoreError struct {
	Code StoreCode
	Err  error
}

func NewStoreError(code StoreCode, err error) *StoreError {
	return &StoreError{Code: code, Err: err}
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// StoreErrorCode extracts the store code of err, or StoreCodeUnknown.
func StoreErrorCode(err error) StoreCode {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code
	}
	return StoreCodeUnknown
}
