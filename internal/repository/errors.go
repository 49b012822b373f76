package repository

import (
	"errors"
	"fmt"
)

// ErrEstablishmentNotFound is wrapped by every NotFoundError about a siret.
var ErrEstablishmentNotFound = errors.New("establishment not found")

// NotFoundError is returned when an update, delete or lookup targets a row
// that does not exist.
type NotFoundError struct {
	Message string
	cause   error
}

func (e *NotFoundError) Error() string { return e.Message }
func (e *NotFoundError) Unwrap() error { return e.cause }

// EstablishmentNotFound builds the NotFoundError for a missing siret.
func EstablishmentNotFound(siret string) *NotFoundError {
	return &NotFoundError{
		Message: fmt.Sprintf("establishment with siret %s not found", siret),
		cause:   ErrEstablishmentNotFound,
	}
}

// OfferNotFound builds the NotFoundError for a missing (siret, appellation) pair.
func OfferNotFound(siret, appellationCode string) *NotFoundError {
	return &NotFoundError{
		Message: fmt.Sprintf("no offer found for siret %s and appellation code %s", siret, appellationCode),
	}
}

// BadRequestError signals caller input the store refuses to process.
type BadRequestError struct{ Message string }

func (e *BadRequestError) Error() string { return e.Message }

// ConflictError signals an attempt to create something that already exists.
type ConflictError struct{ Message string }

func (e *ConflictError) Error() string { return e.Message }

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
