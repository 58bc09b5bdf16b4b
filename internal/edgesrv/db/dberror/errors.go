// Package dberror defines the stable error kinds surfaced by the storage
// layer. Callers distinguish outcomes with errors.Is against these kinds;
// raw driver errors never cross this boundary.
package dberror

import (
	"github.com/edgestore/edgestore/internal/common/apperrors"
)

var (
	ErrDatabase           apperrors.Error = apperrors.New("db error")
	ErrNotProvisioned     apperrors.Error = ErrDatabase.New("store not provisioned")
	ErrDuplicateVersion   apperrors.Error = ErrDatabase.New("duplicate version")
	ErrChecksumMismatch   apperrors.Error = ErrDatabase.New("checksum mismatch")
	ErrNotFound           apperrors.Error = ErrDatabase.New("not found")
	ErrAlreadyExists      apperrors.Error = ErrDatabase.New("already exists")
	ErrStaleWrite         apperrors.Error = ErrDatabase.New("stale write")
	ErrInvalidPath        apperrors.Error = ErrDatabase.New("invalid path")
	ErrUnauthorized       apperrors.Error = ErrDatabase.New("unauthorized")
	ErrTransactionAborted apperrors.Error = ErrDatabase.New("transaction aborted")
	ErrInvalidInput       apperrors.Error = ErrDatabase.New("invalid input")
)
