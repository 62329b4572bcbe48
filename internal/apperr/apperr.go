// Package apperr defines the error taxonomy shared by the scheduler,
// resource ledger, and run manager.
package apperr

import (
	"errors"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// Sentinel errors. Callers match with errors.Is.
var (
	// ErrNotFound means a referenced node, job, or run does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState means a lifecycle transition is not legal from the
	// current status.
	ErrInvalidState = errors.New("invalid state")

	// ErrInsufficientResource means a VRAM reservation does not fit on the
	// requested node.
	ErrInsufficientResource = errors.New("insufficient resource")

	// ErrUnauthorized means the caller used a disabled node.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTransient means the storage layer failed in a retryable way.
	ErrTransient = errors.New("transient storage failure")

	// ErrTimeout means a lock had already expired when it was encountered.
	// No code path returns it yet; it is reserved so workers that start
	// reporting expired-lock races have a stable sentinel to match on.
	ErrTimeout = errors.New("lock expired")
)

// Classify maps storage-layer errors onto the taxonomy. GORM's record-not-found
// becomes ErrNotFound; MySQL driver and connection errors become ErrTransient.
// Errors already carrying a sentinel pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{
		ErrNotFound, ErrInvalidState, ErrInsufficientResource,
		ErrUnauthorized, ErrTransient, ErrTimeout,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Join(ErrNotFound, err)
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return errors.Join(ErrTransient, err)
	}
	if errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, gorm.ErrInvalidDB) {
		return errors.Join(ErrTransient, err)
	}
	return err
}
