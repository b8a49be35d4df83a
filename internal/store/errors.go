package store

import (
	"errors"

	"github.com/ncruces/go-sqlite3"
)

// Common errors returned by store operations.
//
// These errors can be checked using errors.Is() for proper handling:
//
//	if errors.Is(err, store.ErrDuplicateRecord) {
//	    // Surface to the user; nothing was written.
//	}
var (
	// ErrDuplicateRecord is returned when creating a record for an
	// (office, level, date) triple that already has a non-purged
	// record. The attempted write is fully rolled back.
	ErrDuplicateRecord = errors.New("attendance record already exists for this office, level and date")

	// ErrRecordNotFound is returned when a mutation targets a record
	// UUID that does not exist. Plain lookups do not return it; a
	// lookup miss is an empty result.
	ErrRecordNotFound = errors.New("attendance record not found")

	// ErrUnknownOffice is returned when a save references an office
	// that is not in the local reference cache.
	ErrUnknownOffice = errors.New("office not found in local cache")

	// ErrUnknownLevel is returned when a save references a level
	// that is not in the local reference cache.
	ErrUnknownLevel = errors.New("level not found in local cache")

	// ErrStorageFull is returned when the local database cannot grow.
	// Fatal to the operation; both halves of the atomic write unit
	// are rolled back.
	ErrStorageFull = errors.New("local storage is full")

	// ErrStorageCorrupt is returned when the local database reports
	// corruption. Fatal to the operation, recoverable only by
	// re-initializing from the remote.
	ErrStorageCorrupt = errors.New("local storage is corrupted")
)

// classify maps low-level SQLite failures onto the store's sentinel
// errors so callers never need to import the driver. Unrecognized
// errors pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var serr *sqlite3.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case sqlite3.FULL:
			return errors.Join(ErrStorageFull, err)
		case sqlite3.CORRUPT, sqlite3.NOTADB:
			return errors.Join(ErrStorageCorrupt, err)
		}
	}
	return err
}

// IsFatal returns true if the error indicates a non-recoverable
// storage state that requires manual intervention.
func IsFatal(err error) bool {
	return errors.Is(err, ErrStorageFull) || errors.Is(err, ErrStorageCorrupt)
}

// IsUserCorrectable returns true if the error can be resolved by the
// user changing their input, as opposed to a storage-layer failure.
func IsUserCorrectable(err error) bool {
	return errors.Is(err, ErrDuplicateRecord) ||
		errors.Is(err, ErrRecordNotFound) ||
		errors.Is(err, ErrUnknownOffice) ||
		errors.Is(err, ErrUnknownLevel)
}
