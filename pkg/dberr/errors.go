// Package dberr defines the failure kinds surfaced by the storage kernel.
//
// Errors are returned wrapped with context (fmt.Errorf("%w: ...")) at the
// point of detection; callers classify them with errors.Is.
package dberr

import (
	"errors"
	"fmt"
)

var (
	// ErrIO covers short reads/writes, open failures and offsets outside the
	// file's current extent.
	ErrIO = errors.New("i/o error")

	ErrInsufficientSpace = errors.New("insufficient space in page")
	ErrInvalidSlot       = errors.New("invalid slot")
	ErrPoolExhausted     = errors.New("buffer pool exhausted: all frames are pinned")
	ErrProtocolMisuse    = errors.New("buffer pool protocol misuse")

	ErrCorruptPage = errors.New("corrupt page image")
	ErrCorruptFile = errors.New("corrupt database file")
)

// Refinements of the kinds above. Each one matches its parent with errors.Is.
var (
	ErrRecordTooLarge  = fmt.Errorf("%w: record larger than a page can hold", ErrInsufficientSpace)
	ErrPageNotResident = fmt.Errorf("%w: page not resident", ErrProtocolMisuse)
	ErrStaleHandle     = fmt.Errorf("%w: page handle no longer owns its frame", ErrProtocolMisuse)
	ErrPinCountZero    = fmt.Errorf("%w: pin count already zero", ErrProtocolMisuse)
	ErrPinnedDirty     = fmt.Errorf("%w: dirty page still pinned", ErrProtocolMisuse)
	ErrInvalidRecordID = fmt.Errorf("%w: record id outside the file", ErrInvalidSlot)
	ErrGuardReleased   = fmt.Errorf("%w: page guard already released", ErrProtocolMisuse)
)

// IsFatal reports whether err means the database file can no longer be
// trusted. ErrPoolExhausted is not fatal: the pool is unusable only until
// the caller releases a pin, after which the same fix succeeds. Misuse kinds
// are caller bugs, not damage to the file.
func IsFatal(err error) bool {
	return errors.Is(err, ErrIO) || errors.Is(err, ErrCorruptPage) || errors.Is(err, ErrCorruptFile)
}
