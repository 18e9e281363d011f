// Package domain holds the shared domain primitives: typed IDs, fixed-point
// money, and the canonical profile key. Typed IDs are distinct types over
// uuid.UUID so the compiler rejects cross-type assignment (a ReservationID can
// never be passed where a UserID is expected).
package domain

import (
	"github.com/google/uuid"

	dErrors "prism/pkg/domain-errors"
)

// UserID identifies a credit account holder.
type UserID uuid.UUID

// PipelineID correlates every profile of one batch request in results and
// audit entries.
type PipelineID uuid.UUID

// ReservationID identifies a ledger hold pending commit or rollback.
type ReservationID uuid.UUID

// EntryID identifies an audit log entry. Appends are idempotent by EntryID.
type EntryID uuid.UUID

// NewPipelineID returns a fresh random PipelineID.
func NewPipelineID() PipelineID { return PipelineID(uuid.New()) }

// NewReservationID returns a fresh random ReservationID.
func NewReservationID() ReservationID { return ReservationID(uuid.New()) }

// NewEntryID returns a fresh random EntryID.
func NewEntryID() EntryID { return EntryID(uuid.New()) }

func (id UserID) String() string        { return uuid.UUID(id).String() }
func (id PipelineID) String() string    { return uuid.UUID(id).String() }
func (id ReservationID) String() string { return uuid.UUID(id).String() }
func (id EntryID) String() string       { return uuid.UUID(id).String() }

func (id UserID) IsZero() bool        { return uuid.UUID(id) == uuid.Nil }
func (id PipelineID) IsZero() bool    { return uuid.UUID(id) == uuid.Nil }
func (id ReservationID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }
func (id EntryID) IsZero() bool       { return uuid.UUID(id) == uuid.Nil }

// MarshalText renders IDs as canonical UUID strings so they cross JSON
// boundaries (API bodies, outbox payloads) as strings, not byte arrays.
func (id UserID) MarshalText() ([]byte, error)        { return uuid.UUID(id).MarshalText() }
func (id PipelineID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id ReservationID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id EntryID) MarshalText() ([]byte, error)       { return uuid.UUID(id).MarshalText() }

func (id *UserID) UnmarshalText(b []byte) error {
	parsed, err := ParseUserID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *PipelineID) UnmarshalText(b []byte) error {
	parsed, err := ParsePipelineID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *ReservationID) UnmarshalText(b []byte) error {
	parsed, err := ParseReservationID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *EntryID) UnmarshalText(b []byte) error {
	parsed, err := ParseEntryID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// parseUUID enforces the shared parsing invariant: IDs must be valid,
// non-empty, non-nil UUIDs. Every ParseXxx goes through here so all ID types
// validate identically at trust boundaries.
func parseUUID(s, kind string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" must not be empty")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" must not be the nil UUID")
	}
	return parsed, nil
}

// ParseUserID validates and converts a string into a UserID.
func ParseUserID(s string) (UserID, error) {
	parsed, err := parseUUID(s, "user id")
	if err != nil {
		return UserID{}, err
	}
	return UserID(parsed), nil
}

// ParsePipelineID validates and converts a string into a PipelineID.
func ParsePipelineID(s string) (PipelineID, error) {
	parsed, err := parseUUID(s, "pipeline id")
	if err != nil {
		return PipelineID{}, err
	}
	return PipelineID(parsed), nil
}

// ParseReservationID validates and converts a string into a ReservationID.
func ParseReservationID(s string) (ReservationID, error) {
	parsed, err := parseUUID(s, "reservation id")
	if err != nil {
		return ReservationID{}, err
	}
	return ReservationID(parsed), nil
}

// ParseEntryID validates and converts a string into an EntryID.
func ParseEntryID(s string) (EntryID, error) {
	parsed, err := parseUUID(s, "entry id")
	if err != nil {
		return EntryID{}, err
	}
	return EntryID(parsed), nil
}
