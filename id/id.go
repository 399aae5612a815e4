// Package id defines TypeID-based identity types for all Governor entities.
//
// Every entity in Governor uses a single ID struct with a prefix that
// identifies the entity type. IDs are K-sortable (UUIDv7-based), globally
// unique, and URL-safe in the format "prefix_suffix".
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

// Prefix constants for all Governor entity types.
const (
	PrefixPlan        Prefix = "plan" // Plan definition
	PrefixOverlay     Prefix = "ovl"  // Tenant entitlement overlay
	PrefixCounter     Prefix = "ctr"  // Usage counter row
	PrefixBudget      Prefix = "bud"  // Budget state row
	PrefixReservation Prefix = "rsv"  // Budget reservation
	PrefixAudit       Prefix = "aud"  // Audit record
	PrefixOperation   Prefix = "op"   // Idempotent operation record
)

// ID is the primary identifier type for all Governor entities.
// It wraps a TypeID providing a prefix-qualified, globally unique,
// sortable, URL-safe identifier in the format "prefix_suffix".
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new globally unique ID with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}

	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string (e.g., "plan_01h2xcejqtf2nbrexx3vqjhp41")
// into an ID. Returns an error if the string is not valid.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}

	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}

	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses a TypeID string and validates that its prefix
// matches the expected value.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}

	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}

	return parsed, nil
}

// MustParse is like Parse but panics on error. Use for hardcoded ID values.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}

	return parsed
}

// ──────────────────────────────────────────────────
// Type aliases
// ──────────────────────────────────────────────────

// PlanID is a type-safe identifier for plan definitions (prefix: "plan").
type PlanID = ID

// OverlayID is a type-safe identifier for tenant overlays (prefix: "ovl").
type OverlayID = ID

// CounterID is a type-safe identifier for usage counter rows (prefix: "ctr").
type CounterID = ID

// BudgetID is a type-safe identifier for budget state rows (prefix: "bud").
type BudgetID = ID

// ReservationID is a type-safe identifier for budget reservations (prefix: "rsv").
type ReservationID = ID

// AuditID is a type-safe identifier for audit records (prefix: "aud").
type AuditID = ID

// OperationID is a type-safe identifier for idempotent operation records (prefix: "op").
type OperationID = ID

// ──────────────────────────────────────────────────
// Convenience constructors
// ──────────────────────────────────────────────────

// NewPlanID generates a new unique plan ID.
func NewPlanID() ID { return New(PrefixPlan) }

// NewOverlayID generates a new unique overlay ID.
func NewOverlayID() ID { return New(PrefixOverlay) }

// NewCounterID generates a new unique counter ID.
func NewCounterID() ID { return New(PrefixCounter) }

// NewBudgetID generates a new unique budget ID.
func NewBudgetID() ID { return New(PrefixBudget) }

// NewReservationID generates a new unique reservation ID.
func NewReservationID() ID { return New(PrefixReservation) }

// NewAuditID generates a new unique audit record ID.
func NewAuditID() ID { return New(PrefixAudit) }

// NewOperationID generates a new unique operation ID.
func NewOperationID() ID { return New(PrefixOperation) }

// ──────────────────────────────────────────────────
// Convenience parsers
// ──────────────────────────────────────────────────

// ParsePlanID parses a string and validates the "plan" prefix.
func ParsePlanID(s string) (ID, error) { return ParseWithPrefix(s, PrefixPlan) }

// ParseOverlayID parses a string and validates the "ovl" prefix.
func ParseOverlayID(s string) (ID, error) { return ParseWithPrefix(s, PrefixOverlay) }

// ParseCounterID parses a string and validates the "ctr" prefix.
func ParseCounterID(s string) (ID, error) { return ParseWithPrefix(s, PrefixCounter) }

// ParseBudgetID parses a string and validates the "bud" prefix.
func ParseBudgetID(s string) (ID, error) { return ParseWithPrefix(s, PrefixBudget) }

// ParseReservationID parses a string and validates the "rsv" prefix.
func ParseReservationID(s string) (ID, error) { return ParseWithPrefix(s, PrefixReservation) }

// ParseAuditID parses a string and validates the "aud" prefix.
func ParseAuditID(s string) (ID, error) { return ParseWithPrefix(s, PrefixAudit) }

// ParseOperationID parses a string and validates the "op" prefix.
func ParseOperationID(s string) (ID, error) { return ParseWithPrefix(s, PrefixOperation) }

// ──────────────────────────────────────────────────
// ID methods
// ──────────────────────────────────────────────────

// String returns the full TypeID string representation (prefix_suffix).
// Returns an empty string for the Nil ID.
func (i ID) String() string {
	if !i.valid {
		return ""
	}

	return i.inner.String()
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}

	return Prefix(i.inner.Prefix())
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool {
	return !i.valid
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}

	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil

		return nil
	}

	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}

	*i = parsed

	return nil
}

// Value implements driver.Valuer for database storage.
// Returns nil for the Nil ID so that optional foreign key columns store NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}

	return i.inner.String(), nil
}

// Scan implements sql.Scanner for database retrieval.
func (i *ID) Scan(src any) error {
	if src == nil {
		*i = Nil

		return nil
	}

	switch v := src.(type) {
	case string:
		if v == "" {
			*i = Nil

			return nil
		}

		return i.UnmarshalText([]byte(v))
	case []byte:
		if len(v) == 0 {
			*i = Nil

			return nil
		}

		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
