package insights

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// TransactionTypeEarning marks ledger entries that count as guide income.
const TransactionTypeEarning = "earning"

// Assignment is a guide-to-trip pairing.
type Assignment struct {
	ID         uuid.UUID
	GuideID    uuid.UUID
	TripID     uuid.UUID
	BranchID   *uuid.UUID
	CheckInAt  *time.Time
	CheckOutAt *time.Time
	FeeAmount  decimal.NullDecimal
}

// Completed reports whether the guide both checked in and checked out.
func (a Assignment) Completed() bool {
	return a.CheckInAt != nil && a.CheckOutAt != nil
}

// Booking carries the passenger counts of one booking attached to a trip.
type Booking struct {
	ID        uuid.UUID
	TripID    uuid.UUID
	AdultPax  pgtype.Int4
	ChildPax  pgtype.Int4
	InfantPax pgtype.Int4
}

// LedgerEntry is a wallet transaction.
type LedgerEntry struct {
	ID              uuid.UUID
	WalletID        uuid.UUID
	Amount          decimal.NullDecimal
	TransactionType string
	CreatedAt       time.Time
}

// DeductionEntry is a salary deduction applied to a guide.
type DeductionEntry struct {
	ID        uuid.UUID
	GuideID   uuid.UUID
	BranchID  *uuid.UUID
	Amount    decimal.NullDecimal
	CreatedAt time.Time
}

// Review holds the guide rating left on a booking.
type Review struct {
	ID          uuid.UUID
	BookingID   uuid.UUID
	GuideRating pgtype.Float8
}

// Package is the grouping label of the package breakdown.
type Package struct {
	ID   uuid.UUID
	Name string
	City *string
}

// TripPackage joins a trip to its package; Package is nil when the trip has none.
type TripPackage struct {
	TripID  uuid.UUID
	Package *Package
}

// Scope restricts fetches to one actor and, unless global, one branch.
type Scope struct {
	GuideID  uuid.UUID
	BranchID *uuid.UUID
}

// AssignmentQuery selects completed assignments checked in within Range.
type AssignmentQuery struct {
	Scope
	Range Range
	IDs   []uuid.UUID
}

// DeductionQuery selects deductions created within Range.
type DeductionQuery struct {
	Scope
	Range Range
}
