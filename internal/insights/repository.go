package insights

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository exposes the read-only record sets the aggregator folds over.
// Implementations return empty slices, never errors, when nothing matches.
type Repository interface {
	CompletedAssignments(ctx context.Context, q AssignmentQuery) ([]Assignment, error)
	TripPackages(ctx context.Context, tripIDs []uuid.UUID) ([]TripPackage, error)
	Bookings(ctx context.Context, tripIDs []uuid.UUID) ([]Booking, error)
	WalletID(ctx context.Context, guideID uuid.UUID) (uuid.UUID, bool, error)
	LedgerEntries(ctx context.Context, walletID uuid.UUID, rng Range) ([]LedgerEntry, error)
	Deductions(ctx context.Context, q DeductionQuery) ([]DeductionEntry, error)
	Reviews(ctx context.Context, bookingIDs []uuid.UUID) ([]Review, error)
}

// PostgresRepository reads the insight record sets from Postgres.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository constructs a repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

var _ Repository = (*PostgresRepository)(nil)

// CompletedAssignments lists assignments with both check-in and check-out set whose
// check-in falls in the query range.
func (r *PostgresRepository) CompletedAssignments(ctx context.Context, q AssignmentQuery) ([]Assignment, error) {
	query := `
		SELECT id, guide_id, trip_id, branch_id, check_in_at, check_out_at, fee_amount
		FROM trip_guides
		WHERE guide_id = $1
		  AND check_in_at IS NOT NULL
		  AND check_out_at IS NOT NULL
		  AND check_in_at >= $2
		  AND check_in_at <= $3`
	args := []any{q.GuideID, q.Range.Start, q.Range.End}
	if q.BranchID != nil {
		args = append(args, *q.BranchID)
		query += fmt.Sprintf(" AND branch_id = $%d", len(args))
	}
	if q.IDs != nil {
		if len(q.IDs) == 0 {
			return []Assignment{}, nil
		}
		args = append(args, q.IDs)
		query += fmt.Sprintf(" AND id = ANY($%d)", len(args))
	}
	query += " ORDER BY check_in_at, id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("insights: query assignments: %w", err)
	}
	defer rows.Close()

	result := make([]Assignment, 0)
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.ID, &a.GuideID, &a.TripID, &a.BranchID, &a.CheckInAt, &a.CheckOutAt, &a.FeeAmount); err != nil {
			return nil, fmt.Errorf("insights: scan assignment: %w", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("insights: iterate assignments: %w", err)
	}
	return result, nil
}

// TripPackages resolves the package of each trip; trips without one carry a nil Package.
func (r *PostgresRepository) TripPackages(ctx context.Context, tripIDs []uuid.UUID) ([]TripPackage, error) {
	if len(tripIDs) == 0 {
		return []TripPackage{}, nil
	}
	const query = `
		SELECT t.id, p.id, p.name, p.city
		FROM trips t
		LEFT JOIN packages p ON p.id = t.package_id
		WHERE t.id = ANY($1)`

	rows, err := r.pool.Query(ctx, query, tripIDs)
	if err != nil {
		return nil, fmt.Errorf("insights: query trip packages: %w", err)
	}
	defer rows.Close()

	result := make([]TripPackage, 0, len(tripIDs))
	for rows.Next() {
		var (
			tripID    uuid.UUID
			packageID *uuid.UUID
			name      *string
			city      *string
		)
		if err := rows.Scan(&tripID, &packageID, &name, &city); err != nil {
			return nil, fmt.Errorf("insights: scan trip package: %w", err)
		}
		tp := TripPackage{TripID: tripID}
		if packageID != nil {
			pkg := &Package{ID: *packageID, City: city}
			if name != nil {
				pkg.Name = *name
			}
			tp.Package = pkg
		}
		result = append(result, tp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("insights: iterate trip packages: %w", err)
	}
	return result, nil
}

// Bookings lists bookings attached to the given trips through trip_bookings.
func (r *PostgresRepository) Bookings(ctx context.Context, tripIDs []uuid.UUID) ([]Booking, error) {
	if len(tripIDs) == 0 {
		return []Booking{}, nil
	}
	const query = `
		SELECT b.id, tb.trip_id, b.adult_pax, b.child_pax, b.infant_pax
		FROM trip_bookings tb
		JOIN bookings b ON b.id = tb.booking_id
		WHERE tb.trip_id = ANY($1)`

	rows, err := r.pool.Query(ctx, query, tripIDs)
	if err != nil {
		return nil, fmt.Errorf("insights: query bookings: %w", err)
	}
	defer rows.Close()

	result := make([]Booking, 0)
	for rows.Next() {
		var b Booking
		if err := rows.Scan(&b.ID, &b.TripID, &b.AdultPax, &b.ChildPax, &b.InfantPax); err != nil {
			return nil, fmt.Errorf("insights: scan booking: %w", err)
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("insights: iterate bookings: %w", err)
	}
	return result, nil
}

// WalletID returns the wallet owned by the guide, reporting false when none exists.
func (r *PostgresRepository) WalletID(ctx context.Context, guideID uuid.UUID) (uuid.UUID, bool, error) {
	const query = `SELECT id FROM guide_wallets WHERE guide_id = $1 LIMIT 1`
	var id uuid.UUID
	if err := r.pool.QueryRow(ctx, query, guideID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("insights: query wallet: %w", err)
	}
	return id, true, nil
}

// LedgerEntries lists wallet transactions created in the range.
func (r *PostgresRepository) LedgerEntries(ctx context.Context, walletID uuid.UUID, rng Range) ([]LedgerEntry, error) {
	const query = `
		SELECT id, wallet_id, amount, transaction_type, created_at
		FROM guide_wallet_transactions
		WHERE wallet_id = $1
		  AND transaction_type = $2
		  AND created_at >= $3
		  AND created_at <= $4`

	rows, err := r.pool.Query(ctx, query, walletID, TransactionTypeEarning, rng.Start, rng.End)
	if err != nil {
		return nil, fmt.Errorf("insights: query ledger: %w", err)
	}
	defer rows.Close()

	result := make([]LedgerEntry, 0)
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.WalletID, &e.Amount, &e.TransactionType, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("insights: scan ledger entry: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("insights: iterate ledger: %w", err)
	}
	return result, nil
}

// Deductions lists salary deductions created in the range.
func (r *PostgresRepository) Deductions(ctx context.Context, q DeductionQuery) ([]DeductionEntry, error) {
	query := `
		SELECT id, guide_id, branch_id, amount, created_at
		FROM salary_deductions
		WHERE guide_id = $1
		  AND created_at >= $2
		  AND created_at <= $3`
	args := []any{q.GuideID, q.Range.Start, q.Range.End}
	if q.BranchID != nil {
		args = append(args, *q.BranchID)
		query += fmt.Sprintf(" AND branch_id = $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("insights: query deductions: %w", err)
	}
	defer rows.Close()

	result := make([]DeductionEntry, 0)
	for rows.Next() {
		var d DeductionEntry
		if err := rows.Scan(&d.ID, &d.GuideID, &d.BranchID, &d.Amount, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("insights: scan deduction: %w", err)
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("insights: iterate deductions: %w", err)
	}
	return result, nil
}

// Reviews lists reviews left on the given bookings.
func (r *PostgresRepository) Reviews(ctx context.Context, bookingIDs []uuid.UUID) ([]Review, error) {
	if len(bookingIDs) == 0 {
		return []Review{}, nil
	}
	const query = `SELECT id, booking_id, guide_rating FROM reviews WHERE booking_id = ANY($1)`

	rows, err := r.pool.Query(ctx, query, bookingIDs)
	if err != nil {
		return nil, fmt.Errorf("insights: query reviews: %w", err)
	}
	defer rows.Close()

	result := make([]Review, 0)
	for rows.Next() {
		var rv Review
		if err := rows.Scan(&rv.ID, &rv.BookingID, &rv.GuideRating); err != nil {
			return nil, fmt.Errorf("insights: scan review: %w", err)
		}
		result = append(result, rv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("insights: iterate reviews: %w", err)
	}
	return result, nil
}

// ActiveGuides lists guides with at least one completed assignment checked in during rng.
func (r *PostgresRepository) ActiveGuides(ctx context.Context, rng Range) ([]uuid.UUID, error) {
	const query = `
		SELECT DISTINCT guide_id
		FROM trip_guides
		WHERE check_in_at IS NOT NULL
		  AND check_out_at IS NOT NULL
		  AND check_in_at >= $1
		  AND check_in_at <= $2
		ORDER BY guide_id`
	rows, err := r.pool.Query(ctx, query, rng.Start, rng.End)
	if err != nil {
		return nil, fmt.Errorf("insights: query active guides: %w", err)
	}
	defer rows.Close()

	guides := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("insights: scan active guide: %w", err)
		}
		guides = append(guides, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("insights: iterate active guides: %w", err)
	}
	return guides, nil
}
