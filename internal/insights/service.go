package insights

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	maxPackageGroups   = 10
	unknownPackageKey  = "unknown"
	unknownPackageName = "Other packages"
	defaultConcurrency = 4
	defaultFlightLimit = 30 * time.Second
	isoTimestampLayout = time.RFC3339
)

// ErrRepositoryNotConfigured is returned when the service has no record source.
var ErrRepositoryNotConfigured = errors.New("insights: repository not configured")

// ServiceConfig tunes the aggregation.
type ServiceConfig struct {
	// Location is the calendar used to resolve months; defaults to UTC.
	Location *time.Location
	// Concurrency bounds parallel bucket computations; defaults to 4.
	Concurrency int
	// Recorder receives report timings and cache outcomes; optional.
	Recorder Recorder
	// FlightTimeout bounds a shared computation; defaults to 30s.
	FlightTimeout time.Duration
}

// Recorder observes report builds.
type Recorder interface {
	ObserveReport(outcome string, elapsed time.Duration)
	ObserveCache(hit bool)
}

type nopRecorder struct{}

func (nopRecorder) ObserveReport(string, time.Duration) {}
func (nopRecorder) ObserveCache(bool)                   {}

// Service assembles monthly guide reports from the repository.
type Service struct {
	repo        Repository
	cache       *Cache
	loc         *time.Location
	concurrency int
	recorder    Recorder
	flights     singleflight.Group
	flightLimit time.Duration
	mu          sync.Mutex
	waiting     map[string]*flight
	generation  uint64
	now         func() time.Time
}

// flight is a shared computation and the callers still waiting on it.
type flight struct {
	key     string
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// NewService wires a Repository with an optional Cache.
func NewService(repo Repository, cache *Cache, cfg ServiceConfig) *Service {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	flightLimit := cfg.FlightTimeout
	if flightLimit <= 0 {
		flightLimit = defaultFlightLimit
	}
	var recorder Recorder = nopRecorder{}
	if cfg.Recorder != nil {
		recorder = cfg.Recorder
	}
	return &Service{
		repo:        repo,
		cache:       cache,
		loc:         loc,
		concurrency: concurrency,
		recorder:    recorder,
		flightLimit: flightLimit,
		waiting:     map[string]*flight{},
		now:         time.Now,
	}
}

// Request selects the actor, branch scope and month of a report.
type Request struct {
	Scope
	// Month is a YYYY-MM selector; empty means the current month.
	Month string
}

// Summary holds the month-level totals.
type Summary struct {
	TotalTrips     int     `json:"totalTrips"`
	TotalGuests    int     `json:"totalGuests"`
	TotalIncome    float64 `json:"totalIncome"`
	TotalPenalties float64 `json:"totalPenalties"`
	AverageRating  float64 `json:"averageRating"`
	TotalRatings   int     `json:"totalRatings"`
}

// WeekBreakdown holds the totals of one weekly bucket.
type WeekBreakdown struct {
	Week      int     `json:"week"`
	WeekStart string  `json:"weekStart"`
	WeekEnd   string  `json:"weekEnd"`
	Trips     int     `json:"trips"`
	Guests    int     `json:"guests"`
	Income    float64 `json:"income"`
	Penalties float64 `json:"penalties"`
}

// PackageBreakdown holds the totals of one package group.
type PackageBreakdown struct {
	PackageID   *uuid.UUID `json:"packageId"`
	PackageName string     `json:"packageName"`
	City        *string    `json:"city"`
	Trips       int        `json:"trips"`
	Guests      int        `json:"guests"`
	Income      float64    `json:"income"`
}

// Report is the monthly insights payload.
type Report struct {
	Month            string             `json:"month"`
	Summary          Summary            `json:"summary"`
	PreviousMonth    *Summary           `json:"previousMonth,omitempty"`
	WeeklyBreakdown  []WeekBreakdown    `json:"weeklyBreakdown"`
	PackageBreakdown []PackageBreakdown `json:"packageBreakdown"`
}

// Location returns the calendar months are resolved in.
func (s *Service) Location() *time.Location {
	return s.loc
}

// ResolveMonth resolves a selector against the service clock.
func (s *Service) ResolveMonth(raw string) Month {
	return ResolveMonth(raw, s.now().In(s.loc))
}

// Monthly computes the report for the requested month. Finished months are served
// from the cache when one is configured; the current month is always computed live.
func (s *Service) Monthly(ctx context.Context, req Request) (report Report, err error) {
	if s.repo == nil {
		return Report{}, ErrRepositoryNotConfigured
	}
	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		s.recorder.ObserveReport(outcome, time.Since(start))
	}()
	now := s.now().In(s.loc)
	month := ResolveMonth(req.Month, now)
	flightKey := keyMonthly(req.Scope, month)

	value, err := s.dedupe(ctx, flightKey, func(ctx context.Context) (any, error) {
		if s.cache == nil || !month.Before(now) {
			return s.build(ctx, req.Scope, month, now)
		}
		key, err := s.cache.BuildKey(ctx, flightKey)
		if err != nil {
			return Report{}, err
		}
		var cached Report
		loaded := false
		err = s.cache.FetchJSON(ctx, key, &cached, func(ctx context.Context) (any, error) {
			loaded = true
			return s.build(ctx, req.Scope, month, now)
		})
		if err == nil {
			s.recorder.ObserveCache(!loaded)
		}
		return cached, err
	})
	if err != nil {
		return Report{}, err
	}
	return value.(Report), nil
}

// dedupe collapses identical concurrent requests into one computation. The
// computation is detached from any single caller: a caller that goes away only
// stops waiting, and the work is cancelled once no caller is left.
func (s *Service) dedupe(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	f, resultChan := s.join(ctx, key, fn)
	defer s.leave(key, f)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		return res.Val, res.Err
	}
}

// join registers the caller on the flight for key, starting one when none is
// running, and attaches it to the shared result.
func (s *Service) join(ctx context.Context, key string, fn func(context.Context) (any, error)) (*flight, <-chan singleflight.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.waiting[key]
	if !ok {
		// A cancelled flight is never rejoined, so each flight gets its own
		// singleflight key.
		s.generation++
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{key: fmt.Sprintf("%s#%d", key, s.generation), ctx: fctx, cancel: cancel}
		s.waiting[key] = f
	}
	f.waiters++
	resultChan := s.flights.DoChan(f.key, func() (any, error) {
		runCtx, cancel := context.WithTimeout(f.ctx, s.flightLimit)
		defer cancel()
		return fn(runCtx)
	})
	return f, resultChan
}

func (s *Service) leave(key string, f *flight) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	delete(s.waiting, key)
}

func (s *Service) build(ctx context.Context, scope Scope, month Month, now time.Time) (Report, error) {
	walletID, hasWallet, err := s.repo.WalletID(ctx, scope.GuideID)
	if err != nil {
		return Report{}, err
	}
	wallet := walletRef{id: walletID, ok: hasWallet}

	report := Report{Month: month.String()}
	weeks := month.Weeks()
	report.WeeklyBreakdown = make([]WeekBreakdown, len(weeks))
	var previous *Summary

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	g.Go(func() error {
		summary, err := s.summarize(gctx, scope, month.Range(), wallet)
		if err != nil {
			return fmt.Errorf("summary %s: %w", month, err)
		}
		report.Summary = summary
		return nil
	})
	for i, week := range weeks {
		i, week := i, week
		g.Go(func() error {
			row, err := s.weekBreakdown(gctx, scope, week, wallet)
			if err != nil {
				return fmt.Errorf("week %d: %w", week.Index, err)
			}
			report.WeeklyBreakdown[i] = row
			return nil
		})
	}
	g.Go(func() error {
		packages, err := s.packageBreakdown(gctx, scope, month.Range())
		if err != nil {
			return fmt.Errorf("packages %s: %w", month, err)
		}
		report.PackageBreakdown = packages
		return nil
	})
	if !month.IsCurrent(now) {
		prev := month.Previous()
		g.Go(func() error {
			summary, err := s.summarize(gctx, scope, prev.Range(), wallet)
			if err != nil {
				return fmt.Errorf("previous month %s: %w", prev, err)
			}
			previous = &summary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	report.PreviousMonth = previous
	return report, nil
}

type walletRef struct {
	id uuid.UUID
	ok bool
}

func (s *Service) summarize(ctx context.Context, scope Scope, rng Range, wallet walletRef) (Summary, error) {
	assignments, err := s.repo.CompletedAssignments(ctx, AssignmentQuery{Scope: scope, Range: rng})
	if err != nil {
		return Summary{}, err
	}
	bookings, err := s.repo.Bookings(ctx, tripIDs(assignments))
	if err != nil {
		return Summary{}, err
	}
	income, err := s.income(ctx, wallet, rng)
	if err != nil {
		return Summary{}, err
	}
	penalties, err := s.penalties(ctx, scope, rng)
	if err != nil {
		return Summary{}, err
	}
	reviews, err := s.repo.Reviews(ctx, bookingIDs(bookings))
	if err != nil {
		return Summary{}, err
	}
	avg, count := AverageRating(reviews)
	return Summary{
		TotalTrips:     len(assignments),
		TotalGuests:    SumPax(bookings),
		TotalIncome:    income,
		TotalPenalties: penalties,
		AverageRating:  avg,
		TotalRatings:   count,
	}, nil
}

func (s *Service) weekBreakdown(ctx context.Context, scope Scope, week Week, wallet walletRef) (WeekBreakdown, error) {
	assignments, err := s.repo.CompletedAssignments(ctx, AssignmentQuery{Scope: scope, Range: week.Range})
	if err != nil {
		return WeekBreakdown{}, err
	}
	bookings, err := s.repo.Bookings(ctx, tripIDs(assignments))
	if err != nil {
		return WeekBreakdown{}, err
	}
	income, err := s.income(ctx, wallet, week.Range)
	if err != nil {
		return WeekBreakdown{}, err
	}
	penalties, err := s.penalties(ctx, scope, week.Range)
	if err != nil {
		return WeekBreakdown{}, err
	}
	return WeekBreakdown{
		Week:      week.Index,
		WeekStart: week.Range.Start.Format(isoTimestampLayout),
		WeekEnd:   week.Range.End.Format(isoTimestampLayout),
		Trips:     len(assignments),
		Guests:    SumPax(bookings),
		Income:    income,
		Penalties: penalties,
	}, nil
}

type packageGroup struct {
	key           string
	pkg           *Package
	assignmentIDs []uuid.UUID
	tripIDs       []uuid.UUID
}

func (s *Service) packageBreakdown(ctx context.Context, scope Scope, rng Range) ([]PackageBreakdown, error) {
	assignments, err := s.repo.CompletedAssignments(ctx, AssignmentQuery{Scope: scope, Range: rng})
	if err != nil {
		return nil, err
	}
	if len(assignments) == 0 {
		return []PackageBreakdown{}, nil
	}
	trips, err := s.repo.TripPackages(ctx, tripIDs(assignments))
	if err != nil {
		return nil, err
	}
	groups := groupByPackage(assignments, trips)

	rows := make([]PackageBreakdown, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, group := range groups {
		i, group := i, group
		g.Go(func() error {
			bookings, err := s.repo.Bookings(gctx, group.tripIDs)
			if err != nil {
				return err
			}
			scoped, err := s.repo.CompletedAssignments(gctx, AssignmentQuery{Scope: scope, Range: rng, IDs: group.assignmentIDs})
			if err != nil {
				return err
			}
			rows[i] = group.breakdown(SumPax(bookings), SumFees(scoped).InexactFloat64())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rankPackages(rows), nil
}

// groupByPackage buckets assignments by their trip's package in first-appearance order.
func groupByPackage(assignments []Assignment, trips []TripPackage) []*packageGroup {
	byTrip := make(map[uuid.UUID]*Package, len(trips))
	for _, tp := range trips {
		byTrip[tp.TripID] = tp.Package
	}
	index := make(map[string]*packageGroup)
	var groups []*packageGroup
	for _, a := range assignments {
		pkg := byTrip[a.TripID]
		key := unknownPackageKey
		if pkg != nil {
			key = pkg.ID.String()
		}
		group, ok := index[key]
		if !ok {
			group = &packageGroup{key: key, pkg: pkg}
			index[key] = group
			groups = append(groups, group)
		}
		group.assignmentIDs = append(group.assignmentIDs, a.ID)
		if !slices.Contains(group.tripIDs, a.TripID) {
			group.tripIDs = append(group.tripIDs, a.TripID)
		}
	}
	return groups
}

func (g *packageGroup) breakdown(guests int, income float64) PackageBreakdown {
	row := PackageBreakdown{
		PackageName: unknownPackageName,
		Trips:       len(g.assignmentIDs),
		Guests:      guests,
		Income:      income,
	}
	if g.pkg != nil {
		id := g.pkg.ID
		row.PackageID = &id
		row.PackageName = g.pkg.Name
		row.City = g.pkg.City
	}
	return row
}

// rankPackages orders groups by trips descending, keeping input order on ties, and keeps the top ten.
func rankPackages(rows []PackageBreakdown) []PackageBreakdown {
	slices.SortStableFunc(rows, func(a, b PackageBreakdown) int {
		return b.Trips - a.Trips
	})
	if len(rows) > maxPackageGroups {
		rows = rows[:maxPackageGroups]
	}
	return rows
}

func (s *Service) income(ctx context.Context, wallet walletRef, rng Range) (float64, error) {
	if !wallet.ok {
		return 0, nil
	}
	entries, err := s.repo.LedgerEntries(ctx, wallet.id, rng)
	if err != nil {
		return 0, err
	}
	return SumLedger(entries).InexactFloat64(), nil
}

func (s *Service) penalties(ctx context.Context, scope Scope, rng Range) (float64, error) {
	entries, err := s.repo.Deductions(ctx, DeductionQuery{Scope: scope, Range: rng})
	if err != nil {
		return 0, err
	}
	return SumDeductions(entries).InexactFloat64(), nil
}

func tripIDs(assignments []Assignment) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(assignments))
	seen := make(map[uuid.UUID]struct{}, len(assignments))
	for _, a := range assignments {
		if _, ok := seen[a.TripID]; ok {
			continue
		}
		seen[a.TripID] = struct{}{}
		ids = append(ids, a.TripID)
	}
	return ids
}

func bookingIDs(bookings []Booking) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(bookings))
	seen := make(map[uuid.UUID]struct{}, len(bookings))
	for _, b := range bookings {
		if _, ok := seen[b.ID]; ok {
			continue
		}
		seen[b.ID] = struct{}{}
		ids = append(ids, b.ID)
	}
	return ids
}
