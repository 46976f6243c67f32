// internal/chaos/experiments.go
package chaos

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"booknet/internal/apperr"
	"booknet/internal/catalog"
	"booknet/internal/circulation"
	"booknet/internal/identity"
)

// Auditor measures data consistency across the loan and book tables.
type Auditor interface {
	// DuplicateOpenLoans counts (book, borrower) pairs with more than one
	// loan whose return is not approved.
	DuplicateOpenLoans(ctx context.Context) (int, error)
	// VersionDrift counts books and loans whose version differs from the
	// number of events recorded for them.
	VersionDrift(ctx context.Context) (int, error)
}

// Fixture is the system under test: the services plus an owner and a
// borrower who already exist.
type Fixture struct {
	Catalog     catalog.Service
	Circulation circulation.Service
	Auditor     Auditor
	Owner       identity.Identity
	Borrower    identity.Identity
	Concurrency int
	Duration    time.Duration
}

// RegisterExperiments registers the predefined experiments for f.
func (e *Engine) RegisterExperiments(f Fixture) {
	e.Register(LoanRaceExperiment(f))
	e.Register(ToggleStormExperiment(f))
}

func consistencyProbes(a Auditor) []Probe {
	return []Probe{
		{
			Name: "duplicate_open_loans",
			Query: func(ctx context.Context) (float64, error) {
				n, err := a.DuplicateOpenLoans(ctx)
				return float64(n), err
			},
			Threshold: Threshold{Operator: "==", Value: 0},
		},
		{
			Name: "version_drift",
			Query: func(ctx context.Context) (float64, error) {
				n, err := a.VersionDrift(ctx)
				return float64(n), err
			},
			Threshold: Threshold{Operator: "==", Value: 0},
		},
	}
}

func consistencyAssertions() []Assertion {
	return []Assertion{
		{
			Probe:     "duplicate_open_loans",
			Condition: func(v float64) bool { return v == 0 },
			Message:   "No borrower may hold two open loans of the same book",
		},
		{
			Probe:     "version_drift",
			Condition: func(v float64) bool { return v == 0 },
			Message:   "Every state change must be recorded as exactly one event",
		},
	}
}

// outcomes tallies the result of concurrent calls by apperr kind.
type outcomes struct {
	mu     sync.Mutex
	counts map[apperr.Kind]int
	ok     int
	other  []error
}

func (o *outcomes) record(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err == nil {
		o.ok++
		return
	}
	k := apperr.KindOf(err)
	if k == "" {
		o.other = append(o.other, err)
		return
	}
	if o.counts == nil {
		o.counts = make(map[apperr.Kind]int)
	}
	o.counts[k]++
}

// expectOne fails unless exactly one call succeeded and every other call
// was rejected with one of the allowed kinds.
func (o *outcomes) expectOne(op string, allowed ...apperr.Kind) error {
	if len(o.other) > 0 {
		return fmt.Errorf("%s: unclassified failure: %w", op, o.other[0])
	}
	if o.ok != 1 {
		return fmt.Errorf("%s: %d calls succeeded, want 1", op, o.ok)
	}
	for k, n := range o.counts {
		if !containsKind(allowed, k) {
			return fmt.Errorf("%s: %d calls failed with unexpected kind %q", op, n, k)
		}
	}
	return nil
}

func containsKind(kinds []apperr.Kind, k apperr.Kind) bool {
	for _, c := range kinds {
		if c == k {
			return true
		}
	}
	return false
}

// hammer calls fn from n goroutines released at the same time.
func hammer(n int, fn func() error) *outcomes {
	var (
		out   outcomes
		wg    sync.WaitGroup
		start = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			out.record(fn())
		}()
	}
	close(start)
	wg.Wait()
	return &out
}

// LoanRaceExperiment drives one book through borrow, return and approval
// with every step attempted concurrently by the same caller.
func LoanRaceExperiment(f Fixture) Experiment {
	var bookID uuid.UUID

	return Experiment{
		Name:        "concurrent-loan-transitions",
		Hypothesis:  "Concurrent duplicates of a loan transition apply exactly once",
		SteadyState: consistencyProbes(f.Auditor),
		Method: []Action{
			{
				Type:   "seed",
				Target: "catalog",
				Execute: func(ctx context.Context) error {
					id, err := f.Catalog.Create(ctx, f.Owner, catalog.BookRequest{
						Title:      "Chaos Monkey Field Guide " + uuid.NewString()[:8],
						AuthorName: "Game Day",
						ISBN:       "0000000000",
						Shareable:  true,
					})
					bookID = id
					return err
				},
			},
			{
				Type:   "concurrent-requests",
				Target: "circulation.borrow",
				Execute: func(ctx context.Context) error {
					out := hammer(f.Concurrency, func() error {
						_, err := f.Circulation.Borrow(ctx, f.Borrower, bookID)
						return err
					})
					return out.expectOne("borrow", apperr.KindConflict)
				},
			},
			{
				Type:   "concurrent-requests",
				Target: "circulation.return",
				Execute: func(ctx context.Context) error {
					out := hammer(f.Concurrency, func() error {
						_, err := f.Circulation.Return(ctx, f.Borrower, bookID)
						return err
					})
					return out.expectOne("return", apperr.KindConflict, apperr.KindPermissionDenied)
				},
			},
			{
				Type:   "concurrent-requests",
				Target: "circulation.approve",
				Execute: func(ctx context.Context) error {
					out := hammer(f.Concurrency, func() error {
						_, err := f.Circulation.ApproveReturn(ctx, f.Owner, bookID)
						return err
					})
					return out.expectOne("approve", apperr.KindConflict, apperr.KindPermissionDenied)
				},
			},
		},
		Rollback: []Action{
			{
				Type:   "archive",
				Target: "catalog",
				Execute: func(ctx context.Context) error {
					if bookID == uuid.Nil {
						return nil
					}
					_, err := f.Catalog.ToggleArchived(ctx, f.Owner, bookID)
					return err
				},
			},
		},
		Validation: consistencyAssertions(),
		Duration:   f.Duration,
	}
}

// ToggleStormExperiment flips a book's shareable flag from many goroutines
// and checks that the final flag matches the number of applied flips.
func ToggleStormExperiment(f Fixture) Experiment {
	var bookID uuid.UUID

	return Experiment{
		Name:        "shareable-toggle-storm",
		Hypothesis:  "Lost updates are rejected and every applied toggle is visible",
		SteadyState: consistencyProbes(f.Auditor),
		Method: []Action{
			{
				Type:   "seed",
				Target: "catalog",
				Execute: func(ctx context.Context) error {
					id, err := f.Catalog.Create(ctx, f.Owner, catalog.BookRequest{
						Title:      "Release It! " + uuid.NewString()[:8],
						AuthorName: "Game Day",
						ISBN:       "0000000000",
					})
					bookID = id
					return err
				},
			},
			{
				Type:   "concurrent-requests",
				Target: "catalog.toggle_shareable",
				Execute: func(ctx context.Context) error {
					out := hammer(f.Concurrency, func() error {
						_, err := f.Catalog.ToggleShareable(ctx, f.Owner, bookID)
						return err
					})
					if len(out.other) > 0 {
						return fmt.Errorf("toggle: unclassified failure: %w", out.other[0])
					}
					for k, n := range out.counts {
						if k != apperr.KindConflict {
							return fmt.Errorf("toggle: %d calls failed with unexpected kind %q", n, k)
						}
					}
					if out.ok == 0 {
						return fmt.Errorf("toggle: no call succeeded")
					}

					book, err := f.Catalog.Get(ctx, bookID)
					if err != nil {
						return err
					}
					if want := out.ok%2 == 1; book.Shareable != want {
						return fmt.Errorf("toggle: shareable=%t after %d applied flips", book.Shareable, out.ok)
					}
					return nil
				},
			},
		},
		Validation: consistencyAssertions(),
		Duration:   f.Duration,
	}
}
