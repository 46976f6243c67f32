package circulation_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"booknet/internal/apperr"
	"booknet/internal/catalog"
	"booknet/internal/circulation"
	"booknet/internal/identity"
	"booknet/internal/paging"
	"booknet/internal/testutil/memstore"
)

var (
	owner    = identity.Identity{UserID: uuid.New(), FullName: "Olga Owner"}
	borrower = identity.Identity{UserID: uuid.New(), FullName: "Ben Borrower"}
	stranger = identity.Identity{UserID: uuid.New(), FullName: "Sam Stranger"}
)

// tb is satisfied by both *testing.T and *rapid.T.
type tb interface {
	Helper()
	require.TestingT
}

func setup(t tb) (circulation.Service, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	return circulation.NewService(store.Loans(), store.Books(), zap.NewNop()), store
}

func addBook(t tb, store *memstore.Store, shareable, archived bool) uuid.UUID {
	t.Helper()
	book := &catalog.Book{
		ID:         uuid.New(),
		Title:      "Dune",
		AuthorName: "Frank Herbert",
		ISBN:       "978-0441172719",
		OwnerID:    owner.UserID,
		OwnerName:  owner.FullName,
		Shareable:  shareable,
		Archived:   archived,
	}
	require.NoError(t, store.Books().Insert(context.Background(), book))
	return book.ID
}

func TestBorrowReturnApproveLifecycle(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()
	bookID := addBook(t, store, true, false)

	loanID, err := svc.Borrow(ctx, borrower, bookID)
	require.NoError(t, err)

	_, err = svc.Borrow(ctx, borrower, bookID)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = svc.ApproveReturn(ctx, owner, bookID)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	returnedID, err := svc.Return(ctx, borrower, bookID)
	require.NoError(t, err)
	assert.Equal(t, loanID, returnedID)

	_, err = svc.Return(ctx, borrower, bookID)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	_, err = svc.ApproveReturn(ctx, borrower, bookID)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	approvedID, err := svc.ApproveReturn(ctx, owner, bookID)
	require.NoError(t, err)
	assert.Equal(t, loanID, approvedID)

	// A closed loan no longer blocks a new one.
	_, err = svc.Borrow(ctx, borrower, bookID)
	require.NoError(t, err)

	history, err := svc.History(ctx, owner, loanID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, circulation.EventBookBorrowed, history[0].EventType)
	assert.Equal(t, circulation.StateBorrowed, history[0].State)
	assert.Equal(t, circulation.EventBookReturned, history[1].EventType)
	assert.Equal(t, borrower.UserID.String(), history[1].Actor)
	assert.Equal(t, circulation.EventReturnApproved, history[2].EventType)
	assert.Equal(t, circulation.StateClosed, history[2].State)
	assert.Equal(t, owner.UserID.String(), history[2].Actor)
}

func TestBorrowPreconditions(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()

	_, err := svc.Borrow(ctx, borrower, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	archived := addBook(t, store, true, true)
	_, err = svc.Borrow(ctx, borrower, archived)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	private := addBook(t, store, false, false)
	_, err = svc.Borrow(ctx, borrower, private)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	shared := addBook(t, store, true, false)
	_, err = svc.Borrow(ctx, owner, shared)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
	assert.Equal(t, "You cannot borrow your own book", apperr.Message(err))
}

func TestReturnRequiresBorrower(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()
	bookID := addBook(t, store, true, false)

	_, err := svc.Borrow(ctx, borrower, bookID)
	require.NoError(t, err)

	_, err = svc.Return(ctx, stranger, bookID)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
	assert.Equal(t, "You did not borrow this book", apperr.Message(err))

	_, err = svc.Return(ctx, owner, bookID)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
}

func TestHistoryVisibility(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()
	bookID := addBook(t, store, true, false)

	loanID, err := svc.Borrow(ctx, borrower, bookID)
	require.NoError(t, err)

	_, err = svc.History(ctx, borrower, loanID)
	assert.NoError(t, err)
	_, err = svc.History(ctx, stranger, loanID)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)
	_, err = svc.History(ctx, owner, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListBorrowedAndReturned(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()
	first := addBook(t, store, true, false)
	second := addBook(t, store, true, false)

	_, err := svc.Borrow(ctx, borrower, first)
	require.NoError(t, err)
	_, err = svc.Borrow(ctx, borrower, second)
	require.NoError(t, err)
	_, err = svc.Return(ctx, borrower, second)
	require.NoError(t, err)

	borrowed, err := svc.ListBorrowed(ctx, borrower, paging.Request{Size: 1})
	require.NoError(t, err)
	assert.Len(t, borrowed.Content, 1)
	assert.EqualValues(t, 2, borrowed.TotalElements)
	assert.Equal(t, 2, borrowed.TotalPages)
	assert.True(t, borrowed.First)
	assert.False(t, borrowed.Last)

	returned, err := svc.ListReturned(ctx, owner, paging.Request{Size: 10})
	require.NoError(t, err)
	assert.Len(t, returned.Content, 2)

	none, err := svc.ListReturned(ctx, borrower, paging.Request{Size: 10})
	require.NoError(t, err)
	assert.Empty(t, none.Content)
	assert.Zero(t, none.TotalPages)

	_, err = svc.ListBorrowed(ctx, borrower, paging.Request{Size: 101})
	assert.ErrorIs(t, err, apperr.ErrInvalid)
}

// Owner O shares a book; borrower B borrows, returns, and O approves. Then a
// second borrower C tries to approve a return of a book they do not own.
func TestShareBorrowApproveScenario(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()
	bookID := addBook(t, store, true, false)

	loanID, err := svc.Borrow(ctx, borrower, bookID)
	require.NoError(t, err)
	_, err = svc.Return(ctx, borrower, bookID)
	require.NoError(t, err)

	_, err = svc.ApproveReturn(ctx, stranger, bookID)
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	_, err = svc.ApproveReturn(ctx, owner, bookID)
	require.NoError(t, err)

	loan, err := store.Loans().FindByID(ctx, loanID)
	require.NoError(t, err)
	assert.Equal(t, circulation.StateClosed, loan.State())
	assert.Equal(t, 3, loan.Version)
}

func TestTransitionsAreCounted(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	svc, store := setup(t)
	ctx := context.Background()
	bookID := addBook(t, store, true, false)

	_, err := svc.Borrow(ctx, borrower, bookID)
	require.NoError(t, err)
	_, err = svc.Borrow(ctx, borrower, bookID)
	require.Error(t, err)
	_, err = svc.Borrow(ctx, owner, bookID)
	require.Error(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "booknet.loan.transitions" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				transition, _ := dp.Attributes.Value(attribute.Key("transition"))
				outcome, _ := dp.Attributes.Value(attribute.Key("outcome"))
				counts[transition.AsString()+"/"+outcome.AsString()] += dp.Value
			}
		}
	}
	assert.Equal(t, map[string]int64{
		"borrow/ok":                1,
		"borrow/conflict":          1,
		"borrow/permission_denied": 1,
	}, counts)
}

// loanMachine drives the service with random borrow, return and approve
// calls and checks each outcome against a model of loan states.
type loanMachine struct {
	svc       circulation.Service
	store     *memstore.Store
	bookID    uuid.UUID
	borrowers []identity.Identity
	state     map[uuid.UUID]circulation.State
}

func (m *loanMachine) pick(t *rapid.T) identity.Identity {
	return rapid.SampledFrom(m.borrowers).Draw(t, "borrower")
}

func (m *loanMachine) Borrow(t *rapid.T) {
	who := m.pick(t)
	_, err := m.svc.Borrow(context.Background(), who, m.bookID)
	if _, open := m.state[who.UserID]; open {
		if !apperr.IsKind(err, apperr.KindConflict) {
			t.Fatalf("second borrow by %s: got %v, want conflict", who.FullName, err)
		}
		return
	}
	if err != nil {
		t.Fatalf("borrow by %s: %v", who.FullName, err)
	}
	m.state[who.UserID] = circulation.StateBorrowed
}

func (m *loanMachine) Return(t *rapid.T) {
	who := m.pick(t)
	_, err := m.svc.Return(context.Background(), who, m.bookID)
	if m.state[who.UserID] != circulation.StateBorrowed {
		if !apperr.IsKind(err, apperr.KindPermissionDenied) {
			t.Fatalf("return by %s in state %q: got %v", who.FullName, m.state[who.UserID], err)
		}
		return
	}
	if err != nil {
		t.Fatalf("return by %s: %v", who.FullName, err)
	}
	m.state[who.UserID] = circulation.StateReturned
}

func (m *loanMachine) Approve(t *rapid.T) {
	caller := owner
	if rapid.Bool().Draw(t, "by_borrower") {
		caller = m.pick(t)
	}
	loanID, err := m.svc.ApproveReturn(context.Background(), caller, m.bookID)

	anyReturned := false
	for _, s := range m.state {
		anyReturned = anyReturned || s == circulation.StateReturned
	}
	if caller != owner || !anyReturned {
		if !apperr.IsKind(err, apperr.KindPermissionDenied) {
			t.Fatalf("approve by %s: got %v, want permission denied", caller.FullName, err)
		}
		return
	}
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	loan, err := m.store.Loans().FindByID(context.Background(), loanID)
	if err != nil {
		t.Fatalf("load approved loan: %v", err)
	}
	if m.state[loan.BorrowerID] != circulation.StateReturned {
		t.Fatalf("approved a loan in state %q", m.state[loan.BorrowerID])
	}
	delete(m.state, loan.BorrowerID)
}

func (m *loanMachine) Check(t *rapid.T) {
	for _, who := range m.borrowers {
		open, err := m.store.Loans().HasOpenLoan(context.Background(), m.bookID, who.UserID)
		if err != nil {
			t.Fatal(err)
		}
		_, want := m.state[who.UserID]
		if open != want {
			t.Fatalf("open loan for %s = %v, model says %v", who.FullName, open, want)
		}
	}
}

func TestLoanStateMachine(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		svc, store := setup(t)
		m := &loanMachine{
			svc:       svc,
			store:     store,
			bookID:    addBook(t, store, true, false),
			borrowers: []identity.Identity{borrower, stranger},
			state:     map[uuid.UUID]circulation.State{},
		}
		t.Repeat(map[string]func(*rapid.T){
			"borrow":  m.Borrow,
			"return":  m.Return,
			"approve": m.Approve,
			"":        m.Check,
		})
	})
}
