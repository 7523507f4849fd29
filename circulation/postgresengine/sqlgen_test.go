package postgresengine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibliokit/circulation-go/circulation"
	"github.com/bibliokit/circulation-go/circulation/postgresengine/internal/adapters"
)

// recordingConn captures the generated SQL instead of talking to a database,
// so the statements the builders produce can be asserted directly.
type recordingConn struct {
	queried  []string
	executed []string
	affected int64
}

func (c *recordingConn) Query(_ context.Context, query string) (adapters.DBRows, error) {
	c.queried = append(c.queried, query)
	return emptyRows{}, nil
}

func (c *recordingConn) Exec(_ context.Context, query string) (adapters.DBResult, error) {
	c.executed = append(c.executed, query)
	return staticResult{affected: c.affected}, nil
}

type emptyRows struct{}

func (emptyRows) Next() bool        { return false }
func (emptyRows) Scan(...any) error { return nil }
func (emptyRows) Close() error      { return nil }

type staticResult struct {
	affected int64
}

func (r staticResult) RowsAffected() (int64, error) {
	return r.affected, nil
}

func newRecordedStore(affected int64) (Store, *recordingConn) {
	conn := &recordingConn{affected: affected}

	return Store{db: conn, tables: defaultTableNames()}, conn
}

func singleStatement(t *testing.T, conn *recordingConn) string {
	t.Helper()
	require.Len(t, conn.executed, 1)

	return conn.executed[0]
}

func Test_MarkBookBorrowed_GeneratesGuardedUpdate(t *testing.T) {
	// setup
	store, conn := newRecordedStore(1)
	bookID := uuid.New()
	borrowerID := uuid.New()

	// act
	err := store.MarkBookBorrowed(context.Background(), bookID, borrowerID, circulation.BookAvailable, true)

	// assert
	require.NoError(t, err)

	query := singleStatement(t, conn)
	assert.Contains(t, query, `UPDATE "books" SET `)
	assert.Contains(t, query, `"status"='borrowed'`)
	assert.Contains(t, query, `"current_borrower"='`+borrowerID.String()+`'`)
	assert.Contains(t, query, `"borrow_count"=borrow_count + 1`)
	assert.Contains(t, query, `("id" = '`+bookID.String()+`')`)
	assert.Contains(t, query, `("status" = 'available')`)
}

func Test_MarkBookBorrowed_WithoutBump_LeavesCounterAlone(t *testing.T) {
	// setup
	store, conn := newRecordedStore(1)

	// act
	err := store.MarkBookBorrowed(context.Background(), uuid.New(), uuid.New(), circulation.BookAvailable, false)

	// assert
	require.NoError(t, err)
	assert.NotContains(t, singleStatement(t, conn), "borrow_count")
}

func Test_MarkBookAvailable_ClearsBorrowerAndGuardsStatus(t *testing.T) {
	// setup
	store, conn := newRecordedStore(1)

	// act
	err := store.MarkBookAvailable(context.Background(), uuid.New(), circulation.BookBorrowed, true)

	// assert
	require.NoError(t, err)

	query := singleStatement(t, conn)
	assert.Contains(t, query, `"status"='available'`)
	assert.Contains(t, query, `"current_borrower"=NULL`)
	assert.Contains(t, query, `"borrow_count"=borrow_count - 1`)
	assert.Contains(t, query, `("status" = 'borrowed')`)
}

func Test_AdjustBookReservationCount_ShiftsTheCounterInPlace(t *testing.T) {
	// setup
	store, conn := newRecordedStore(1)

	// act
	err := store.AdjustBookReservationCount(context.Background(), uuid.New(), 1)

	// assert
	require.NoError(t, err)
	assert.Contains(t, singleStatement(t, conn), `"reservation_count"=reservation_count + 1`)
}

func Test_MarkBorrowRecordReturned_AcceptsTheGivenPriorStatuses(t *testing.T) {
	// setup
	store, conn := newRecordedStore(1)
	returnedAt := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	// act
	err := store.MarkBorrowRecordReturned(context.Background(), uuid.New(), returnedAt,
		circulation.BorrowActive, circulation.BorrowOverdue)

	// assert
	require.NoError(t, err)

	query := singleStatement(t, conn)
	assert.Contains(t, query, `UPDATE "borrow_records" SET `)
	assert.Contains(t, query, `"status"='returned'`)
	assert.Contains(t, query, `("status" IN ('active', 'overdue'))`)
}

func Test_RenewBorrowRecord_GuardsStatusAndRemainingRenewals(t *testing.T) {
	// setup
	store, conn := newRecordedStore(1)

	// act
	err := store.RenewBorrowRecord(context.Background(), uuid.New(), circulation.RenewalExtension)

	// assert
	require.NoError(t, err)

	query := singleStatement(t, conn)
	assert.Contains(t, query, `"due_date"=due_date + interval '336 hours'`)
	assert.Contains(t, query, `"renewals_left"=renewals_left - 1`)
	assert.Contains(t, query, `("status" = 'active')`)
	assert.Contains(t, query, `("renewals_left" > 0)`)
}

func Test_UpdateReservationStatus_GuardsTheExpectedPriorStatus(t *testing.T) {
	// setup
	store, conn := newRecordedStore(1)
	reservationID := uuid.New()

	// act
	err := store.UpdateReservationStatus(context.Background(), reservationID,
		circulation.ReservationActive, circulation.ReservationFulfilled)

	// assert
	require.NoError(t, err)

	query := singleStatement(t, conn)
	assert.Contains(t, query, `UPDATE "reservations" SET "status"='fulfilled'`)
	assert.Contains(t, query, `("id" = '`+reservationID.String()+`')`)
	assert.Contains(t, query, `("status" = 'active')`)
}

func Test_InsertReservation_WritesEveryColumn(t *testing.T) {
	// setup
	store, conn := newRecordedStore(1)
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	reservation := circulation.Reservation{
		ID:              uuid.New(),
		BookID:          uuid.New(),
		UserID:          uuid.New(),
		ReservationDate: now,
		ExpirationDate:  now.Add(circulation.ReservationTTL),
		Status:          circulation.ReservationActive,
		Priority:        3,
	}

	// act
	err := store.InsertReservation(context.Background(), reservation)

	// assert
	require.NoError(t, err)

	query := singleStatement(t, conn)
	assert.Contains(t, query, `INSERT INTO "reservations"`)
	assert.Contains(t, query, `"notification_sent"`)
	assert.Contains(t, query, `"priority"`)
	assert.Contains(t, query, `'`+reservation.UserID.String()+`'`)
}

func Test_ListOverdueBorrowRecords_FiltersAndOrdersByDueDate(t *testing.T) {
	// setup
	store, conn := newRecordedStore(0)
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	// act
	_, err := store.ListOverdueBorrowRecords(context.Background(), now)

	// assert
	require.NoError(t, err)
	require.Len(t, conn.queried, 1)

	query := conn.queried[0]
	assert.Contains(t, query, `FROM "borrow_records"`)
	assert.Contains(t, query, `("status" = 'active')`)
	assert.Contains(t, query, `("due_date" < `)
	assert.Contains(t, query, `ORDER BY "due_date" ASC`)
}

func Test_ExecuteConditional_MapsZeroAffectedRowsToStaleState(t *testing.T) {
	// setup
	store, _ := newRecordedStore(0)

	// act
	err := store.MarkBookBorrowed(context.Background(), uuid.New(), uuid.New(), circulation.BookAvailable, false)

	// assert
	assert.ErrorIs(t, err, circulation.ErrStaleState)
}

func Test_FindBookByID_ReportsMissingEntity_OnEmptyResult(t *testing.T) {
	// setup
	store, conn := newRecordedStore(0)
	bookID := uuid.New()

	// act
	_, err := store.FindBookByID(context.Background(), bookID)

	// assert
	assert.ErrorIs(t, err, circulation.ErrNoSuchEntity)

	require.Len(t, conn.queried, 1)
	assert.Contains(t, conn.queried[0], `FROM "books"`)
	assert.Contains(t, conn.queried[0], `("id" = '`+bookID.String()+`')`)
}
