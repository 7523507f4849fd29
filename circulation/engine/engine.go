// Package engine implements the borrowing and reservation lifecycle: the
// state-machine transitions (borrow, return, renew, reserve, cancel, fulfill),
// the time-driven sweeps, and the read-only projections over the entities.
// Every transition is guarded by conditional status updates in the entity
// store, so concurrent callers on the same book serialize there and the loser
// observes a conflict instead of corrupting state.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bibliokit/circulation-go/circulation"
	"github.com/bibliokit/circulation-go/circulation/notify"
	"github.com/bibliokit/circulation-go/circulation/queue"
)

const (
	logMsgContactLookupFailed  = "user contact lookup failed, notification skipped"
	logMsgNotifyFailed         = "notification delivery failed"
	logMsgCompensationFailed   = "compensating transition failed, entities may need repair"
	logMsgPromotionAbandoned   = "reservation promotion abandoned"
	logMsgSweepRecordFailed    = "sweep failed for record, continuing"
	logAttrError               = "error"
	logAttrBookID              = "book_id"
	logAttrUserID              = "user_id"
	logAttrRecordID            = "record_id"
	logAttrReservationID       = "reservation_id"
	logAttrProcessed           = "processed"
)

// Store is the entity-store surface the engine operates on. Both the
// Postgres engine and the in-memory engine satisfy it. Conditional updates
// return circulation.ErrStaleState when the guarded record was not in the
// expected prior state.
type Store interface {
	FindBookByID(ctx context.Context, bookID uuid.UUID) (circulation.Book, error)
	MarkBookBorrowed(ctx context.Context, bookID uuid.UUID, borrowerID uuid.UUID, expected circulation.BookStatus, bumpBorrowCount bool) error
	MarkBookAvailable(ctx context.Context, bookID uuid.UUID, expected circulation.BookStatus, undoBorrowCount bool) error
	AdjustBookReservationCount(ctx context.Context, bookID uuid.UUID, delta int) error

	InsertBorrowRecord(ctx context.Context, record circulation.BorrowRecord) error
	FindBorrowRecordByID(ctx context.Context, recordID uuid.UUID) (circulation.BorrowRecord, error)
	MarkBorrowRecordReturned(ctx context.Context, recordID uuid.UUID, returnedAt time.Time, expected ...circulation.BorrowStatus) error
	MarkBorrowRecordOverdue(ctx context.Context, recordID uuid.UUID) error
	RenewBorrowRecord(ctx context.Context, recordID uuid.UUID, extension time.Duration) error
	ListOverdueBorrowRecords(ctx context.Context, now time.Time) ([]circulation.BorrowRecord, error)
	ListBorrowRecordsByStatus(ctx context.Context, status circulation.BorrowStatus) ([]circulation.BorrowRecord, error)
	ListBorrowRecordsForUser(ctx context.Context, userID uuid.UUID) ([]circulation.BorrowRecord, error)
	ListAllBorrowRecords(ctx context.Context) ([]circulation.BorrowRecord, error)

	InsertReservation(ctx context.Context, reservation circulation.Reservation) error
	FindReservationByID(ctx context.Context, reservationID uuid.UUID) (circulation.Reservation, error)
	UpdateReservationStatus(ctx context.Context, reservationID uuid.UUID, expected circulation.ReservationStatus, next circulation.ReservationStatus) error
	SetReservationPriority(ctx context.Context, reservationID uuid.UUID, priority int) error
	MarkReservationNotified(ctx context.Context, reservationID uuid.UUID) error
	CountActiveReservations(ctx context.Context, bookID uuid.UUID) (int, error)
	FindActiveReservationForUser(ctx context.Context, bookID uuid.UUID, userID uuid.UUID) (circulation.Reservation, bool, error)
	NextActiveReservation(ctx context.Context, bookID uuid.UUID) (circulation.Reservation, bool, error)
	ListExpiredReservations(ctx context.Context, now time.Time) ([]circulation.Reservation, error)
	ListActiveReservationsForBook(ctx context.Context, bookID uuid.UUID) ([]circulation.Reservation, error)
	ListReservationsForUser(ctx context.Context, userID uuid.UUID) ([]circulation.Reservation, error)
	ListAllReservations(ctx context.Context) ([]circulation.Reservation, error)
}

// Engine executes the lifecycle transitions. It is a value type; construct
// one with New and share it freely, the store provides the synchronization.
type Engine struct {
	store        Store
	queue        queue.Manager
	notifier     circulation.Notifier
	directory    circulation.UserDirectory
	clock        circulation.Clock
	logger       circulation.Logger
	retryOptions []RetryOption
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier sets the outbound notification channel. Without one the
// engine performs transitions silently.
func WithNotifier(notifier circulation.Notifier) Option {
	return func(e *Engine) {
		e.notifier = notifier
	}
}

// WithDirectory sets the user-contact resolver used to address notifications.
func WithDirectory(directory circulation.UserDirectory) Option {
	return func(e *Engine) {
		e.directory = directory
	}
}

// WithClock overrides the wall clock, mainly for tests.
func WithClock(clock circulation.Clock) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithLogger sets the logger for transition outcomes and skipped notifications.
func WithLogger(logger circulation.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithRetryOptions customizes the backoff used where conditional inserts can
// race, such as reservation priority assignment.
func WithRetryOptions(options ...RetryOption) Option {
	return func(e *Engine) {
		e.retryOptions = options
	}
}

// New creates an Engine on the given store with optional configuration.
func New(store Store, options ...Option) Engine {
	e := Engine{
		store: store,
		queue: queue.New(store),
		clock: circulation.NewSystemClock(),
	}

	for _, option := range options {
		option(&e)
	}

	return e
}

// Queue exposes the reservation queue manager bound to the engine's store.
func (e Engine) Queue() queue.Manager {
	return e.queue
}

// lookupContact resolves the recipient of a notification. A missing
// directory or a failed lookup downgrades the notification to a log line.
func (e Engine) lookupContact(ctx context.Context, userID uuid.UUID) (circulation.UserContact, bool) {
	if e.notifier == nil || e.directory == nil {
		return circulation.UserContact{}, false
	}

	contact, err := e.directory.FindUserContactByID(ctx, userID)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn(logMsgContactLookupFailed, logAttrUserID, userID.String(), logAttrError, err.Error())
		}

		return circulation.UserContact{}, false
	}

	return contact, true
}

// sendNotification delivers best-effort: failures are logged, never escalated,
// because the state transition has already committed.
func (e Engine) sendNotification(ctx context.Context, contact circulation.UserContact, message notify.Message) {
	if e.notifier == nil {
		return
	}

	if err := e.notifier.Notify(ctx, contact.Email, message.Subject, message.Body); err != nil {
		if e.logger != nil {
			e.logger.Warn(logMsgNotifyFailed, "to", contact.Email, "subject", message.Subject, logAttrError, err.Error())
		}
	}
}

// notifyUser is the common resolve-then-send path for messages that do not
// need the recipient's name.
func (e Engine) notifyUser(ctx context.Context, userID uuid.UUID, message notify.Message) {
	contact, ok := e.lookupContact(ctx, userID)
	if !ok {
		return
	}

	e.sendNotification(ctx, contact, message)
}

func (e Engine) logCompensationFailure(operation string, err error) {
	if e.logger != nil {
		e.logger.Error(logMsgCompensationFailed, "operation", operation, logAttrError, err.Error())
	}
}
