package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/bibliokit/circulation-go/circulation"
	"github.com/bibliokit/circulation-go/circulation/notify"
)

// ExpireReservationsSweep moves every active reservation whose expiration
// date has passed to expired and notifies the holder. Each record is
// processed independently; a failure on one is logged and the sweep moves on.
// The conditional active -> expired update makes concurrent sweep instances
// safe: only the winning instance counts and notifies a given reservation.
func (e Engine) ExpireReservationsSweep(ctx context.Context, now time.Time) (SweepResult, error) {
	reservations, err := e.store.ListExpiredReservations(ctx, now)
	if err != nil {
		return SweepResult{}, circulation.DependencyFailure("listing expired reservations failed", err)
	}

	processed := 0

	for _, reservation := range reservations {
		if err = e.store.UpdateReservationStatus(ctx, reservation.ID, circulation.ReservationActive, circulation.ReservationExpired); err != nil {
			if !errors.Is(err, circulation.ErrStaleState) {
				e.logSweepRecordFailure("expire", reservation.ID, err)
			}

			continue
		}

		processed++

		if title, ok := e.bookTitle(ctx, reservation.BookID); ok {
			e.deliverSweepNotification(ctx, reservation.UserID, reservation.ID, notify.ReservationExpired(title))
		}
	}

	if e.logger != nil {
		e.logger.Info("expiration sweep finished", logAttrProcessed, processed)
	}

	return SweepResult{Processed: processed}, nil
}

// MarkOverdueSweep moves every active borrow record whose due date has passed
// to overdue and notifies the borrower. Same per-record independence and
// concurrency rules as the expiration sweep.
func (e Engine) MarkOverdueSweep(ctx context.Context, now time.Time) (SweepResult, error) {
	records, err := e.store.ListOverdueBorrowRecords(ctx, now)
	if err != nil {
		return SweepResult{}, circulation.DependencyFailure("listing overdue borrow records failed", err)
	}

	processed := 0

	for _, record := range records {
		if err = e.store.MarkBorrowRecordOverdue(ctx, record.ID); err != nil {
			if !errors.Is(err, circulation.ErrStaleState) {
				e.logSweepRecordFailure("overdue", record.ID, err)
			}

			continue
		}

		processed++

		if title, ok := e.bookTitle(ctx, record.BookID); ok {
			e.notifyUser(ctx, record.UserID, notify.OverdueNotice(title))
		}
	}

	if e.logger != nil {
		e.logger.Info("overdue sweep finished", logAttrProcessed, processed)
	}

	return SweepResult{Processed: processed}, nil
}

// SendOverdueReminders mails a reminder to every borrower holding a record
// already marked overdue. It returns the number of reminders delivered.
func (e Engine) SendOverdueReminders(ctx context.Context) (SweepResult, error) {
	records, err := e.store.ListBorrowRecordsByStatus(ctx, circulation.BorrowOverdue)
	if err != nil {
		return SweepResult{}, circulation.DependencyFailure("listing overdue borrow records failed", err)
	}

	sent := 0

	for _, record := range records {
		contact, ok := e.lookupContact(ctx, record.UserID)
		if !ok {
			continue
		}

		title, ok := e.bookTitle(ctx, record.BookID)
		if !ok {
			continue
		}

		message := notify.OverdueReminder(contact.Name, title, record.DueDate)
		if err = e.notifier.Notify(ctx, contact.Email, message.Subject, message.Body); err != nil {
			e.logSweepRecordFailure("reminder", record.ID, err)

			continue
		}

		sent++
	}

	if e.logger != nil {
		e.logger.Info("overdue reminders sent", logAttrProcessed, sent)
	}

	return SweepResult{Processed: sent}, nil
}

// bookTitle resolves a book's title for notification texts, best-effort.
func (e Engine) bookTitle(ctx context.Context, bookID uuid.UUID) (string, bool) {
	if e.notifier == nil || e.directory == nil {
		return "", false
	}

	book, err := e.store.FindBookByID(ctx, bookID)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("book lookup for notification failed", logAttrBookID, bookID.String(), logAttrError, err.Error())
		}

		return "", false
	}

	return book.Title, true
}

// deliverSweepNotification sends the expiry mail and stamps the reservation
// so repeated sweeps never double-notify a holder.
func (e Engine) deliverSweepNotification(ctx context.Context, userID uuid.UUID, reservationID uuid.UUID, message notify.Message) {
	contact, ok := e.lookupContact(ctx, userID)
	if !ok {
		return
	}

	if err := e.notifier.Notify(ctx, contact.Email, message.Subject, message.Body); err != nil {
		e.logSweepRecordFailure("expire", reservationID, err)

		return
	}

	if err := e.store.MarkReservationNotified(ctx, reservationID); err != nil {
		e.logSweepRecordFailure("expire", reservationID, err)
	}
}

func (e Engine) logSweepRecordFailure(sweep string, id uuid.UUID, err error) {
	if e.logger != nil {
		e.logger.Warn(logMsgSweepRecordFailed, "sweep", sweep, logAttrRecordID, id.String(), logAttrError, err.Error())
	}
}
