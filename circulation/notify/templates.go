package notify

import (
	"fmt"
	"time"
)

// Message is a rendered notification: subject plus plain-text body.
type Message struct {
	Subject string
	Body    string
}

const dueDateFormat = "Jan 2, 2006"

// ReservationConfirmed is sent right after a reservation is created.
func ReservationConfirmed(bookTitle string) Message {
	return Message{
		Subject: "Reservation Confirmed",
		Body:    fmt.Sprintf("Your reservation for %q was successful. You have 48h to pick it up.", bookTitle),
	}
}

// ReservedBookAvailable is sent when a return promotes the recipient's
// queued reservation into a borrowing.
func ReservedBookAvailable(userName string, bookTitle string, dueDate time.Time) Message {
	return Message{
		Subject: "Your reserved book is now available",
		Body: fmt.Sprintf(
			"Hi %s, the book %q was just returned and is now yours. Due: %s",
			userName, bookTitle, dueDate.Format(dueDateFormat),
		),
	}
}

// ReservationFulfilled is sent when staff hand the reserved copy out directly.
func ReservationFulfilled(bookTitle string, dueDate time.Time) Message {
	return Message{
		Subject: "Reservation fulfilled",
		Body: fmt.Sprintf(
			"Your reservation for %q is now checked out to you. Due date: %s",
			bookTitle, dueDate.Format(dueDateFormat),
		),
	}
}

// ReservationExpired is sent by the expiration sweep.
func ReservationExpired(bookTitle string) Message {
	return Message{
		Subject: "Reservation Expired",
		Body:    fmt.Sprintf("Your reservation for %q has expired and is no longer valid.", bookTitle),
	}
}

// OverdueNotice is sent by the overdue sweep the first time a record tips over.
func OverdueNotice(bookTitle string) Message {
	return Message{
		Subject: "Book Overdue Notice",
		Body: fmt.Sprintf(
			"The book %q you borrowed is now overdue. Please return it immediately to avoid penalties.",
			bookTitle,
		),
	}
}

// OverdueReminder is the on-demand reminder for records already overdue.
func OverdueReminder(userName string, bookTitle string, dueDate time.Time) Message {
	body := fmt.Sprintf(
		"Hello %s,\n\n"+
			"This is a friendly reminder that the book %q you borrowed is overdue since %s.\n\n"+
			"Please return the book as soon as possible to avoid penalties.\n\n"+
			"Thank you,\nLibrary Management",
		userName, bookTitle, dueDate.Format(dueDateFormat),
	)

	return Message{
		Subject: "Overdue Book Reminder",
		Body:    body,
	}
}
