// Package circulation holds the core domain model for the borrowing and
// reservation lifecycle: the three entities (Book, BorrowRecord, Reservation),
// their status machines, the lending policy constants, and the contracts the
// engine consumes (clock, notifier, user directory, logger).
package circulation

import (
	"time"

	"github.com/google/uuid"
)

// BookStatus is the authoritative physical-copy state of a book.
// It is only ever changed inside the same transition that creates or mutates
// the dependent BorrowRecord or Reservation, never recomputed by scanning.
type BookStatus string

const (
	BookAvailable BookStatus = "available"
	BookBorrowed  BookStatus = "borrowed"
	BookReserved  BookStatus = "reserved"
)

// BorrowStatus is the lifecycle state of a BorrowRecord.
type BorrowStatus string

const (
	BorrowActive   BorrowStatus = "active"
	BorrowReturned BorrowStatus = "returned"
	BorrowOverdue  BorrowStatus = "overdue"
)

// ReservationStatus is the lifecycle state of a Reservation.
// Fulfilled, expired and cancelled are terminal.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationFulfilled ReservationStatus = "fulfilled"
	ReservationExpired   ReservationStatus = "expired"
	ReservationCancelled ReservationStatus = "cancelled"
)

// Lending policy.
const (
	// LoanPeriod is the time a borrower may keep a book before it is due.
	LoanPeriod = 14 * 24 * time.Hour

	// RenewalExtension is added to the due date by a successful renewal.
	RenewalExtension = LoanPeriod

	// ReservationTTL is how long a reservation stays active before it expires.
	ReservationTTL = 48 * time.Hour

	// DefaultRenewals is the number of renewals a fresh BorrowRecord carries.
	DefaultRenewals = 1
)

// Book is a physical copy tracked by the engine. The catalog fields (title,
// author, genre, ISBN) are managed by the external catalog collaborator and
// are carried here only because notification texts reference them.
type Book struct {
	ID                uuid.UUID  `json:"id"`
	Title             string     `json:"title"`
	Author            string     `json:"author"`
	Genre             string     `json:"genre"`
	ISBN              string     `json:"isbn"`
	Status            BookStatus `json:"status"`
	CurrentBorrower   *uuid.UUID `json:"currentBorrower"`
	BorrowCount       int        `json:"borrowCount"`
	ReservationCount  int        `json:"reservationCount"`
	NextAvailableDate *time.Time `json:"nextAvailableDate"`
}

// BorrowRecord is one borrowing of one book by one user.
// Records are history: the engine never deletes them.
type BorrowRecord struct {
	ID           uuid.UUID    `json:"id"`
	BookID       uuid.UUID    `json:"bookId"`
	UserID       uuid.UUID    `json:"userId"`
	BorrowDate   time.Time    `json:"borrowDate"`
	DueDate      time.Time    `json:"dueDate"`
	ReturnDate   *time.Time   `json:"returnDate"`
	Status       BorrowStatus `json:"status"`
	RenewalsLeft int          `json:"renewalsLeft"`
}

// Reservation is one queue entry for one book by one user. Priority is the
// queue position assigned at creation as count(active reservations)+1; it is
// never re-packed when siblings leave the queue, so gaps are expected.
type Reservation struct {
	ID               uuid.UUID         `json:"id"`
	BookID           uuid.UUID         `json:"bookId"`
	UserID           uuid.UUID         `json:"userId"`
	ReservationDate  time.Time         `json:"reservationDate"`
	ExpirationDate   time.Time         `json:"expirationDate"`
	Status           ReservationStatus `json:"status"`
	Priority         int               `json:"priority"`
	NotificationSent bool              `json:"notificationSent"`
}

// IsTerminal reports whether the reservation can no longer change state.
func (r Reservation) IsTerminal() bool {
	return r.Status != ReservationActive
}

// Role is the caller role supplied by the external identity collaborator.
// The engine does not authenticate; authorization checks belong to callers.
type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// Identity is the opaque caller context handed in by the identity collaborator.
type Identity struct {
	UserID uuid.UUID
	Role   Role
}

// UserContact is the slice of user data the engine needs to address
// notifications. It is a read-only projection of the identity collaborator.
type UserContact struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}
