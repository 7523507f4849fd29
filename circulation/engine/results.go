package engine

import "github.com/bibliokit/circulation-go/circulation"

// Promotion describes a reservation that a return turned into a borrowing.
type Promotion struct {
	Reservation circulation.Reservation
	Record      circulation.BorrowRecord
}

// BorrowResult is the outcome of a successful Borrow: the updated book view
// and the freshly created active record.
type BorrowResult struct {
	Book   circulation.Book
	Record circulation.BorrowRecord
}

// ReturnResult is the outcome of a successful Return. Promotion is nil when
// no queued reservation was waiting or the hand-over could not complete; the
// return itself stands either way.
type ReturnResult struct {
	Book      circulation.Book
	Record    circulation.BorrowRecord
	Promotion *Promotion
}

// RenewResult is the outcome of a successful Renew.
type RenewResult struct {
	Record circulation.BorrowRecord
}

// ReserveResult is the outcome of a successful Reserve.
type ReserveResult struct {
	Book        circulation.Book
	Reservation circulation.Reservation
}

// FulfillResult is the outcome of a successful FulfillReservation.
type FulfillResult struct {
	Book        circulation.Book
	Reservation circulation.Reservation
	Record      circulation.BorrowRecord
}

// SweepResult reports how many records a sweep actually transitioned.
// Records lost to concurrent transitions are not counted.
type SweepResult struct {
	Processed int
}
