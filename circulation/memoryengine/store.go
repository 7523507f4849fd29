// Package memoryengine implements the circulation entity store on guarded
// in-process maps. It mirrors the Postgres engine's conditional-update
// semantics exactly, including the unique queue-position constraint, which
// makes it the store of choice for engine tests and local demos.
package memoryengine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bibliokit/circulation-go/circulation"
)

// Store is an in-memory entity store, safe for concurrent use.
type Store struct {
	mu            sync.Mutex
	books         map[uuid.UUID]circulation.Book
	borrowRecords map[uuid.UUID]circulation.BorrowRecord
	reservations  map[uuid.UUID]circulation.Reservation
	users         map[uuid.UUID]circulation.UserContact
	failNext      map[string]error
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		books:         make(map[uuid.UUID]circulation.Book),
		borrowRecords: make(map[uuid.UUID]circulation.BorrowRecord),
		reservations:  make(map[uuid.UUID]circulation.Reservation),
		users:         make(map[uuid.UUID]circulation.UserContact),
		failNext:      make(map[string]error),
	}
}

// FailNext arms a one-shot error for the named operation. Tests use this to
// exercise dependency-failure and compensation paths.
func (s *Store) FailNext(operation string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failNext[operation] = err
}

func (s *Store) takeFailure(operation string) error {
	if err, ok := s.failNext[operation]; ok {
		delete(s.failNext, operation)
		return err
	}

	return nil
}

// PutBook seeds or replaces a book. Catalog management is external to the
// engine, so seeding happens through this instead of an engine operation.
func (s *Store) PutBook(book circulation.Book) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.books[book.ID] = cloneBook(book)
}

// PutUserContact seeds the contact projection of the identity collaborator.
func (s *Store) PutUserContact(contact circulation.UserContact) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[contact.ID] = contact
}

// PutBorrowRecord seeds a borrow record directly, bypassing the engine.
func (s *Store) PutBorrowRecord(record circulation.BorrowRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.borrowRecords[record.ID] = cloneBorrowRecord(record)
}

// PutReservation seeds a reservation directly, bypassing the engine.
func (s *Store) PutReservation(reservation circulation.Reservation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reservations[reservation.ID] = reservation
}

// FindBookByID loads a book or returns circulation.ErrNoSuchEntity.
func (s *Store) FindBookByID(_ context.Context, bookID uuid.UUID) (circulation.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure("FindBookByID"); err != nil {
		return circulation.Book{}, err
	}

	book, ok := s.books[bookID]
	if !ok {
		return circulation.Book{}, circulation.ErrNoSuchEntity
	}

	return cloneBook(book), nil
}

// MarkBookBorrowed conditionally transitions a book to borrowed.
func (s *Store) MarkBookBorrowed(
	_ context.Context,
	bookID uuid.UUID,
	borrowerID uuid.UUID,
	expected circulation.BookStatus,
	bumpBorrowCount bool,
) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure("MarkBookBorrowed"); err != nil {
		return err
	}

	book, ok := s.books[bookID]
	if !ok || book.Status != expected {
		return circulation.ErrStaleState
	}

	borrower := borrowerID
	book.Status = circulation.BookBorrowed
	book.CurrentBorrower = &borrower
	if bumpBorrowCount {
		book.BorrowCount++
	}
	s.books[bookID] = book

	return nil
}

// MarkBookAvailable conditionally transitions a book back to available.
func (s *Store) MarkBookAvailable(
	_ context.Context,
	bookID uuid.UUID,
	expected circulation.BookStatus,
	undoBorrowCount bool,
) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure("MarkBookAvailable"); err != nil {
		return err
	}

	book, ok := s.books[bookID]
	if !ok || book.Status != expected {
		return circulation.ErrStaleState
	}

	book.Status = circulation.BookAvailable
	book.CurrentBorrower = nil
	if undoBorrowCount {
		book.BorrowCount--
	}
	s.books[bookID] = book

	return nil
}

// AdjustBookReservationCount shifts the denormalized reservation counter.
func (s *Store) AdjustBookReservationCount(_ context.Context, bookID uuid.UUID, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure("AdjustBookReservationCount"); err != nil {
		return err
	}

	book, ok := s.books[bookID]
	if !ok {
		return circulation.ErrStaleState
	}

	book.ReservationCount += delta
	s.books[bookID] = book

	return nil
}

// InsertBorrowRecord persists a borrow record. At most one active or overdue
// record may exist per book, matching the partial unique index in Postgres.
func (s *Store) InsertBorrowRecord(_ context.Context, record circulation.BorrowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure("InsertBorrowRecord"); err != nil {
		return err
	}

	for _, existing := range s.borrowRecords {
		if existing.BookID == record.BookID &&
			(existing.Status == circulation.BorrowActive || existing.Status == circulation.BorrowOverdue) {
			return circulation.ErrStaleState
		}
	}

	s.borrowRecords[record.ID] = cloneBorrowRecord(record)

	return nil
}

// FindBorrowRecordByID loads a record or returns circulation.ErrNoSuchEntity.
func (s *Store) FindBorrowRecordByID(_ context.Context, recordID uuid.UUID) (circulation.BorrowRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure("FindBorrowRecordByID"); err != nil {
		return circulation.BorrowRecord{}, err
	}

	record, ok := s.borrowRecords[recordID]
	if !ok {
		return circulation.BorrowRecord{}, circulation.ErrNoSuchEntity
	}

	return cloneBorrowRecord(record), nil
}

// MarkBorrowRecordReturned conditionally closes a record from any of the
// expected prior statuses.
func (s *Store) MarkBorrowRecordReturned(
	_ context.Context,
	recordID uuid.UUID,
	returnedAt time.Time,
	expected ...circulation.BorrowStatus,
) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure("MarkBorrowRecordReturned"); err != nil {
		return err
	}

	record, ok := s.borrowRecords[recordID]
	if !ok || !borrowStatusIn(record.Status, expected) {
		return circulation.ErrStaleState
	}

	record.Status = circulation.BorrowReturned
	t := returnedAt
	record.ReturnDate = &t
	s.borrowRecords[recordID] = record

	return nil
}

// MarkBorrowRecordOverdue conditionally flags an active record as overdue.
func (s *Store) MarkBorrowRecordOverdue(_ context.Context, recordID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure("MarkBorrowRecordOverdue"); err != nil {
		return err
	}

	record, ok := s.borrowRecords[recordID]
	if !ok || record.Status != circulation.BorrowActive {
		return circulation.ErrStaleState
	}

	record.Status = circulation.BorrowOverdue
	s.borrowRecords[recordID] = record

	return nil
}

// RenewBorrowRecord extends the due date and burns one renewal while the
// record is active and has renewals left.
func (s *Store) RenewBorrowRecord(_ context.Context, recordID uuid.UUID, extension time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure("RenewBorrowRecord"); err != nil {
		return err
	}

	record, ok := s.borrowRecords[recordID]
	if !ok || record.Status != circulation.BorrowActive || record.RenewalsLeft <= 0 {
		return circulation.ErrStaleState
	}

	record.DueDate = record.DueDate.Add(extension)
	record.RenewalsLeft--
	s.borrowRecords[recordID] = record

	return nil
}

// ListOverdueBorrowRecords returns active records past their due date.
func (s *Store) ListOverdueBorrowRecords(_ context.Context, now time.Time) ([]circulation.BorrowRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure("ListOverdueBorrowRecords"); err != nil {
		return nil, err
	}

	records := make([]circulation.BorrowRecord, 0)
	for _, record := range s.borrowRecords {
		if record.Status == circulation.BorrowActive && record.DueDate.Before(now) {
			records = append(records, cloneBorrowRecord(record))
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].DueDate.Before(records[j].DueDate)
	})

	return records, nil
}

// ListBorrowRecordsByStatus returns all records in the given status, ordered
// by due date ascending.
func (s *Store) ListBorrowRecordsByStatus(_ context.Context, status circulation.BorrowStatus) ([]circulation.BorrowRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure("ListBorrowRecordsByStatus"); err != nil {
		return nil, err
	}

	records := make([]circulation.BorrowRecord, 0)
	for _, record := range s.borrowRecords {
		if record.Status == status {
			records = append(records, cloneBorrowRecord(record))
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].DueDate.Before(records[j].DueDate)
	})

	return records, nil
}

// ListBorrowRecordsForUser returns a user's borrowing history, newest first.
func (s *Store) ListBorrowRecordsForUser(_ context.Context, userID uuid.UUID) ([]circulation.BorrowRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]circulation.BorrowRecord, 0)
	for _, record := range s.borrowRecords {
		if record.UserID == userID {
			records = append(records, cloneBorrowRecord(record))
		}
	}

	sortBorrowRecordsNewestFirst(records)

	return records, nil
}

// ListAllBorrowRecords returns the full borrowing history, newest first.
func (s *Store) ListAllBorrowRecords(_ context.Context) ([]circulation.BorrowRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]circulation.BorrowRecord, 0, len(s.borrowRecords))
	for _, record := range s.borrowRecords {
		records = append(records, cloneBorrowRecord(record))
	}

	sortBorrowRecordsNewestFirst(records)

	return records, nil
}

// InsertReservation persists a reservation, rejecting a duplicate active
// queue position or a second active reservation by the same user for the
// same book with circulation.ErrStaleState.
func (s *Store) InsertReservation(_ context.Context, reservation circulation.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure("InsertReservation"); err != nil {
		return err
	}

	if reservation.Status == circulation.ReservationActive {
		for _, existing := range s.reservations {
			if existing.BookID != reservation.BookID || existing.Status != circulation.ReservationActive {
				continue
			}

			if existing.Priority == reservation.Priority || existing.UserID == reservation.UserID {
				return circulation.ErrStaleState
			}
		}
	}

	s.reservations[reservation.ID] = reservation

	return nil
}

// FindReservationByID loads a reservation or returns circulation.ErrNoSuchEntity.
func (s *Store) FindReservationByID(_ context.Context, reservationID uuid.UUID) (circulation.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure("FindReservationByID"); err != nil {
		return circulation.Reservation{}, err
	}

	reservation, ok := s.reservations[reservationID]
	if !ok {
		return circulation.Reservation{}, circulation.ErrNoSuchEntity
	}

	return reservation, nil
}

// UpdateReservationStatus conditionally transitions a reservation.
func (s *Store) UpdateReservationStatus(
	_ context.Context,
	reservationID uuid.UUID,
	expected circulation.ReservationStatus,
	next circulation.ReservationStatus,
) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure("UpdateReservationStatus"); err != nil {
		return err
	}

	reservation, ok := s.reservations[reservationID]
	if !ok || reservation.Status != expected {
		return circulation.ErrStaleState
	}

	reservation.Status = next
	s.reservations[reservationID] = reservation

	return nil
}

// SetReservationPriority rewrites the queue position of an active reservation.
func (s *Store) SetReservationPriority(_ context.Context, reservationID uuid.UUID, priority int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure("SetReservationPriority"); err != nil {
		return err
	}

	reservation, ok := s.reservations[reservationID]
	if !ok || reservation.Status != circulation.ReservationActive {
		return circulation.ErrStaleState
	}

	reservation.Priority = priority
	s.reservations[reservationID] = reservation

	return nil
}

// MarkReservationNotified records that the expiration notice went out.
func (s *Store) MarkReservationNotified(_ context.Context, reservationID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reservation, ok := s.reservations[reservationID]
	if !ok {
		return circulation.ErrStaleState
	}

	reservation.NotificationSent = true
	s.reservations[reservationID] = reservation

	return nil
}

// CountActiveReservations counts the active queue entries for a book.
func (s *Store) CountActiveReservations(_ context.Context, bookID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure("CountActiveReservations"); err != nil {
		return 0, err
	}

	count := 0
	for _, reservation := range s.reservations {
		if reservation.BookID == bookID && reservation.Status == circulation.ReservationActive {
			count++
		}
	}

	return count, nil
}

// FindActiveReservationForUser looks up a user's active reservation on a book.
func (s *Store) FindActiveReservationForUser(
	_ context.Context,
	bookID uuid.UUID,
	userID uuid.UUID,
) (circulation.Reservation, bool, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure("FindActiveReservationForUser"); err != nil {
		return circulation.Reservation{}, false, err
	}

	for _, reservation := range s.reservations {
		if reservation.BookID == bookID && reservation.UserID == userID &&
			reservation.Status == circulation.ReservationActive {
			return reservation, true, nil
		}
	}

	return circulation.Reservation{}, false, nil
}

// NextActiveReservation selects the next-in-line active reservation: lowest
// priority, ties broken by the earlier reservation date.
func (s *Store) NextActiveReservation(_ context.Context, bookID uuid.UUID) (circulation.Reservation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure("NextActiveReservation"); err != nil {
		return circulation.Reservation{}, false, err
	}

	var (
		best  circulation.Reservation
		found bool
	)

	for _, reservation := range s.reservations {
		if reservation.BookID != bookID || reservation.Status != circulation.ReservationActive {
			continue
		}

		if !found || reservationBefore(reservation, best) {
			best = reservation
			found = true
		}
	}

	return best, found, nil
}

// ListExpiredReservations returns active reservations past their expiration.
func (s *Store) ListExpiredReservations(_ context.Context, now time.Time) ([]circulation.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure("ListExpiredReservations"); err != nil {
		return nil, err
	}

	reservations := make([]circulation.Reservation, 0)
	for _, reservation := range s.reservations {
		if reservation.Status == circulation.ReservationActive && reservation.ExpirationDate.Before(now) {
			reservations = append(reservations, reservation)
		}
	}

	sort.Slice(reservations, func(i, j int) bool {
		return reservations[i].ExpirationDate.Before(reservations[j].ExpirationDate)
	})

	return reservations, nil
}

// ListActiveReservationsForBook returns a book's queue in priority order.
func (s *Store) ListActiveReservationsForBook(_ context.Context, bookID uuid.UUID) ([]circulation.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reservations := make([]circulation.Reservation, 0)
	for _, reservation := range s.reservations {
		if reservation.BookID == bookID && reservation.Status == circulation.ReservationActive {
			reservations = append(reservations, reservation)
		}
	}

	sort.Slice(reservations, func(i, j int) bool {
		return reservationBefore(reservations[i], reservations[j])
	})

	return reservations, nil
}

// ListReservationsForUser returns a user's reservation history, newest first.
func (s *Store) ListReservationsForUser(_ context.Context, userID uuid.UUID) ([]circulation.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reservations := make([]circulation.Reservation, 0)
	for _, reservation := range s.reservations {
		if reservation.UserID == userID {
			reservations = append(reservations, reservation)
		}
	}

	sortReservationsNewestFirst(reservations)

	return reservations, nil
}

// ListAllReservations returns the full reservation history, newest first.
func (s *Store) ListAllReservations(_ context.Context) ([]circulation.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reservations := make([]circulation.Reservation, 0, len(s.reservations))
	for _, reservation := range s.reservations {
		reservations = append(reservations, reservation)
	}

	sortReservationsNewestFirst(reservations)

	return reservations, nil
}

// FindUserContactByID resolves a user id to contact data, making the Store
// usable as a circulation.UserDirectory.
func (s *Store) FindUserContactByID(_ context.Context, userID uuid.UUID) (circulation.UserContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure("FindUserContactByID"); err != nil {
		return circulation.UserContact{}, err
	}

	contact, ok := s.users[userID]
	if !ok {
		return circulation.UserContact{}, circulation.ErrNoSuchEntity
	}

	return contact, nil
}

func reservationBefore(a, b circulation.Reservation) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}

	return a.ReservationDate.Before(b.ReservationDate)
}

func borrowStatusIn(status circulation.BorrowStatus, set []circulation.BorrowStatus) bool {
	for _, candidate := range set {
		if status == candidate {
			return true
		}
	}

	return false
}

func sortBorrowRecordsNewestFirst(records []circulation.BorrowRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].BorrowDate.After(records[j].BorrowDate)
	})
}

func sortReservationsNewestFirst(reservations []circulation.Reservation) {
	sort.Slice(reservations, func(i, j int) bool {
		return reservations[i].ReservationDate.After(reservations[j].ReservationDate)
	})
}

func cloneBook(book circulation.Book) circulation.Book {
	clone := book
	if book.CurrentBorrower != nil {
		id := *book.CurrentBorrower
		clone.CurrentBorrower = &id
	}
	if book.NextAvailableDate != nil {
		t := *book.NextAvailableDate
		clone.NextAvailableDate = &t
	}

	return clone
}

func cloneBorrowRecord(record circulation.BorrowRecord) circulation.BorrowRecord {
	clone := record
	if record.ReturnDate != nil {
		t := *record.ReturnDate
		clone.ReturnDate = &t
	}

	return clone
}
