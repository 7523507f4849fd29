package postgresengine

// Schema is the DDL for the circulation tables. The partial unique index on
// (book_id, priority) backs the invariant that active reservations for a book
// never share a queue position; the engine retries priority assignment when
// an insert trips it. The one on (book_id, user_id) keeps a user from holding
// two active reservations for the same book, even under concurrent requests.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id    uuid PRIMARY KEY,
    name  text NOT NULL,
    email text NOT NULL,
    role  text NOT NULL DEFAULT 'student'
);

CREATE TABLE IF NOT EXISTS books (
    id                  uuid PRIMARY KEY,
    title               text NOT NULL,
    author              text NOT NULL,
    genre               text NOT NULL DEFAULT '',
    isbn                text NOT NULL DEFAULT '',
    status              text NOT NULL DEFAULT 'available',
    current_borrower    uuid NULL REFERENCES users (id),
    borrow_count        integer NOT NULL DEFAULT 0,
    reservation_count   integer NOT NULL DEFAULT 0,
    next_available_date timestamp with time zone NULL
);

CREATE TABLE IF NOT EXISTS borrow_records (
    id            uuid PRIMARY KEY,
    book_id       uuid NOT NULL REFERENCES books (id),
    user_id       uuid NOT NULL REFERENCES users (id),
    borrow_date   timestamp with time zone NOT NULL,
    due_date      timestamp with time zone NOT NULL,
    return_date   timestamp with time zone NULL,
    status        text NOT NULL DEFAULT 'active',
    renewals_left integer NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS borrow_records_sweep_idx
    ON borrow_records (status, due_date);

CREATE UNIQUE INDEX IF NOT EXISTS borrow_records_single_active_idx
    ON borrow_records (book_id)
    WHERE status IN ('active', 'overdue');

CREATE TABLE IF NOT EXISTS reservations (
    id                uuid PRIMARY KEY,
    book_id           uuid NOT NULL REFERENCES books (id),
    user_id           uuid NOT NULL REFERENCES users (id),
    reservation_date  timestamp with time zone NOT NULL,
    expiration_date   timestamp with time zone NOT NULL,
    status            text NOT NULL DEFAULT 'active',
    priority          integer NOT NULL,
    notification_sent boolean NOT NULL DEFAULT false
);

CREATE INDEX IF NOT EXISTS reservations_sweep_idx
    ON reservations (status, expiration_date);

CREATE UNIQUE INDEX IF NOT EXISTS reservations_active_priority_idx
    ON reservations (book_id, priority)
    WHERE status = 'active';

CREATE UNIQUE INDEX IF NOT EXISTS reservations_active_user_idx
    ON reservations (book_id, user_id)
    WHERE status = 'active';
`
