package postgresengine

import (
	"context"
	"errors"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/bibliokit/circulation-go/circulation"
)

const (
	colUserID    = "id"
	colUserName  = "name"
	colUserEmail = "email"
)

// FindUserContactByID resolves a user id to contact data for notifications.
// The users table is a read-only projection maintained by the identity
// collaborator; this makes the Store usable as a circulation.UserDirectory.
func (s Store) FindUserContactByID(ctx context.Context, userID uuid.UUID) (circulation.UserContact, error) {
	sqlQuery, _, buildErr := s.builder().
		From(s.tables.Users).
		Select(colUserID, colUserName, colUserEmail).
		Where(goqu.Ex{colUserID: userID}).
		ToSQL()
	if buildErr != nil {
		s.logBuildError(buildErr)
		return circulation.UserContact{}, errors.Join(ErrBuildingQueryFailed, buildErr)
	}

	rows, queryErr := s.executeQuery(ctx, sqlQuery)
	if queryErr != nil {
		return circulation.UserContact{}, queryErr
	}
	defer s.closeRows(rows)

	if !rows.Next() {
		return circulation.UserContact{}, circulation.ErrNoSuchEntity
	}

	var contact circulation.UserContact
	if scanErr := rows.Scan(&contact.ID, &contact.Name, &contact.Email); scanErr != nil {
		if s.logger != nil {
			s.logger.Error(logMsgScanRowFailed, logAttrError, scanErr.Error())
		}

		return circulation.UserContact{}, errors.Join(ErrScanningRowFailed, scanErr)
	}

	return contact, nil
}
