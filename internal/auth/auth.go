// Package auth decides who may run leader-only control actions.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"raidline/internal/domain"
)

// ForbiddenError indicates the participant may not run an action.
type ForbiddenError struct {
	ParticipantID string
	Action        string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("participant %s may not %s this event", e.ParticipantID, e.Action)
}

// Service answers privilege checks from the role_grants table. A
// participant is privileged for an event when they lead it or hold one of
// AdminRoles in the event's guild.
type Service struct {
	DB         *sql.DB
	AdminRoles []string
}

func (s Service) IsPrivileged(ctx context.Context, participantID string, ec domain.EventContext) (bool, error) {
	if participantID == "" {
		return false, nil
	}
	if ec.LeaderID != "" && participantID == ec.LeaderID {
		return true, nil
	}
	roles, err := s.ParticipantRoles(ctx, ec.GuildID, participantID)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		if slices.Contains(s.AdminRoles, role) {
			return true, nil
		}
	}
	return false, nil
}

func (s Service) ParticipantRoles(ctx context.Context, guildID, participantID string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT role FROM role_grants WHERE guild_id=? AND participant_id=?`, guildID, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// Require returns ForbiddenError when the participant is not privileged.
func (s Service) Require(ctx context.Context, participantID string, ec domain.EventContext) error {
	ok, err := s.IsPrivileged(ctx, participantID, ec)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{ParticipantID: participantID, Action: ec.Action}
	}
	return nil
}

// IsForbidden reports whether err is a ForbiddenError.
func IsForbidden(err error) bool {
	var fe ForbiddenError
	return errors.As(err, &fe)
}
