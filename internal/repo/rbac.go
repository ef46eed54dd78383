package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"raidline/internal/domain"
	"raidline/internal/events"
)

func (r Repo) GrantRole(ctx context.Context, g domain.RoleGrant, actorID string) error {
	if g.GuildID == "" || g.ParticipantID == "" || g.Role == "" {
		return errors.New("guild_id, participant_id and role required")
	}
	if g.CreatedAt == "" {
		g.CreatedAt = r.now().Format(time.RFC3339)
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO role_grants(guild_id, participant_id, role, created_at) VALUES (?,?,?,?)`,
			g.GuildID, g.ParticipantID, g.Role, g.CreatedAt)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		return r.journal().Append(ctx, tx, events.TypeRoleGranted, g.GuildID, "", actorID, events.Payload{
			"participant_id": g.ParticipantID,
			"role":           g.Role,
		})
	})
}

func (r Repo) RevokeRole(ctx context.Context, guildID, participantID, role, actorID string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM role_grants WHERE guild_id=? AND participant_id=? AND role=?`, guildID, participantID, role)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return r.journal().Append(ctx, tx, events.TypeRoleRevoked, guildID, "", actorID, events.Payload{
			"participant_id": participantID,
			"role":           role,
		})
	})
}

func (r Repo) ListRoleGrants(ctx context.Context, guildID string) ([]domain.RoleGrant, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT guild_id, participant_id, role, created_at FROM role_grants WHERE guild_id=? ORDER BY participant_id, role`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RoleGrant
	for rows.Next() {
		var g domain.RoleGrant
		if err := rows.Scan(&g.GuildID, &g.ParticipantID, &g.Role, &g.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func (r Repo) ParticipantRoles(ctx context.Context, guildID, participantID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT role FROM role_grants WHERE guild_id=? AND participant_id=? ORDER BY role`, guildID, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}
