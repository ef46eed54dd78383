package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"raidline/internal/domain"
	"raidline/internal/events"
)

// IncrementParticipationCredit applies a grant once. It reports false when
// the same (guild, event, run, participant, category) grant was already applied.
// An empty RunID falls back to the event id.
func (r Repo) IncrementParticipationCredit(ctx context.Context, g domain.CreditGrant) (bool, error) {
	if g.GuildID == "" || g.EventID == "" || g.ParticipantID == "" || g.Category == "" {
		return false, errors.New("guild_id, event_id, participant_id and category required")
	}
	if g.RunID == "" {
		g.RunID = g.EventID
	}
	if g.Delta == 0 {
		g.Delta = 1
	}
	ts := r.now().Format(time.RFC3339Nano)
	applied := false
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO credit_grants(guild_id,event_id,run_id,participant_id,category,delta,granted_at) VALUES (?,?,?,?,?,?,?)`,
			g.GuildID, g.EventID, g.RunID, g.ParticipantID, g.Category, g.Delta, ts)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO credits(guild_id,participant_id,category,count,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(guild_id,participant_id,category) DO UPDATE SET count=credits.count+excluded.count, updated_at=excluded.updated_at`,
			g.GuildID, g.ParticipantID, g.Category, g.Delta, ts)
		if err != nil {
			return err
		}
		applied = true
		return r.journal().Append(ctx, tx, events.TypeCreditGranted, g.GuildID, g.EventID, g.ParticipantID, events.Payload{
			"run_id":   g.RunID,
			"category": g.Category,
			"delta":    g.Delta,
		})
	})
	return applied, err
}

// ListCredits returns credit totals for a guild, optionally for one participant.
func (r Repo) ListCredits(ctx context.Context, guildID, participantID string) ([]domain.Credit, error) {
	query := `SELECT guild_id, participant_id, category, count, updated_at FROM credits WHERE guild_id=?`
	args := []any{guildID}
	if participantID != "" {
		query += ` AND participant_id=?`
		args = append(args, participantID)
	}
	query += ` ORDER BY participant_id, category`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Credit
	for rows.Next() {
		var c domain.Credit
		if err := rows.Scan(&c.GuildID, &c.ParticipantID, &c.Category, &c.Count, &c.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// ListJournal returns journal rows of a guild with id > afterID, oldest first.
func (r Repo) ListJournal(ctx context.Context, guildID string, afterID int64, limit int) ([]domain.JournalEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `
SELECT id, ts, type, guild_id, COALESCE(event_id,''), COALESCE(actor_id,''), payload_json
FROM journal WHERE guild_id=? AND id>? ORDER BY id LIMIT ?`, guildID, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.JournalEntry
	for rows.Next() {
		var e domain.JournalEntry
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.GuildID, &e.EventID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
