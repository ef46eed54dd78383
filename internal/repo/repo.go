package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"raidline/internal/domain"
	"raidline/internal/events"
)

// Repo is the sqlite-backed event store. Every write also appends a
// journal row in the same transaction.
type Repo struct {
	DB  *sql.DB
	Now func() time.Time
}

var ErrNotFound = domain.ErrNotFound

func (r Repo) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r Repo) journal() events.Writer {
	return events.Writer{Now: r.now}
}

func (r Repo) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// UpsertEventRecord writes the full record, replacing any previous version.
func (r Repo) UpsertEventRecord(ctx context.Context, rec domain.EventRecord) error {
	if rec.GuildID == "" || rec.ID == "" {
		return errors.New("guild_id and event id required")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal event record: %w", err)
	}
	ts := r.now().Format(time.RFC3339Nano)
	return r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO event_records(guild_id,event_id,kind,phase,record_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(guild_id,event_id) DO UPDATE SET kind=excluded.kind, phase=excluded.phase, record_json=excluded.record_json, updated_at=excluded.updated_at`,
			rec.GuildID, rec.ID, string(rec.Kind), string(rec.Phase), string(data), ts, ts)
		if err != nil {
			return err
		}
		return r.journal().Append(ctx, tx, events.TypeRecordUpserted, rec.GuildID, rec.ID, rec.StartedBy, events.Payload{
			"kind":    rec.Kind,
			"phase":   rec.Phase,
			"outcome": rec.Outcome,
			"signals": len(rec.Signals),
		})
	})
}

func (r Repo) GetEventRecord(ctx context.Context, guildID, eventID string) (domain.EventRecord, error) {
	var raw string
	err := r.DB.QueryRowContext(ctx, `SELECT record_json FROM event_records WHERE guild_id=? AND event_id=?`, guildID, eventID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.EventRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.EventRecord{}, err
	}
	return decodeRecord(raw)
}

// DeleteEventRecord removes the record. Deleting a missing record is not an error.
func (r Repo) DeleteEventRecord(ctx context.Context, guildID, eventID string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM event_records WHERE guild_id=? AND event_id=?`, guildID, eventID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		return r.journal().Append(ctx, tx, events.TypeRecordDeleted, guildID, eventID, "", nil)
	})
}

// ListOpenEventRecords returns records of a guild not yet closed, oldest first.
func (r Repo) ListOpenEventRecords(ctx context.Context, guildID string) ([]domain.EventRecord, error) {
	return r.queryRecords(ctx, `SELECT record_json FROM event_records WHERE guild_id=? AND phase<>? ORDER BY created_at, event_id`,
		guildID, string(domain.PhaseClosed))
}

// ListEventRecords returns every stored record of a guild, closed ones included.
func (r Repo) ListEventRecords(ctx context.Context, guildID string) ([]domain.EventRecord, error) {
	return r.queryRecords(ctx, `SELECT record_json FROM event_records WHERE guild_id=? ORDER BY created_at, event_id`, guildID)
}

func (r Repo) queryRecords(ctx context.Context, query string, args ...any) ([]domain.EventRecord, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var raws []string
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		raws = append(raws, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res := make([]domain.EventRecord, 0, len(raws))
	for _, raw := range raws {
		rec, err := decodeRecord(raw)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, nil
}

// ListOpenGuilds returns guild ids with at least one open record.
func (r Repo) ListOpenGuilds(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT guild_id FROM event_records WHERE phase<>? ORDER BY guild_id`, string(domain.PhaseClosed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var guilds []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		guilds = append(guilds, g)
	}
	return guilds, rows.Err()
}

// PurgeClosedEventRecords deletes records left in the closed phase, which
// only happens when the process died between the closing write and the delete.
func (r Repo) PurgeClosedEventRecords(ctx context.Context) (int, error) {
	var purged int
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT guild_id, event_id FROM event_records WHERE phase=?`, string(domain.PhaseClosed))
		if err != nil {
			return err
		}
		type key struct{ guild, event string }
		var keys []key
		for rows.Next() {
			var k key
			if err := rows.Scan(&k.guild, &k.event); err != nil {
				rows.Close()
				return err
			}
			keys = append(keys, k)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, k := range keys {
			if _, err := tx.ExecContext(ctx, `DELETE FROM event_records WHERE guild_id=? AND event_id=?`, k.guild, k.event); err != nil {
				return err
			}
			if err := r.journal().Append(ctx, tx, events.TypeClosedPurged, k.guild, k.event, "", nil); err != nil {
				return err
			}
		}
		purged = len(keys)
		return nil
	})
	return purged, err
}

func decodeRecord(raw string) (domain.EventRecord, error) {
	var rec domain.EventRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return domain.EventRecord{}, fmt.Errorf("decode event record: %w", err)
	}
	return rec, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
