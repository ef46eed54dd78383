// Package events appends rows to the raid journal.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	TypeRecordUpserted = "event.upserted"
	TypeRecordDeleted  = "event.deleted"
	TypeCreditGranted  = "credit.granted"
	TypeRoleGranted    = "role.granted"
	TypeRoleRevoked    = "role.revoked"
	TypeClosedPurged   = "event.purged"
)

type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

// Append writes one journal row inside tx.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, guildID, eventID, actorID string, payload Payload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal journal payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO journal(ts,type,guild_id,event_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339Nano), evtType, guildID, nullable(eventID), nullable(actorID), string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
