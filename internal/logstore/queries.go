package logstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/logsentry/logsentry/internal/model"
)

// InsertBatch appends a batch of persisted records in a single
// transaction. If the batch fails, it retries record-by-record to
// salvage as many as possible, matching the teacher's degrade-instead-
// of-drop-everything behavior for a single bad row.
func (s *Store) InsertBatch(records []model.PersistedLog) error {
	if len(records) == 0 {
		return nil
	}

	ctx, cancel := s.queryCtx()
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.insertBatchTx(ctx, records); err == nil {
		return nil
	}

	var failed int
	for _, r := range records {
		if err := s.insertBatchTx(ctx, []model.PersistedLog{r}); err != nil {
			failed++
			log.Warn().Str("app_id", r.AppID).Str("service", r.Service).
				Str("message", truncate(r.Message, 80)).Err(err).
				Msg("logstore: dropping record")
		}
	}
	if failed > 0 {
		return fmt.Errorf("logstore: batch partially failed — %d/%d records dropped", failed, len(records))
	}
	return nil
}

// truncate bounds a string for log fields, matching the teacher's
// %.80s printf width without the printf verb.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (s *Store) insertBatchTx(ctx context.Context, records []model.PersistedLog) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO logs (id, app_id, timestamp, ingested_at, level, service, message, attributes, fingerprint, classification) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		id := r.ID
		if id == "" {
			id = uuid.NewString()
		}

		attrs := make(map[string]any, len(r.Attributes))
		for k, v := range r.Attributes {
			attrs[k] = v.MarshalableAny()
		}
		attrsJSON, err := json.Marshal(attrs)
		if err != nil {
			return fmt.Errorf("marshal attributes: %w", err)
		}

		var classification any
		if r.Classification != "" {
			classification = r.Classification
		}

		if _, err := stmt.ExecContext(ctx, id, r.AppID, r.Timestamp, r.IngestedAt, string(r.Level), r.Service, r.Message, string(attrsJSON), r.Fingerprint, classification); err != nil {
			return fmt.Errorf("record insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// RecentByApp returns up to limit of the most recent persisted records
// for an app, newest first.
func (s *Store) RecentByApp(appID string, limit int) ([]model.PersistedLog, error) {
	ctx, cancel := s.queryCtx()
	defer cancel()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, app_id, timestamp, ingested_at, level, service, message, attributes, fingerprint, COALESCE(classification, '') FROM logs WHERE app_id = ? ORDER BY timestamp DESC LIMIT ?`, appID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PersistedLog
	for rows.Next() {
		var r model.PersistedLog
		var attrsJSON string
		if err := rows.Scan(&r.ID, &r.AppID, &r.Timestamp, &r.IngestedAt, &r.Level, &r.Service, &r.Message, &attrsJSON, &r.Fingerprint, &r.Classification); err != nil {
			return nil, err
		}
		r.Attributes = decodeAttributes(attrsJSON)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountByApp returns the total number of persisted records for an app.
func (s *Store) CountByApp(appID string) (int64, error) {
	ctx, cancel := s.queryCtx()
	defer cancel()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM logs WHERE app_id = ?`, appID).Scan(&n)
	return n, err
}

func decodeAttributes(raw string) map[string]model.AttrValue {
	var plain map[string]any
	if err := json.Unmarshal([]byte(raw), &plain); err != nil || len(plain) == 0 {
		return nil
	}
	out := make(map[string]model.AttrValue, len(plain))
	for k, v := range plain {
		switch t := v.(type) {
		case string:
			out[k] = model.AttrValue{Kind: model.AttrString, Str: t}
		case float64:
			out[k] = model.AttrValue{Kind: model.AttrFloat, Flt: t}
		case bool:
			out[k] = model.AttrValue{Kind: model.AttrBool, Bool: t}
		case nil:
			out[k] = model.AttrValue{Kind: model.AttrNull}
		}
	}
	return out
}
