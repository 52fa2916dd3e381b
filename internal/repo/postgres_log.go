package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/siriusgroup/wa-notify/internal/model"
)

type PostgresLogStore struct {
	db *sql.DB
}

func NewPostgresLogStore(db *sql.DB) *PostgresLogStore {
	return &PostgresLogStore{db: db}
}

func (s *PostgresLogStore) Append(ctx context.Context, e model.LogEntry) error {
	if e.BatchID == "" {
		return errors.New("batch id must not be empty")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_log
			(batch_id, phone_raw, phone_e164, template_key, message_text,
			 status, wa_message_id, error_text, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		e.BatchID,
		e.PhoneRaw,
		nullable(e.PhoneE164),
		e.TemplateKey,
		e.MessageText,
		string(e.Status),
		nullable(e.WaMessageID),
		nullable(e.ErrorText),
		e.SentAt,
	)
	return err
}

func (s *PostgresLogStore) ListByBatch(ctx context.Context, batchID string) ([]model.LogEntry, error) {
	return s.queryEntries(ctx, `
		SELECT id, batch_id, phone_raw, phone_e164, template_key,
		       message_text, status, wa_message_id, error_text, sent_at
		FROM message_log
		WHERE batch_id = $1
		ORDER BY id ASC
	`, batchID)
}

func (s *PostgresLogStore) FailedByBatch(ctx context.Context, batchID string) ([]model.LogEntry, error) {
	return s.queryEntries(ctx, `
		SELECT id, batch_id, phone_raw, phone_e164, template_key,
		       message_text, status, wa_message_id, error_text, sent_at
		FROM message_log
		WHERE batch_id = $1 AND status = 'fail'
		ORDER BY id ASC
	`, batchID)
}

func (s *PostgresLogStore) Stats(ctx context.Context) (model.BatchStats, error) {
	var st model.BatchStats
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE status = 'sent'),
		       count(*) FILTER (WHERE status = 'fail'),
		       count(*) FILTER (WHERE status = 'skipped'),
		       count(*) FILTER (WHERE status = 'invalid_phone'),
		       count(DISTINCT batch_id)
		FROM message_log
	`).Scan(&st.Total, &st.Sent, &st.Failed, &st.Skipped, &st.InvalidPhone, &st.Batches)
	return st, err
}

func (s *PostgresLogStore) queryEntries(ctx context.Context, query string, args ...any) ([]model.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LogEntry
	for rows.Next() {
		var e model.LogEntry
		var status string
		var phoneE164 sql.NullString
		var waMessageID sql.NullString
		var errorText sql.NullString

		if err := rows.Scan(
			&e.ID,
			&e.BatchID,
			&e.PhoneRaw,
			&phoneE164,
			&e.TemplateKey,
			&e.MessageText,
			&status,
			&waMessageID,
			&errorText,
			&e.SentAt,
		); err != nil {
			return nil, err
		}

		e.Status = model.OutcomeStatus(status)
		e.PhoneE164 = phoneE164.String
		e.WaMessageID = waMessageID.String
		e.ErrorText = errorText.String

		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
