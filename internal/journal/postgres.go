package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"aidoc/editor/internal/editor"
	"aidoc/editor/internal/tracker"
)

// Entry is one recorded event.
type Entry struct {
	ID         string          `json:"id"`
	ProjectID  int64           `json:"projectId"`
	SectionID  *int64          `json:"sectionId,omitempty"`
	Kind       string          `json:"kind"`
	Operation  string          `json:"operation,omitempty"`
	Fence      *int64          `json:"fence,omitempty"`
	Prompt     string          `json:"prompt,omitempty"`
	Error      string          `json:"error,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// Refinement is a successful refine with the text it produced.
type Refinement struct {
	EventID     string    `json:"eventId"`
	SectionID   int64     `json:"sectionId"`
	Prompt      string    `json:"prompt"`
	RefinedText string    `json:"refinedText"`
	OccurredAt  time.Time `json:"occurredAt"`
}

type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// payload keeps the section state carried by the event.
type payload struct {
	Section  any `json:"section,omitempty"`
	Sections any `json:"sections,omitempty"`
}

func (p *Postgres) Append(ctx context.Context, event editor.Event) error {
	body := payload{}
	if event.Section != nil {
		body.Section = event.Section
	}
	if len(event.Sections) > 0 {
		body.Sections = event.Sections
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO editor_events (id, project_id, section_id, kind, operation, fence, prompt, error, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`,
		event.ID,
		event.ProjectID,
		nullInt(event.SectionID),
		string(event.Kind),
		nullString(string(event.Operation)),
		nullInt(int64(event.Fence)),
		nullString(event.Prompt),
		nullString(event.Error),
		string(raw),
		event.At,
	)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", event.ID, err)
	}

	if event.Kind == editor.EventOperationSucceeded && event.Operation == tracker.Refine && event.Section != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO editor_refinements (event_id, project_id, section_id, prompt, refined_text, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (event_id) DO NOTHING
		`, event.ID, event.ProjectID, event.SectionID, event.Prompt, event.Section.Content(), event.At)
		if err != nil {
			return fmt.Errorf("insert refinement %s: %w", event.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event %s: %w", event.ID, err)
	}
	return nil
}

// List returns the newest events of a project first.
func (p *Postgres) List(ctx context.Context, projectID int64, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, project_id, section_id, kind, COALESCE(operation, ''), fence,
		       COALESCE(prompt, ''), COALESCE(error, ''), payload, occurred_at
		FROM editor_events
		WHERE project_id = $1
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	items := make([]Entry, 0)
	for rows.Next() {
		var (
			entry     Entry
			sectionID sql.NullInt64
			fence     sql.NullInt64
			raw       []byte
		)
		if err := rows.Scan(&entry.ID, &entry.ProjectID, &sectionID, &entry.Kind, &entry.Operation, &fence,
			&entry.Prompt, &entry.Error, &raw, &entry.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if sectionID.Valid {
			v := sectionID.Int64
			entry.SectionID = &v
		}
		if fence.Valid {
			v := fence.Int64
			entry.Fence = &v
		}
		entry.Payload = json.RawMessage(raw)
		items = append(items, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return items, nil
}

func (p *Postgres) Refinements(ctx context.Context, projectID, sectionID int64, limit int) ([]Refinement, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT event_id, section_id, prompt, refined_text, occurred_at
		FROM editor_refinements
		WHERE project_id = $1 AND section_id = $2
		ORDER BY occurred_at DESC
		LIMIT $3
	`, projectID, sectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list refinements: %w", err)
	}
	defer rows.Close()

	items := make([]Refinement, 0)
	for rows.Next() {
		var item Refinement
		if err := rows.Scan(&item.EventID, &item.SectionID, &item.Prompt, &item.RefinedText, &item.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan refinement: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refinements: %w", err)
	}
	return items, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func nullInt(value int64) sql.NullInt64 {
	return sql.NullInt64{Int64: value, Valid: value != 0}
}
