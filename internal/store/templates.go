package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/focusroom/focusd/internal/templates"
)

const templateColumns = "id, name, description, blocks_json, is_default"

const upsertTemplateSQL = `INSERT INTO session_templates (id, name, description, blocks_json, total_duration, is_default, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT(id) DO UPDATE SET
        name = excluded.name,
        description = excluded.description,
        blocks_json = excluded.blocks_json,
        total_duration = excluded.total_duration,
        is_default = excluded.is_default,
        updated_at = excluded.updated_at`

// UpsertTemplate inserts or replaces a template by id.
func (s *Store) UpsertTemplate(ctx context.Context, t templates.Template) error {
	return s.UpsertTemplates(ctx, []templates.Template{t})
}

// UpsertTemplates validates and upserts every template in one transaction.
func (s *Store) UpsertTemplates(ctx context.Context, list []templates.Template) error {
	encoded := make([]string, len(list))
	for i, t := range list {
		if err := t.Validate(); err != nil {
			return err
		}
		blocks, err := json.Marshal(t.Blocks)
		if err != nil {
			return fmt.Errorf("marshal blocks: %w", err)
		}
		encoded[i] = string(blocks)
	}

	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		now := s.timestamp()
		for i, t := range list {
			if _, err := tx.ExecContext(ctx, upsertTemplateSQL,
				t.ID, t.Name, nullableString(t.Description), encoded[i], t.TotalMinutes(), boolToInt(t.IsDefault), now, now,
			); err != nil {
				return fmt.Errorf("upsert template %s: %w", t.ID, err)
			}
		}
		return tx.Commit()
	})
}

// GetTemplate fetches a template by id.
func (s *Store) GetTemplate(ctx context.Context, id string) (templates.Template, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM session_templates WHERE id = ?`, id)
	t, err := scanTemplate(row)
	if err != nil {
		return templates.Template{}, fmt.Errorf("get template %s: %w", id, notFound(err))
	}
	return t, nil
}

// ListTemplates returns templates ordered by total duration, then name.
func (s *Store) ListTemplates(ctx context.Context) ([]templates.Template, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+templateColumns+` FROM session_templates ORDER BY total_duration ASC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []templates.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTemplate(row scanner) (templates.Template, error) {
	var (
		t           templates.Template
		description sql.NullString
		blocks      string
		isDefault   int
	)
	if err := row.Scan(&t.ID, &t.Name, &description, &blocks, &isDefault); err != nil {
		return templates.Template{}, err
	}
	t.Description = description.String
	if err := json.Unmarshal([]byte(blocks), &t.Blocks); err != nil {
		return templates.Template{}, fmt.Errorf("decode blocks for %s: %w", t.ID, err)
	}
	t.IsDefault = isDefault != 0
	return t, nil
}
