// Package migrations holds the history schema. SQL migrations are embedded;
// migrations that must inspect the existing schema are written in Go.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// FS contains the SQL migrations.
//
//go:embed *.sql
var FS embed.FS

// Go returns the Go migrations, to be registered alongside FS.
func Go() []*goose.Migration {
	return []*goose.Migration{
		goose.NewGoMigration(2, &goose.GoFunc{RunTx: addImageColumns}, nil),
	}
}

// addImageColumns adds the image payload columns. Stores created before image
// capture existed lack them; stores created by other tools may already have
// them, so only missing columns are added.
func addImageColumns(ctx context.Context, tx *sql.Tx) error {
	existing, err := columns(ctx, tx, "clipboard_history")
	if err != nil {
		return err
	}
	for _, c := range []struct{ name, typ string }{
		{"image_data", "BLOB"},
		{"image_hash", "TEXT"},
	} {
		if existing[c.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE clipboard_history ADD COLUMN %s %s", c.name, c.typ)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s: %w", c.name, err)
		}
	}
	return nil
}

func columns(ctx context.Context, tx *sql.Tx, table string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("table info: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             any
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}
