package history

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultListLimit is used when a List query asks for no limit.
const DefaultListLimit = 50

// AddText records a text capture. It reports false without error when the
// text is blank or equal to the most recent entry. Text longer than
// MaxContentLength characters is truncated before storing.
func (s *Store) AddText(ctx context.Context, content string) (bool, error) {
	if strings.TrimSpace(content) == "" {
		return false, nil
	}
	content = truncateRunes(content, s.opts.MaxContentLength)

	if err := s.lock(); err != nil {
		return false, err
	}
	defer s.mu.Unlock()

	last, err := s.latest(ctx)
	if err != nil {
		return false, err
	}
	if last != nil && last.kind == KindText && last.content == content {
		return false, nil
	}

	return true, s.insert(ctx, row{
		kind:    KindText,
		content: content,
		preview: textPreview(content),
	})
}

// AddImage records a PNG capture. It reports false without error when data is
// empty or its hash matches the most recent entry.
func (s *Store) AddImage(ctx context.Context, png []byte) (bool, error) {
	if len(png) == 0 {
		return false, nil
	}
	sum := sha256.Sum256(png)
	hash := hex.EncodeToString(sum[:])

	if err := s.lock(); err != nil {
		return false, err
	}
	defer s.mu.Unlock()

	last, err := s.latest(ctx)
	if err != nil {
		return false, err
	}
	if last != nil && last.hash == hash {
		return false, nil
	}

	return true, s.insert(ctx, row{
		kind:    KindImage,
		preview: imagePreview(len(png)),
		image:   png,
		hash:    hash,
	})
}

type row struct {
	kind    Kind
	content string
	preview string
	image   []byte
	hash    string
}

// insert stores r and enforces the entry cap in the same transaction. Expiry
// runs afterwards at most once per ExpireInterval; its failure is logged only.
func (s *Store) insert(ctx context.Context, r row) error {
	err := withTx(ctx, s.db, func(ctx context.Context, tx dbtx) error {
		var image any
		var hash any
		if r.kind == KindImage {
			image, hash = r.image, r.hash
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO clipboard_history (content, content_type, timestamp, pinned, preview, image_data, image_hash)
			 VALUES (?, ?, ?, 0, ?, ?, ?)`,
			r.content, string(r.kind), toSeconds(s.opts.Now()), r.preview, image, hash)
		if err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}
		return s.enforceCap(ctx, tx)
	})
	if err != nil {
		return err
	}
	s.maybeExpire(ctx)
	return nil
}

type latestRow struct {
	kind    Kind
	content string
	hash    string
}

func (s *Store) latest(ctx context.Context) (*latestRow, error) {
	var (
		kind    sql.NullString
		content sql.NullString
		hash    sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT content_type, content, image_hash FROM clipboard_history
		 ORDER BY timestamp DESC, id DESC LIMIT 1`).Scan(&kind, &content, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest entry: %w", err)
	}
	return &latestRow{kind: kindOf(kind), content: content.String, hash: hash.String}, nil
}

// Query selects a page of summaries. An empty Search matches everything.
type Query struct {
	Limit  int
	Offset int
	Search string
}

// List returns summaries ordered pinned first, then newest first. Search is a
// case-insensitive substring match on text content and on image previews;
// '%' and '_' match literally.
func (s *Store) List(ctx context.Context, q Query) ([]Summary, error) {
	if q.Limit <= 0 {
		q.Limit = DefaultListLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	var (
		b    strings.Builder
		args []any
	)
	b.WriteString("SELECT " + summaryColumns + " FROM clipboard_history")
	if q.Search != "" {
		pat := likePattern(q.Search)
		b.WriteString(` WHERE content LIKE ? ESCAPE '\'
			OR (content_type = 'image' AND preview LIKE ? ESCAPE '\')`)
		args = append(args, pat, pat)
	}
	b.WriteString(` ORDER BY pinned DESC, timestamp DESC, id DESC LIMIT ? OFFSET ?`)
	args = append(args, q.Limit, q.Offset)

	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

const summaryColumns = `id, content_type, timestamp, pinned, preview, image_hash, LENGTH(content)`

func scanSummary(row interface{ Scan(...any) error }) (Summary, error) {
	var (
		sum     Summary
		kind    sql.NullString
		ts      float64
		pinned  sql.NullInt64
		preview sql.NullString
		hash    sql.NullString
		length  sql.NullInt64
	)
	if err := row.Scan(&sum.ID, &kind, &ts, &pinned, &preview, &hash, &length); err != nil {
		return Summary{}, err
	}
	sum.Kind = kindOf(kind)
	sum.Timestamp = fromSeconds(ts)
	sum.Pinned = pinned.Int64 != 0
	sum.Preview = preview.String
	sum.ImageHash = hash.String
	sum.ContentLength = int(length.Int64)
	return sum, nil
}

// Newest returns the summary of the most recently captured entry, ignoring
// pin order.
func (s *Store) Newest(ctx context.Context) (Summary, error) {
	if err := s.lock(); err != nil {
		return Summary{}, err
	}
	defer s.mu.Unlock()

	sum, err := scanSummary(s.db.QueryRowContext(ctx,
		"SELECT "+summaryColumns+" FROM clipboard_history ORDER BY timestamp DESC, id DESC LIMIT 1"))
	if errors.Is(err, sql.ErrNoRows) {
		return Summary{}, ErrNotFound
	}
	if err != nil {
		return Summary{}, fmt.Errorf("newest entry: %w", err)
	}
	return sum, nil
}

// Get returns the full entry with the given id.
func (s *Store) Get(ctx context.Context, id int64) (*Entry, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	var (
		kind    sql.NullString
		content sql.NullString
		ts      float64
		pinned  sql.NullInt64
		preview sql.NullString
		image   []byte
		hash    sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT content_type, content, timestamp, pinned, preview, image_data, image_hash
		 FROM clipboard_history WHERE id = ?`, id).
		Scan(&kind, &content, &ts, &pinned, &preview, &image, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry %d: %w", id, err)
	}

	e := &Entry{
		ID:        id,
		Timestamp: fromSeconds(ts),
		Pinned:    pinned.Int64 != 0,
		Preview:   preview.String,
	}
	if kindOf(kind) == KindImage {
		e.Payload = Image{Data: image, Hash: hash.String}
	} else {
		e.Payload = Text{Content: content.String}
	}
	return e, nil
}

// ImagePayload returns the PNG bytes of an image entry. Text entries report
// ErrNotFound.
func (s *Store) ImagePayload(ctx context.Context, id int64) ([]byte, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT image_data FROM clipboard_history WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && data == nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("image payload %d: %w", id, err)
	}
	return data, nil
}

// Delete removes an entry. Deleting a missing id is not an error.
func (s *Store) Delete(ctx context.Context, id int64) error {
	return s.exec(ctx, `DELETE FROM clipboard_history WHERE id = ?`, id)
}

// TogglePin flips the pinned flag. A missing id is ignored.
func (s *Store) TogglePin(ctx context.Context, id int64) error {
	return s.exec(ctx,
		`UPDATE clipboard_history SET pinned = CASE WHEN pinned = 1 THEN 0 ELSE 1 END WHERE id = ?`, id)
}

// ClearUnpinned removes every unpinned entry.
func (s *Store) ClearUnpinned(ctx context.Context) error {
	return s.exec(ctx, `DELETE FROM clipboard_history WHERE pinned = 0`)
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	return count(ctx, s.db, "")
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("history: %w", err)
	}
	return nil
}

func kindOf(v sql.NullString) Kind {
	if v.Valid && v.String == string(KindImage) {
		return KindImage
	}
	return KindText
}

// Expire removes unpinned entries older than the retention window and
// returns how many were deleted.
func (s *Store) Expire(ctx context.Context) (int64, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	now := s.opts.Now()
	s.lastExpire = now
	return s.expire(ctx, s.db, now.Add(-s.opts.ExpireAfter))
}

func (s *Store) maybeExpire(ctx context.Context) {
	now := s.opts.Now()
	if now.Sub(s.lastExpire) < s.opts.ExpireInterval {
		return
	}
	s.lastExpire = now
	if _, err := s.expire(ctx, s.db, now.Add(-s.opts.ExpireAfter)); err != nil {
		s.log.Warn("expire entries", "err", err)
	}
}

func (s *Store) expire(ctx context.Context, q dbtx, cutoff time.Time) (int64, error) {
	res, err := q.ExecContext(ctx,
		`DELETE FROM clipboard_history WHERE pinned = 0 AND timestamp < ?`, toSeconds(cutoff))
	if err != nil {
		return 0, fmt.Errorf("expire: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Debug("expired entries", "count", n)
	}
	return n, nil
}

// enforceCap deletes the oldest unpinned entries until the total is within
// MaxEntries. Pinned entries are never removed, so a store full of pinned
// entries may exceed the cap.
func (s *Store) enforceCap(ctx context.Context, q dbtx) error {
	total, err := count(ctx, q, "")
	if err != nil {
		return err
	}
	if total <= s.opts.MaxEntries {
		return nil
	}
	unpinned, err := count(ctx, q, "WHERE pinned = 0")
	if err != nil {
		return err
	}
	if unpinned == 0 {
		s.log.Debug("entry cap exceeded by pinned entries", "total", total)
		return nil
	}
	_, err = q.ExecContext(ctx,
		`DELETE FROM clipboard_history WHERE id IN (
			SELECT id FROM clipboard_history WHERE pinned = 0
			ORDER BY timestamp ASC, id ASC LIMIT ?)`,
		min(total-s.opts.MaxEntries, unpinned))
	if err != nil {
		return fmt.Errorf("evict entries: %w", err)
	}
	return nil
}

func count(ctx context.Context, q dbtx, where string) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM clipboard_history "+where).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}
