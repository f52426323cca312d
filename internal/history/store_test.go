package history

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func openTest(t *testing.T, opts Options) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(context.Background(), path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

// addTexts inserts each text one second apart and returns their ids, oldest
// first.
func addTexts(t *testing.T, s *Store, clk *fakeClock, texts ...string) []int64 {
	t.Helper()
	ctx := context.Background()
	ids := make([]int64, 0, len(texts))
	for _, text := range texts {
		clk.Advance(time.Second)
		added, err := s.AddText(ctx, text)
		require.NoError(t, err)
		require.True(t, added, "text %q not added", text)

		var id int64
		require.NoError(t, s.db.QueryRowContext(ctx, "SELECT MAX(id) FROM clipboard_history").Scan(&id))
		ids = append(ids, id)
	}
	return ids
}

func previews(list []Summary) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.Preview
	}
	return out
}

func TestAddText_SkipsConsecutiveDuplicates(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	s, _ := openTest(t, Options{Now: clk.Now})

	for _, tc := range []struct {
		text string
		want bool
	}{
		{"hello", true},
		{"hello", false},
		{"world", true},
		{"hello", true},
	} {
		clk.Advance(time.Second)
		added, err := s.AddText(ctx, tc.text)
		require.NoError(t, err)
		assert.Equal(t, tc.want, added, tc.text)
	}

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestAddText_IgnoresBlank(t *testing.T) {
	ctx := context.Background()
	s, _ := openTest(t, Options{})

	for _, text := range []string{"", "   ", "\r\n\t "} {
		added, err := s.AddText(ctx, text)
		require.NoError(t, err)
		assert.False(t, added)
	}
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAddText_TruncatesLongContent(t *testing.T) {
	ctx := context.Background()
	s, _ := openTest(t, Options{MaxContentLength: 10})

	_, err := s.AddText(ctx, strings.Repeat("é", 25))
	require.NoError(t, err)

	list, err := s.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, list, 1)

	e, err := s.Get(ctx, list[0].ID)
	require.NoError(t, err)
	assert.Equal(t, Text{Content: strings.Repeat("é", 10)}, e.Payload)
}

func TestTextPreview(t *testing.T) {
	assert.Equal(t, "a b c d", textPreview("a\r\nb\nc\rd"))
	assert.Equal(t, "padded", textPreview("\n  padded  \n"))

	long := strings.Repeat("x", 150) + "\n" + strings.Repeat("y", 150)
	p := textPreview(long)
	assert.Equal(t, 200, len([]rune(p)))
	assert.NotContains(t, p, "\n")
}

func TestAddImage_DeduplicatesByHash(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	s, _ := openTest(t, Options{Now: clk.Now})

	a := bytes.Repeat([]byte{0x89, 'P', 'N', 'G'}, 1024)
	b := bytes.Repeat([]byte{0x89, 'P', 'N', 'G', 0}, 512)

	added, err := s.AddImage(ctx, a)
	require.NoError(t, err)
	assert.True(t, added)

	clk.Advance(time.Second)
	added, err = s.AddImage(ctx, bytes.Clone(a))
	require.NoError(t, err)
	assert.False(t, added)

	clk.Advance(time.Second)
	added, err = s.AddImage(ctx, b)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.AddImage(ctx, nil)
	require.NoError(t, err)
	assert.False(t, added)

	list, err := s.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, list, 2)

	sum := sha256.Sum256(a)
	older := list[1]
	assert.Equal(t, KindImage, older.Kind)
	assert.Equal(t, hex.EncodeToString(sum[:]), older.ImageHash)
	assert.Equal(t, "Image (4 KB)", older.Preview)

	data, err := s.ImagePayload(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, a, data)

	e, err := s.Get(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, KindImage, e.Kind())
	assert.Equal(t, a, e.Payload.(Image).Data)
}

func TestAddImage_DoesNotMatchTextEntry(t *testing.T) {
	ctx := context.Background()
	s, _ := openTest(t, Options{})

	_, err := s.AddText(ctx, "caption")
	require.NoError(t, err)
	added, err := s.AddImage(ctx, []byte("caption"))
	require.NoError(t, err)
	assert.True(t, added)
}

func TestCap_EvictsOldestUnpinned(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	s, _ := openTest(t, Options{Now: clk.Now})

	var first int64
	for i := range 501 {
		clk.Advance(time.Second)
		_, err := s.AddText(ctx, fmt.Sprintf("entry %d", i))
		require.NoError(t, err)
		if i == 0 {
			list, err := s.List(ctx, Query{Limit: 1})
			require.NoError(t, err)
			first = list[0].ID
		}
	}

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 500, n)

	_, err = s.Get(ctx, first)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCap_KeepsPinned(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	s, _ := openTest(t, Options{MaxEntries: 5, Now: clk.Now})

	pinned := addTexts(t, s, clk, "p1", "p2", "p3")
	for _, id := range pinned {
		require.NoError(t, s.TogglePin(ctx, id))
	}
	for i := range 10 {
		clk.Advance(time.Second)
		_, err := s.AddText(ctx, fmt.Sprintf("u%d", i))
		require.NoError(t, err)
	}

	list, err := s.List(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"p3", "p2", "p1", "u9", "u8"}, previews(list))
}

func TestCap_AllPinnedSkipsEviction(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	s, _ := openTest(t, Options{MaxEntries: 2, Now: clk.Now})

	ids := addTexts(t, s, clk, "a", "b")
	for _, id := range ids {
		require.NoError(t, s.TogglePin(ctx, id))
	}
	addTexts(t, s, clk, "c")

	list, err := s.List(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, previews(list))
	for _, e := range list {
		assert.True(t, e.Pinned)
	}
}

func TestExpire_DropsOldUnpinned(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	s, _ := openTest(t, Options{Now: clk.Now})

	ids := addTexts(t, s, clk, "old", "keep")
	require.NoError(t, s.TogglePin(ctx, ids[1]))

	clk.Advance(31 * 24 * time.Hour)
	addTexts(t, s, clk, "new")

	list, err := s.List(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"keep", "new"}, previews(list))
}

func TestExpire_RunsAtMostHourly(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	s, _ := openTest(t, Options{ExpireAfter: time.Minute, Now: clk.Now})

	addTexts(t, s, clk, "first")
	clk.Advance(2 * time.Minute)
	addTexts(t, s, clk, "second")

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "expiry ran before the interval elapsed")

	deleted, err := s.Expire(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
}

func TestOpen_ExpiresStaleEntries(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := Open(ctx, path, Options{Now: clk.Now})
	require.NoError(t, err)
	addTexts(t, s, clk, "stale")
	require.NoError(t, s.Close())

	clk.Advance(31 * 24 * time.Hour)
	s, err = Open(ctx, path, Options{Now: clk.Now})
	require.NoError(t, err)
	defer s.Close()

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestList_OrdersPinnedThenNewest(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	s, _ := openTest(t, Options{Now: clk.Now})

	ids := addTexts(t, s, clk, "a", "b", "c")
	require.NoError(t, s.TogglePin(ctx, ids[0]))

	list, err := s.List(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "b"}, previews(list))
	assert.True(t, list[0].Pinned)
	assert.Equal(t, 1, list[1].ContentLength)

	page, err := s.List(ctx, Query{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, previews(page))
}

func TestList_SameTimestampOrdersByID(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	s, _ := openTest(t, Options{Now: clk.Now})

	for _, text := range []string{"x", "y", "z"} {
		_, err := s.AddText(ctx, text)
		require.NoError(t, err)
	}
	list, err := s.List(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "y", "x"}, previews(list))
}

func TestList_SearchIsLiteral(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	s, _ := openTest(t, Options{Now: clk.Now})

	addTexts(t, s, clk, "100% done", "100 percent", "file_name", "filename", `C:\temp`)
	clk.Advance(time.Second)
	_, err := s.AddImage(ctx, []byte("png"))
	require.NoError(t, err)

	for _, tc := range []struct {
		query string
		want  []string
	}{
		{"%", []string{"100% done"}},
		{"_", []string{"file_name"}},
		{`\`, []string{`C:\temp`}},
		{"DONE", []string{"100% done"}},
		{"image", []string{"Image (0 KB)"}},
		{"absent", nil},
	} {
		t.Run(tc.query, func(t *testing.T) {
			list, err := s.List(ctx, Query{Search: tc.query})
			require.NoError(t, err)
			if tc.want == nil {
				assert.Empty(t, list)
				return
			}
			assert.Equal(t, tc.want, previews(list))
		})
	}
}

func TestMutations_AreIdempotentForMissingIDs(t *testing.T) {
	ctx := context.Background()
	s, _ := openTest(t, Options{})

	assert.NoError(t, s.Delete(ctx, 42))
	assert.NoError(t, s.TogglePin(ctx, 42))
	assert.NoError(t, s.ClearUnpinned(ctx))

	_, err := s.Get(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.ImagePayload(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTogglePin_Flips(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	s, _ := openTest(t, Options{Now: clk.Now})

	id := addTexts(t, s, clk, "x")[0]
	require.NoError(t, s.TogglePin(ctx, id))
	e, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, e.Pinned)

	require.NoError(t, s.TogglePin(ctx, id))
	e, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, e.Pinned)
	assert.WithinDuration(t, clk.Now(), e.Timestamp, time.Millisecond)
}

func TestClearUnpinned_KeepsPinned(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	s, _ := openTest(t, Options{Now: clk.Now})

	ids := addTexts(t, s, clk, "a", "b", "c")
	require.NoError(t, s.TogglePin(ctx, ids[1]))
	require.NoError(t, s.ClearUnpinned(ctx))

	list, err := s.List(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, previews(list))
}

func TestImagePayload_TextEntry(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	s, _ := openTest(t, Options{Now: clk.Now})

	id := addTexts(t, s, clk, "plain")[0]
	_, err := s.ImagePayload(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_RecreatesCorruptFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("garbage!"), 512), 0o600))
	require.NoError(t, os.WriteFile(path+"-wal", []byte("stale"), 0o600))

	s, err := Open(ctx, path, Options{})
	require.NoError(t, err)
	defer s.Close()

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	added, err := s.AddText(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, added)
}

func TestOpen_LockedFileIsNotRecreated(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`CREATE TABLE keep (v TEXT); INSERT INTO keep VALUES ('survivor')`)
	require.NoError(t, err)

	// Rollback-journal mode: an exclusive transaction blocks readers too.
	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, "BEGIN EXCLUSIVE")
	require.NoError(t, err)

	_, err = Open(ctx, path, Options{BusyTimeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.NotErrorIs(t, err, errCorrupt)

	_, err = conn.ExecContext(ctx, "COMMIT")
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	var v string
	require.NoError(t, db.QueryRow("SELECT v FROM keep").Scan(&v))
	assert.Equal(t, "survivor", v)
}

func TestOpen_MigratesLegacySchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE clipboard_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT NOT NULL,
		content_type TEXT DEFAULT 'text',
		timestamp REAL NOT NULL,
		pinned INTEGER DEFAULT 0,
		preview TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO clipboard_history (content, timestamp, preview) VALUES ('legacy', 1700000000.5, 'legacy')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(ctx, path, Options{ExpireAfter: 100 * 365 * 24 * time.Hour})
	require.NoError(t, err)
	defer s.Close()

	list, err := s.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, KindText, list[0].Kind)
	assert.Equal(t, time.Unix(1700000000, 5e8).Unix(), list[0].Timestamp.Unix())

	added, err := s.AddImage(ctx, []byte("png bytes"))
	require.NoError(t, err)
	assert.True(t, added)
}

func TestOpen_AcceptsSchemaWithImageColumns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE clipboard_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT NOT NULL,
		content_type TEXT DEFAULT 'text',
		timestamp REAL NOT NULL,
		pinned INTEGER DEFAULT 0,
		preview TEXT,
		image_data BLOB,
		image_hash TEXT)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(ctx, path, Options{})
	require.NoError(t, err)
	defer s.Close()

	added, err := s.AddImage(ctx, []byte("png bytes"))
	require.NoError(t, err)
	assert.True(t, added)
}

func TestOpen_InMemory(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, ":memory:", Options{})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.AddText(ctx, "ephemeral")
	require.NoError(t, err)
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestClose_RejectsFurtherUse(t *testing.T) {
	ctx := context.Background()
	s, _ := openTest(t, Options{})
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.AddText(ctx, "late")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.List(ctx, Query{})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Delete(ctx, 1), ErrClosed)
}

func TestNewest_IgnoresPinOrder(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	s, _ := openTest(t, Options{Now: clk.Now})

	_, err := s.Newest(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	ids := addTexts(t, s, clk, "pinned", "latest")
	require.NoError(t, s.TogglePin(ctx, ids[0]))

	n, err := s.Newest(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids[1], n.ID)
	assert.Equal(t, "latest", n.Preview)
}
