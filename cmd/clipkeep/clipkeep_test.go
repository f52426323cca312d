package main

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipkeep/internal/message"
)

func TestParseID(t *testing.T) {
	id, err := parseID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "0", "-1", "abc"} {
		_, err := parseID(bad)
		assert.Error(t, err, bad)
	}
}

func TestDBPath(t *testing.T) {
	v := viper.New()
	v.Set("data-dir", filepath.Join("data", "clipkeep"))
	assert.Equal(t, filepath.Join("data", "clipkeep", "clipboard_history.db"), dbPath(v))

	v.Set("db", "custom.db")
	assert.Equal(t, "custom.db", dbPath(v))
}

func TestStoreOptionsFromFlags(t *testing.T) {
	cmd := newDaemonCmd()
	v := viper.New()
	require.NoError(t, cmd.Flags().Set("max-entries", "20"))
	require.NoError(t, cmd.Flags().Set("expire-after", "1h"))
	require.NoError(t, v.BindPFlags(cmd.Flags()))

	opts := storeOptions(v)
	assert.Equal(t, 20, opts.MaxEntries)
	assert.Equal(t, 50000, opts.MaxContentLength)
	assert.Equal(t, time.Hour, opts.ExpireAfter)
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b c", oneLine("a\n b\t\tc ", 10))
	assert.Equal(t, "abcd…", oneLine("abcdefgh", 5))
}

func TestPrintEntries(t *testing.T) {
	var buf bytes.Buffer
	printEntries(&buf, nil)
	assert.Equal(t, "No history.\n", buf.String())

	buf.Reset()
	printEntries(&buf, []message.Entry{
		{ID: 7, Kind: "text", Pinned: true, Preview: "hello\nworld", Timestamp: time.Now()},
		{ID: 3, Kind: "image", Preview: "Image (4 KB)", Timestamp: time.Now()},
	})
	out := buf.String()
	assert.Contains(t, out, "hello world")
	assert.Contains(t, out, "Image (4 KB)")
	assert.Regexp(t, `(?m)^7\s+\*\s+text`, out)
}
