package wire

import (
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipkeep/internal/message"
)

func pipe(t *testing.T) (*Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return New(a), b
}

func TestWriteRead_RoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	ca, cb := New(a), New(b)

	go func() {
		_ = ca.WriteMsg(&message.Message{Type: message.TypeSearch, Query: "needle", Limit: 10})
		_ = ca.WriteMsg(&message.Message{Type: message.TypeClear})
	}()

	m, err := cb.ReadMsg()
	require.NoError(t, err)
	assert.Equal(t, message.TypeSearch, m.Type)
	assert.Equal(t, "needle", m.Query)
	assert.Equal(t, 10, m.Limit)

	m, err = cb.ReadMsg()
	require.NoError(t, err)
	assert.Equal(t, message.TypeClear, m.Type)
}

func TestReadMsg_ToleratesCRLF(t *testing.T) {
	c, raw := pipe(t)
	go func() { _, _ = raw.Write([]byte("{\"type\":\"STATUS\"}\r\n")) }()

	m, err := c.ReadMsg()
	require.NoError(t, err)
	assert.Equal(t, message.TypeStatus, m.Type)
}

func TestReadMsg_RejectsOversized(t *testing.T) {
	c, raw := pipe(t)
	go func() {
		_, _ = raw.Write([]byte(`{"type":"SEARCH","query":"` + strings.Repeat("x", MaxMessageSize) + "\"}\n"))
	}()

	_, err := c.ReadMsg()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestReadMsg_RejectsMalformed(t *testing.T) {
	c, raw := pipe(t)
	go func() { _, _ = raw.Write([]byte("hello\n")) }()

	_, err := c.ReadMsg()
	assert.Error(t, err)
}
