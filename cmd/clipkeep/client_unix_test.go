//go:build !windows

package main

import (
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipkeep/internal/ipc"
	"go.klb.dev/clipkeep/internal/message"
	"go.klb.dev/clipkeep/internal/wire"
)

func TestRequest_NoDaemon(t *testing.T) {
	v := viper.New()
	v.Set("socket", filepath.Join(t.TempDir(), "missing.sock"))

	_, err := request(v, &message.Message{Type: message.TypeStatus})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no clipkeep daemon on")
}

func TestRequest_DialsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ck.sock")
	ln, err := ipc.Listen(path)
	require.NoError(t, err)
	defer ln.Close()

	var accepted atomic.Int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepted.Add(1)
			c := wire.New(conn)
			if _, err := c.ReadMsg(); err == nil {
				_ = c.WriteMsg(&message.Message{Type: message.TypeOK})
			}
			_ = c.Close()
		}
	}()

	v := viper.New()
	v.Set("socket", path)
	resp, err := request(v, &message.Message{Type: message.TypeClear})
	require.NoError(t, err)
	assert.Equal(t, message.TypeOK, resp.Type)
	assert.Equal(t, int32(1), accepted.Load())
}
