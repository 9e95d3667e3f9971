package relayclient

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/NotCoffee418/smart_meter_relay/pkg/telegram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOptions() Options {
	opts := DefaultOptions()
	opts.MaxRetries = 3
	opts.BaseRetryDelay = time.Millisecond
	opts.MaxRetryDelay = 5 * time.Millisecond
	opts.ReadTimeout = time.Second
	return opts
}

func TestStartListener_DeliversValidTelegramsOnly(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	good := telegram.Build([]byte("\r\n0-0:96.14.0(0001)\r\n"))
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("/BAD!0000\r\n"))
		conn.Write(good[:7])
		time.Sleep(5 * time.Millisecond)
		conn.Write(good[7:])
		time.Sleep(time.Second)
	}()

	var mu sync.Mutex
	var got [][]byte
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- StartListener(ctx, ln.Addr().String(), fastOptions(), func(data []byte) {
			mu.Lock()
			got = append(got, data)
			mu.Unlock()
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, good, got[0])
}

func TestStartListener_GivesUp(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	err = StartListener(context.Background(), addr, fastOptions(), func([]byte) {})
	assert.ErrorIs(t, err, ErrMaxRetries)
}
