package server

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portcullis/portcullis/internal/logx"
)

type blockingHandler struct {
	entered chan struct{}
	release chan struct{}
}

func (h *blockingHandler) Serve(ctx context.Context, conn net.Conn) {
	select {
	case h.entered <- struct{}{}:
	default:
	}
	select {
	case <-h.release:
	case <-ctx.Done():
	}
}

func dialRetry(t *testing.T, addr string) net.Conn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c, err := net.Dial("tcp", addr)
		if err == nil {
			return c
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("could not dial server")
	return nil
}

func TestServeAndGracefulStop(t *testing.T) {
	h := &blockingHandler{entered: make(chan struct{}, 4), release: make(chan struct{})}
	srv := New("127.0.0.1:0", h, 0, logx.New(logx.WithPrefix("test")))

	var wg sync.WaitGroup
	wg.Add(1)
	serveErrCh := make(chan error, 1)
	go func() {
		defer wg.Done()
		serveErrCh <- srv.ListenAndServe()
	}()

	// Wait for the listener to actually bind before dialing.
	var addr string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		srv.mu.Lock()
		if srv.ln != nil {
			addr = srv.ln.Addr().String()
		}
		srv.mu.Unlock()
		if addr != "" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NotEmpty(t, addr)

	conn := dialRetry(t, addr)
	defer conn.Close()

	select {
	case <-h.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never invoked")
	}

	close(h.release)
	srv.Stop(2 * time.Second)

	wg.Wait()
	err := <-serveErrCh
	assert.NoError(t, err)
}

func TestMaxConnsRejectsOverCapacity(t *testing.T) {
	h := &blockingHandler{entered: make(chan struct{}, 4), release: make(chan struct{})}
	srv := New("127.0.0.1:0", h, 1, logx.New(logx.WithPrefix("test")))

	go srv.ListenAndServe()
	defer srv.Stop(time.Second)

	var addr string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		srv.mu.Lock()
		if srv.ln != nil {
			addr = srv.ln.Addr().String()
		}
		srv.mu.Unlock()
		if addr != "" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NotEmpty(t, addr)

	first := dialRetry(t, addr)
	defer first.Close()
	select {
	case <-h.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first connection never admitted")
	}

	second := dialRetry(t, addr)
	defer second.Close()

	buf := make([]byte, 1)
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := second.Read(buf)
	assert.Error(t, err) // rejected connection is closed with no bytes written

	close(h.release)
}
