// Package session implements the per-connection state machine: read the
// request head, check the ban list, authorize, then dispatch to a
// CONNECT tunnel or a plain-HTTP forward. It owns the origin dial, the
// keep-alive splice between requests, and cleanup on every exit path.
package session

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"strconv"
	"time"

	"github.com/portcullis/portcullis/internal/authz"
	"github.com/portcullis/portcullis/internal/logx"
	"github.com/portcullis/portcullis/internal/policy"
	"github.com/portcullis/portcullis/internal/reqhead"
	"github.com/portcullis/portcullis/internal/relay"
)

// writeDeadline bounds the BANNED/UNAUTH/CONNECT-200 responses: these
// are all small, synchronous writes to a
// client that may already be gone, and none of them should be able to
// hang a goroutine indefinitely.
const writeDeadline = 3 * time.Second

// Handler runs the per-connection state machine against a shared
// Policy snapshot. It holds no per-session mutable state of its own —
// every Serve call is independent and safe to run concurrently from
// multiple goroutines sharing the same Handler.
type Handler struct {
	Policy      *policy.Policy
	DialTimeout time.Duration
	HeadTimeout time.Duration
	Log         *logx.Logger
}

// New builds a Handler. dialTimeout/headTimeout <= 0 disable the
// respective bound.
func New(p *policy.Policy, dialTimeout, headTimeout time.Duration, log *logx.Logger) *Handler {
	if log == nil {
		log = logx.New(logx.WithPrefix("session"))
	}
	return &Handler{Policy: p, DialTimeout: dialTimeout, HeadTimeout: headTimeout, Log: log}
}

// Serve runs one accepted client connection to completion. It never
// closes conn — the caller (internal/server) owns that, so the close
// happens the same way on every exit path instead of being duplicated
// here per branch.
func (h *Handler) Serve(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	br := bufio.NewReaderSize(conn, 4096)

	if h.HeadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(h.HeadTimeout))
	}
	head, err := reqhead.Parse(br)
	_ = conn.SetReadDeadline(time.Time{})
	if err != nil {
		h.Log.Debugf("head parse from %s: %v", remote, err)
		return
	}

	// Anything still sitting in br's internal buffer beyond the parsed
	// head (a pipelined TLS ClientHello right after CONNECT, or bytes
	// relayed by a keep-alive splice) must still reach the origin once we
	// switch to raw net.Conn I/O below — wrap conn so Read drains br first.
	client := net.Conn(&bufConn{Conn: conn, br: br})

	if h.Policy.IsBanned(head.RemoteHost) {
		h.Log.Infof("banned host %s from %s", head.RemoteHost, remote)
		writeBounded(client, []byte("BAN"))
		return
	}

	if authz.Check(head, h.Policy) == authz.Unauthorized {
		h.Log.Infof("unauthorized %s %s from %s", head.Method, head.RemoteHost, remote)
		writeBounded(client, []byte(head.Method+" 401 HTTP/1.1\r\n\r\n"))
		return
	}

	if head.Method == "CONNECT" {
		h.tunnel(ctx, client, head)
		return
	}
	h.forward(ctx, client, head)
}

// bufConn lets code downstream of head parsing read through a
// net.Conn while first draining whatever reqhead.Parse already pulled
// into its bufio.Reader but didn't consume.
type bufConn struct {
	net.Conn
	br *bufio.Reader
}

func (b *bufConn) Read(p []byte) (int, error) {
	if b.br.Buffered() > 0 {
		return b.br.Read(p)
	}
	return b.Conn.Read(p)
}

// CloseWrite forwards the half-close to the underlying conn when it
// supports one, so relay.Pipe's EOF-propagation still reaches the real
// socket through this wrapper.
func (b *bufConn) CloseWrite() error {
	if hc, ok := b.Conn.(interface{ CloseWrite() error }); ok {
		return hc.CloseWrite()
	}
	return nil
}

func (h *Handler) dial(ctx context.Context, head *reqhead.Head) (net.Conn, error) {
	dialCtx := ctx
	var cancel context.CancelFunc
	if h.DialTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, h.DialTimeout)
		defer cancel()
	}
	addr := net.JoinHostPort(head.RemoteHost, strconv.Itoa(int(head.RemotePort)))
	var d net.Dialer
	return d.DialContext(dialCtx, "tcp", addr)
}

// tunnel handles a CONNECT request: dial the origin, answer 200 once the
// dial succeeds, then splice client and origin together until either
// side closes.
func (h *Handler) tunnel(ctx context.Context, client net.Conn, head *reqhead.Head) {
	origin, err := h.dial(ctx, head)
	if err != nil {
		h.Log.Debugf("CONNECT dial %s:%d failed: %v", head.RemoteHost, head.RemotePort, err)
		return
	}
	defer origin.Close()

	if !writeBounded(client, []byte("HTTP/1.1 200 Connection established\r\n\r\n")) {
		return
	}
	relay.Splice(ctx, client, origin)
}

// forward handles a plain-HTTP request: dial the origin, send it the
// request head, relay the response back, and — if the client asked for
// keep-alive — splice the connection open for further requests instead
// of closing after one. Client bytes after the head (such as a request
// body) are not sent before the response; they reach the origin only
// through the keep-alive splice.
func (h *Handler) forward(ctx context.Context, client net.Conn, head *reqhead.Head) {
	origin, err := h.dial(ctx, head)
	if err != nil {
		h.Log.Debugf("HTTP dial %s:%d failed: %v", head.RemoteHost, head.RemotePort, err)
		return
	}
	defer origin.Close()

	if err := writeRequestHead(origin, head); err != nil {
		h.Log.Debugf("write request head to origin failed: %v", err)
		return
	}

	relay.Pipe(ctx, origin, client)

	if head.KeepAlive {
		relay.Splice(ctx, client, origin)
	}
}

// writeRequestHead reconstructs and sends the request head exactly as
// received: every raw line plus CRLF, then a final CRLF terminator. No
// header mutation, no Proxy-Authorization stripping — the origin sees
// the same head the client sent, byte for byte.
func writeRequestHead(dst net.Conn, head *reqhead.Head) error {
	var buf bytes.Buffer
	for _, line := range head.RawLines {
		buf.WriteString(line)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	_, err := dst.Write(buf.Bytes())
	return err
}

// writeBounded writes p to conn under a bounded deadline; returns false
// on error (caller should treat the session as over).
func writeBounded(conn net.Conn, p []byte) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	_, err := conn.Write(p)
	_ = conn.SetWriteDeadline(time.Time{})
	return err == nil
}
