// Package server implements the accept loop and graceful shutdown: short
// Accept deadlines so the loop wakes often enough to notice a shutdown
// request, a tracked listener and connection map, and cancel-then-wait-then-
// force teardown. The per-connection admission gate uses
// golang.org/x/sync/semaphore.Weighted rather than a buffered channel:
// a fixed connection budget is a textbook weighted semaphore, and
// TryAcquire gives a non-blocking reject-over-capacity path for free.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/portcullis/portcullis/internal/logx"
)

// Handler is anything that can run one accepted connection to
// completion. internal/session.Handler implements this.
type Handler interface {
	Serve(ctx context.Context, conn net.Conn)
}

// acceptPollInterval bounds how long Accept can block before the loop
// re-checks for shutdown, so Stop never waits longer than this to be
// noticed.
const acceptPollInterval = 200 * time.Millisecond

// Server owns one listening socket and the lifetime of every
// connection accepted on it.
type Server struct {
	Addr    string
	Handler Handler
	Log     *logx.Logger

	sem *semaphore.Weighted // nil means no connection cap is enforced

	// Classify triages unexpected Accept errors. Defaults to
	// DefaultClassifier; exposed so platform-specific callers can
	// override it.
	Classify PlatformClassifier

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	ln       net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New builds a Server. maxConns <= 0 means unbounded concurrent
// connections.
func New(addr string, handler Handler, maxConns int64, log *logx.Logger) *Server {
	if log == nil {
		log = logx.New(logx.WithPrefix("server"))
	}
	s := &Server{
		Addr:     addr,
		Handler:  handler,
		Log:      log,
		conns:    make(map[net.Conn]struct{}),
		Classify: DefaultClassifier,
	}
	if maxConns > 0 {
		s.sem = semaphore.NewWeighted(maxConns)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// ListenAndServe binds Addr and runs the accept loop until Stop is
// called. Accept errors are triaged by Classify and never end the loop;
// the only error returned is a bind failure.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.Log.Infof("listening on %s", ln.Addr())
	defer s.Log.Infof("listener closed: %s", s.Addr)

	return s.acceptLoop(ln)
}

func (s *Server) acceptLoop(ln net.Listener) error {
	if tl, ok := ln.(*net.TCPListener); ok {
		_ = tl.SetDeadline(time.Now().Add(acceptPollInterval))
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if tl, ok2 := ln.(*net.TCPListener); ok2 {
					_ = tl.SetDeadline(time.Now().Add(acceptPollInterval))
				}
				select {
				case <-s.ctx.Done():
					return nil
				default:
					continue
				}
			}
			if tl, ok2 := ln.(*net.TCPListener); ok2 {
				_ = tl.SetDeadline(time.Now().Add(acceptPollInterval))
			}
			switch s.Classify(err) {
			case ActionIgnore:
				continue
			case ActionForceClose:
				// Accept returned no connection, so there is nothing to
				// abort; log and keep serving.
				s.Log.Errorf("accept error (unreachable): %v", err)
				continue
			default:
				s.Log.Errorf("unexpected accept error: %v", err)
				continue
			}
		}

		s.trackConn(conn)
		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrackConn(conn)
	defer conn.Close()

	remote := conn.RemoteAddr().String()

	if s.sem != nil {
		if !s.sem.TryAcquire(1) {
			s.Log.Infof("reject %s: too many connections", remote)
			return
		}
		defer s.sem.Release(1)
	}

	defer func() {
		if r := recover(); r != nil {
			s.Log.Errorf("session panic for %s: %v", remote, r)
		}
	}()

	s.Handler.Serve(s.ctx, conn)
}

func (s *Server) trackConn(c net.Conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrackConn(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// Stop cancels every in-flight session, closes the listener, and waits
// up to timeout for active connections to drain before force-closing
// them.
func (s *Server) Stop(timeout time.Duration) {
	s.stopOnce.Do(func() {
		s.Log.Infof("stopping (timeout=%s)", timeout)
		s.cancel()

		s.mu.Lock()
		if s.ln != nil {
			_ = s.ln.Close()
		}
		now := time.Now()
		for c := range s.conns {
			_ = c.SetDeadline(now)
		}
		s.mu.Unlock()

		done := make(chan struct{})
		go func() { s.wg.Wait(); close(done) }()

		select {
		case <-done:
			s.Log.Debugf("stopped gracefully")
		case <-time.After(timeout):
			s.Log.Infof("force closing active connections after timeout")
			s.mu.Lock()
			for c := range s.conns {
				_ = c.Close()
			}
			s.mu.Unlock()
			<-done
		}
	})
}
