// Package server implements the Listener: the single accept loop that
// hands each incoming byte-stream to its own Session and tracks the set
// of live sessions so shutdown can wait for them instead of killing them.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"pgwireproxy/executor"
	"pgwireproxy/rewrite"
	"pgwireproxy/session"
)

// Listener accepts TCP connections and spawns one Session per client.
type Listener struct {
	addr     string
	exec     executor.Executor
	rewriter *rewrite.Rewriter
	sessCfg  session.Config
	logger   zerolog.Logger

	mu       sync.Mutex // protects ln and sessions
	ln       net.Listener
	sessions map[int64]*session.Session
	nextID   int64

	wg   sync.WaitGroup
	quit chan struct{}
}

// New builds a Listener that will serve on addr, handing each accepted
// connection to a fresh Session built from exec, rewriter, and sessCfg.
func New(addr string, exec executor.Executor, rewriter *rewrite.Rewriter, sessCfg session.Config, logger zerolog.Logger) *Listener {
	return &Listener{
		addr:     addr,
		exec:     exec,
		rewriter: rewriter,
		sessCfg:  sessCfg,
		logger:   logger,
		sessions: make(map[int64]*session.Session),
		quit:     make(chan struct{}),
	}
}

// ListenAndServe starts accepting connections. It blocks until Shutdown
// is called or the listen socket fails unrecoverably.
func (l *Listener) ListenAndServe() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()
	l.logger.Info().Str("addr", ln.Addr().String()).Msg("listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-l.quit:
				return nil
			default:
				l.logger.Info().Err(err).Msg("accept error")
				continue
			}
		}

		id := atomic.AddInt64(&l.nextID, 1)
		sess := session.New(id, conn, l.exec, l.rewriter, l.sessCfg, l.logger)

		l.mu.Lock()
		l.sessions[id] = sess
		l.mu.Unlock()

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.deregister(id)
			sess.Run()
		}()
	}
}

func (l *Listener) deregister(id int64) {
	l.mu.Lock()
	delete(l.sessions, id)
	l.mu.Unlock()
}

// Addr returns the listener's network address, or nil if not yet listening.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		return l.ln.Addr()
	}
	return nil
}

// LiveSessions returns the number of currently tracked sessions.
func (l *Listener) LiveSessions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}

// Shutdown stops accepting new connections and waits for live sessions to
// end on their own — clients are expected to send Terminate or close,
// sessions are never force-killed — up to ctx's deadline.
func (l *Listener) Shutdown(ctx context.Context) error {
	close(l.quit)
	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()
	if ln != nil {
		ln.Close()
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
