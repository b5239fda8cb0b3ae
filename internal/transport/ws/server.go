// Package ws carries environment streams over websocket text frames, one
// JSON envelope per frame.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"envgrid.ai/internal/protocol"
	"envgrid.ai/internal/session"
)

const (
	writeTimeout       = 5 * time.Second
	defaultIdleTimeout = 5 * time.Minute
	maxFrameBytes      = 4 << 20
)

type Server struct {
	handler *session.Handler
	log     *log.Logger

	// IdleTimeout closes a connection that sends nothing for this long.
	IdleTimeout time.Duration

	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    map[*websocket.Conn]struct{}
	closing  bool
	sessions sync.WaitGroup
}

func NewServer(h *session.Handler, logger *log.Logger) *Server {
	return &Server{
		handler:     h,
		log:         logger,
		IdleTimeout: defaultIdleTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// track registers a live connection. It reports false once Shutdown began.
func (s *Server) track(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	s.sessions.Add(1)
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.sessions.Done()
}

// Shutdown asks every client to go away and waits until their sessions have
// run disconnect cleanup. Connections still open when ctx ends are closed
// and waited for as well; ctx's error is returned in that case.
// http.Server.Shutdown does not cover hijacked websocket connections, so
// callers run both.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	for conn := range s.conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(time.Second))
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
	<-done
	return ctx.Err()
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if !s.track(conn) {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(time.Second))
			return
		}
		defer s.untrack(conn)
		conn.SetReadLimit(maxFrameBytes)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		st := &stream{conn: conn, ctx: ctx, out: make(chan []byte, 1), idle: s.IdleTimeout}
		writerDone := make(chan struct{})

		// Writer goroutine.
		go func() {
			defer close(writerDone)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-st.out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		err = s.handler.Serve(ctx, st, r.RemoteAddr)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Printf("ws %s: %v", r.RemoteAddr, err)
		}
		st.flush()
		cancel()
		<-writerDone
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	}
}

// stream adapts a websocket connection to session.Stream.
type stream struct {
	conn *websocket.Conn
	ctx  context.Context
	out  chan []byte
	idle time.Duration
}

func (s *stream) Recv() (protocol.Request, error) {
	if s.idle > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.idle))
	}
	_, msg, err := s.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return protocol.Request{}, io.EOF
		}
		return protocol.Request{}, err
	}
	return protocol.DecodeRequest(msg)
}

func (s *stream) Send(resp protocol.Response) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	select {
	case s.out <- b:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// flush waits briefly for the last response to leave the queue.
func (s *stream) flush() {
	deadline := time.Now().Add(writeTimeout)
	for len(s.out) > 0 && time.Now().Before(deadline) && s.ctx.Err() == nil {
		time.Sleep(time.Millisecond)
	}
}
