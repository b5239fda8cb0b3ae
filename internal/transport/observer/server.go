// Package observer streams world lifecycle events to local viewers over
// websocket.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"envgrid.ai/internal/events"
	"envgrid.ai/internal/sim/registry"
)

const Version = "1"

const (
	TypeSubscribe  = "SUBSCRIBE"
	TypeSubscribed = "SUBSCRIBED"
	TypeEvent      = "EVENT"
)

// SubscribeMsg is the first client frame and may be re-sent to change the
// filters. Empty filters match everything.
type SubscribeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Worlds          []string `json:"worlds,omitempty"`
	Events          []string `json:"events,omitempty"`
}

type SubscribedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type EventMsg struct {
	Type  string       `json:"type"`
	Event events.Event `json:"event"`
}

type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	Worlds          []WorldInfo `json:"worlds"`
}

type WorldInfo struct {
	Name   string `json:"name"`
	State  string `json:"state"`
	Agents int    `json:"agents"`
	Food   int    `json:"food"`
}

type subscriber struct {
	out chan []byte

	mu     sync.Mutex
	worlds map[string]bool
	types  map[events.Type]bool
}

func (s *subscriber) set(sub SubscribeMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.worlds, s.types = nil, nil
	for _, w := range sub.Worlds {
		if w = strings.TrimSpace(w); w != "" {
			if s.worlds == nil {
				s.worlds = map[string]bool{}
			}
			s.worlds[w] = true
		}
	}
	for _, t := range sub.Events {
		if t = strings.TrimSpace(t); t != "" {
			if s.types == nil {
				s.types = map[events.Type]bool{}
			}
			s.types[events.Type(t)] = true
		}
	}
}

func (s *subscriber) wants(e events.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.worlds != nil && !s.worlds[e.World] {
		return false
	}
	return s.types == nil || s.types[e.Type]
}

// Server is an events.Publisher that fans events out to websocket viewers.
// A viewer that falls behind loses events rather than slowing publishers.
type Server struct {
	reg *registry.Registry
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	dropped  atomic.Uint64

	mu   sync.RWMutex
	subs map[string]*subscriber
}

func NewServer(reg *registry.Registry, logger *log.Logger) *Server {
	return &Server{
		reg:  reg,
		log:  logger,
		subs: map[string]*subscriber{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Publish(e events.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.subs) == 0 {
		return
	}
	b, err := json.Marshal(EventMsg{Type: TypeEvent, Event: e})
	if err != nil {
		return
	}
	for _, sub := range s.subs {
		if !sub.wants(e) {
			continue
		}
		select {
		case sub.out <- b:
		default:
			s.dropped.Add(1)
		}
	}
}

// Viewers reports the number of connected viewers.
func (s *Server) Viewers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

func (s *Server) Dropped() uint64 { return s.dropped.Load() }

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp := BootstrapResponse{ProtocolVersion: Version, Worlds: []WorldInfo{}}
		for _, w := range s.reg.Worlds() {
			resp.Worlds = append(resp.Worlds, WorldInfo{Name: w.Name, State: w.State.String(), Agents: w.Agents, Food: w.Food})
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var first SubscribeMsg
		if err := json.Unmarshal(msg, &first); err != nil || first.Type != TypeSubscribe || first.ProtocolVersion != Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		sub := &subscriber{out: make(chan []byte, 1024)}
		sub.set(first)
		ack, _ := json.Marshal(SubscribedMsg{Type: TypeSubscribed, SessionID: sid})
		sub.out <- ack

		s.mu.Lock()
		s.subs[sid] = sub
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.subs, sid)
			s.mu.Unlock()
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeDone := make(chan struct{})
		go func() {
			defer close(writeDone)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sub.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for ctx.Err() == nil {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var upd SubscribeMsg
			if err := json.Unmarshal(msg, &upd); err != nil || upd.Type != TypeSubscribe {
				continue
			}
			sub.set(upd)
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		select {
		case <-writeDone:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
