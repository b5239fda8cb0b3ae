package session

import (
	"sort"
	"sync"
	"sync/atomic"

	"envgrid.ai/internal/protocol"
)

// codeOK is the journal and metrics code of a successful request.
const codeOK = 0

// Stats counts sessions and handled requests.
type Stats struct {
	sessions atomic.Int64

	mu       sync.Mutex
	requests map[RequestKey]uint64
}

type RequestKey struct {
	Kind protocol.Kind
	Code int
}

type RequestCount struct {
	RequestKey
	Count uint64
}

func NewStats() *Stats {
	return &Stats{requests: map[RequestKey]uint64{}}
}

func (s *Stats) sessionOpened() { s.sessions.Add(1) }
func (s *Stats) sessionClosed() { s.sessions.Add(-1) }

func (s *Stats) countRequest(kind protocol.Kind, code int) {
	s.mu.Lock()
	s.requests[RequestKey{Kind: kind, Code: code}]++
	s.mu.Unlock()
}

// Sessions is the number of open connections.
func (s *Stats) Sessions() int64 { return s.sessions.Load() }

// Requests returns the request counters sorted by kind then code.
func (s *Stats) Requests() []RequestCount {
	s.mu.Lock()
	out := make([]RequestCount, 0, len(s.requests))
	for k, n := range s.requests {
		out = append(out, RequestCount{RequestKey: k, Count: n})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Code < out[j].Code
	})
	return out
}
