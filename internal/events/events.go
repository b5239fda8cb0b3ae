// Package events publishes world lifecycle events.
package events

import (
	"time"
)

type Type string

const (
	WorldCreated   Type = "world.created"
	WorldDestroyed Type = "world.destroyed"
	WorldReset     Type = "world.reset"
	AgentJoined    Type = "agent.joined"
	AgentLeft      Type = "agent.left"
	EpisodeEnded   Type = "episode.ended"
)

type Event struct {
	Type    Type      `json:"type"`
	World   string    `json:"world"`
	Agent   string    `json:"agent,omitempty"`
	Session string    `json:"session,omitempty"`
	Width   int       `json:"width,omitempty"`
	Height  int       `json:"height,omitempty"`
	Steps   int       `json:"steps,omitempty"`
	Reward  float32   `json:"reward,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	Time    time.Time `json:"time"`
}

// Publisher must not block the caller on I/O.
type Publisher interface {
	Publish(Event)
}

type Noop struct{}

func (Noop) Publish(Event) {}

// Multi fans an event out to every publisher in order.
type Multi []Publisher

func (m Multi) Publish(e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(e)
		}
	}
}
