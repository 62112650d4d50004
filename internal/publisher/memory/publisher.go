// Package memory records audit notifications in process, for tests and local runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Message is one recorded publish, encoded the way Pub/Sub would carry it.
type Message struct {
	Event string
	Data  []byte
}

// Publisher keeps published messages in order.
type Publisher struct {
	mu       sync.RWMutex
	limit    int
	seq      int
	messages []Message
}

// New returns a memory Publisher that keeps every message.
func New() *Publisher {
	return &Publisher{}
}

// NewWithLimit returns a memory Publisher that keeps only the most recent
// limit messages. A non-positive limit keeps everything.
func NewWithLimit(limit int) *Publisher {
	return &Publisher{limit: limit}
}

// Publish JSON-encodes payload, records it, and returns a sequential ID.
func (p *Publisher) Publish(_ context.Context, event string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	p.messages = append(p.messages, Message{Event: event, Data: data})
	if p.limit > 0 && len(p.messages) > p.limit {
		p.messages = append([]Message(nil), p.messages[len(p.messages)-p.limit:]...)
	}
	return fmt.Sprintf("memory-%d", p.seq), nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}
