// Package stream fan-outs signing activity to live subscribers. The CRM
// dashboard keeps the lead timeline current without polling by listening on
// the events endpoint.
package stream

import (
	"context"
	"sync"
	"time"
)

// Event types published by the signing workflow.
const (
	EventLinkIssued        = "link_issued"
	EventBlockSigned       = "block_signed"
	EventDocumentCompleted = "document_completed"
)

// Event is one signing activity item.
type Event struct {
	Type       string    `json:"type"`
	DocumentID int64     `json:"document_id"`
	LeadID     int64     `json:"lead_id"`
	BlockID    string    `json:"block_id,omitempty"`
	SignerName string    `json:"signer_name,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Stream fan-outs events to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{
		subs: make(map[int]chan Event),
	}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
