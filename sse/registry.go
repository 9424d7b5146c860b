package sse

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// outboundBuffer bounds how many protocol replies may queue per stream
// before POST handlers start blocking on the connection pump.
const outboundBuffer = 16

var errStreamClosed = errors.New("session stream closed")

// Stream is one connected event-stream client. Protocol replies are queued
// on outbound by POST handlers and flushed to the wire by the connection
// handler that owns the stream.
type Stream struct {
	id        string
	outbound  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// ID returns the session identifier clients echo back on POST /messages.
func (st *Stream) ID() string { return st.id }

// Send queues a reply for delivery. It fails once the stream has been torn
// down, so a POST racing a disconnect does not block forever.
func (st *Stream) Send(ctx context.Context, msg []byte) error {
	select {
	case st.outbound <- msg:
		return nil
	case <-st.done:
		return errStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (st *Stream) close() {
	st.closeOnce.Do(func() { close(st.done) })
}

// Registry tracks open streams by session id. Opens, closes, and reply
// dispatch race freely against each other.
type Registry struct {
	mu      sync.Mutex
	streams map[string]*Stream
}

func NewRegistry() *Registry {
	return &Registry{streams: make(map[string]*Stream)}
}

// Add registers a fresh stream under a new session id.
func (r *Registry) Add() *Stream {
	st := &Stream{
		id:       uuid.NewString(),
		outbound: make(chan []byte, outboundBuffer),
		done:     make(chan struct{}),
	}
	r.mu.Lock()
	r.streams[st.id] = st
	r.mu.Unlock()
	return st
}

// Get returns the stream for id, or nil when no such session is open.
func (r *Registry) Get(id string) *Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streams[id]
}

// Remove drops and tears down the stream for id. Ids already gone are a
// no-op, so the connection handler and closeAll may both call it.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	st, ok := r.streams[id]
	if ok {
		delete(r.streams, id)
	}
	r.mu.Unlock()
	if ok {
		st.close()
	}
}

// Len reports the number of open streams.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// closeAll tears down every open stream, waking their connection handlers.
func (r *Registry) closeAll() {
	r.mu.Lock()
	streams := lo.Values(r.streams)
	r.streams = make(map[string]*Stream)
	r.mu.Unlock()
	for _, st := range streams {
		st.close()
	}
}
