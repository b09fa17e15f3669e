package realtime

import (
	"slices"
	"strings"
	"sync"
)

// Registry maps topics to member connections, with a reverse index so a
// connection can be removed from every topic in one call.
//
// Concurrency guarantees:
// - A single RWMutex guards both indexes; they never disagree.
// - Members returns a snapshot, so fan-out runs without holding the lock.
// - Empty topics are deleted, so no topic retains dangling session ids.
type Registry struct {
	mu        sync.RWMutex
	topics    map[string]map[string]*Client  // topic -> session -> client
	bySession map[string]map[string]struct{} // session -> topics
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		topics:    make(map[string]map[string]*Client),
		bySession: make(map[string]map[string]struct{}),
	}
}

// Join adds c to topic. It reports false when c is already a member.
func (r *Registry) Join(c *Client, topic string) bool {
	if c == nil || c.SessionID == "" || topic == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.topics[topic]
	if members == nil {
		members = make(map[string]*Client)
		r.topics[topic] = members
	}
	if _, ok := members[c.SessionID]; ok {
		return false
	}
	members[c.SessionID] = c

	ts := r.bySession[c.SessionID]
	if ts == nil {
		ts = make(map[string]struct{})
		r.bySession[c.SessionID] = ts
	}
	ts[topic] = struct{}{}
	return true
}

// Leave removes sessionID from topic. It reports false when it was not a member.
func (r *Registry) Leave(sessionID, topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.topics[topic]
	if _, ok := members[sessionID]; !ok {
		return false
	}
	r.removeLocked(sessionID, topic)
	return true
}

// Drop removes sessionID from every topic and returns how many it left.
func (r *Registry) Drop(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := r.bySession[sessionID]
	n := len(ts)
	for topic := range ts {
		r.removeLocked(sessionID, topic)
	}
	delete(r.bySession, sessionID)
	return n
}

func (r *Registry) removeLocked(sessionID, topic string) {
	if members := r.topics[topic]; members != nil {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(r.topics, topic)
		}
	}
	if ts := r.bySession[sessionID]; ts != nil {
		delete(ts, topic)
		if len(ts) == 0 {
			delete(r.bySession, sessionID)
		}
	}
}

// Members returns a snapshot of topic's connections.
func (r *Registry) Members(topic string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.topics[topic]
	out := make([]*Client, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// MemberIDs returns topic's session ids, sorted.
func (r *Registry) MemberIDs(topic string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.topics[topic]))
	for id := range r.topics[topic] {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// TopicsOf returns sessionID's topics, sorted.
func (r *Registry) TopicsOf(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.bySession[sessionID]))
	for t := range r.bySession[sessionID] {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// CountPrefix returns how many of sessionID's topics start with prefix.
func (r *Registry) CountPrefix(sessionID, prefix string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for t := range r.bySession[sessionID] {
		if strings.HasPrefix(t, prefix) {
			n++
		}
	}
	return n
}

// TopicCount returns the number of non-empty topics.
func (r *Registry) TopicCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics)
}
