// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/AleutianAI/signalk-analyst/services/analyst/datatypes"
	"github.com/AleutianAI/signalk-analyst/services/llm"
	"github.com/google/uuid"
)

// Registry limits.
const (
	DefaultSessionTTL  = time.Hour
	DefaultMaxSessions = 256
)

// Session is one resumable conversation.
//
// Thread Safety:
//
//	runMu serializes the round loops of a session. mu guards the turn list
//	and counters so readers never block on a running round.
type Session struct {
	ID        string
	Question  string
	Context   string
	Paths     []string
	TimeRange *datatypes.TimeRange
	CreatedAt time.Time

	runMu sync.Mutex

	mu       sync.Mutex
	turns    []llm.Turn
	queries  int
	lastUsed time.Time
}

func newSession(req datatypes.AnalysisRequest) *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.NewString(),
		Question:  req.Question,
		Context:   req.Context,
		Paths:     append([]string(nil), req.Paths...),
		TimeRange: req.TimeRange,
		CreatedAt: now,
		lastUsed:  now,
	}
}

// Turns returns a deep copy of the conversation.
func (s *Session) Turns() []llm.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return llm.CloneTurns(s.turns)
}

// QueriesExecuted returns the number of successful queries over the whole
// conversation.
func (s *Session) QueriesExecuted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries
}

func (s *Session) commit(turns []llm.Turn, queries int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = turns
	s.queries += queries
}

// SessionInfo is the debug view served by GET /v1/conversations/:id.
type SessionInfo struct {
	ID              string     `json:"id"`
	Question        string     `json:"question"`
	CreatedAt       time.Time  `json:"createdAt"`
	QueriesExecuted int        `json:"queriesExecuted"`
	Turns           []llm.Turn `json:"turns"`
	PairingValid    bool       `json:"pairingValid"`
	PairingError    string     `json:"pairingError,omitempty"`
}

// Info snapshots the session.
func (s *Session) Info() SessionInfo {
	turns := s.Turns()
	info := SessionInfo{
		ID:              s.ID,
		Question:        s.Question,
		CreatedAt:       s.CreatedAt,
		QueriesExecuted: s.QueriesExecuted(),
		Turns:           turns,
		PairingValid:    true,
	}
	if err := llm.ValidatePairing(turns); err != nil {
		info.PairingValid = false
		info.PairingError = err.Error()
	}
	return info
}

// =============================================================================
// SessionStore
// =============================================================================

// SessionStore is the registry of resumable conversations.
//
// # Description
//
// Entries expire ttl after their last use, and the least recently used
// entry is evicted when the store is full. A session that is evicted while
// a round loop is running keeps working; the orchestrator puts it back when
// the loop finishes.
//
// # Thread Safety
//
// SessionStore is safe for concurrent use. Entries are independent, so
// operations on one id never touch another id's session state.
type SessionStore struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	lru        *list.List
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	onChange   func(n int)
}

// StoreOption configures a SessionStore.
type StoreOption func(*SessionStore)

// WithClock replaces time.Now. Tests use it to expire entries.
func WithClock(now func() time.Time) StoreOption {
	return func(s *SessionStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSizeObserver is called with the entry count after every change.
func WithSizeObserver(fn func(n int)) StoreOption {
	return func(s *SessionStore) {
		s.onChange = fn
	}
}

// NewSessionStore creates a store. Non-positive limits select the defaults.
func NewSessionStore(ttl time.Duration, maxEntries int, opts ...StoreOption) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxSessions
	}
	s := &SessionStore{
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put inserts or refreshes a session, evicting the least recently used
// entries beyond capacity.
func (s *SessionStore) Put(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session.mu.Lock()
	session.lastUsed = s.now()
	session.mu.Unlock()

	if elem, ok := s.entries[session.ID]; ok {
		elem.Value = session
		s.lru.MoveToFront(elem)
		return
	}
	s.entries[session.ID] = s.lru.PushFront(session)
	for s.lru.Len() > s.maxEntries {
		s.removeElement(s.lru.Back())
	}
	s.notify()
}

// Get returns a live session and marks it used. Expired entries are
// removed lazily.
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	session := elem.Value.(*Session)
	if s.expired(session) {
		s.removeElement(elem)
		s.notify()
		return nil, false
	}

	session.mu.Lock()
	session.lastUsed = s.now()
	session.mu.Unlock()
	s.lru.MoveToFront(elem)
	return session, true
}

// Delete removes a session. It reports whether the id was present.
func (s *SessionStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	elem, ok := s.entries[id]
	if !ok {
		return false
	}
	s.removeElement(elem)
	s.notify()
	return true
}

// Sweep removes every expired entry and returns how many were removed.
func (s *SessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for elem := s.lru.Back(); elem != nil; {
		prev := elem.Prev()
		if s.expired(elem.Value.(*Session)) {
			s.removeElement(elem)
			removed++
		}
		elem = prev
	}
	if removed > 0 {
		s.notify()
	}
	return removed
}

// Len returns the number of entries, expired or not.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// Start runs Sweep every half TTL until ctx is done.
func (s *SessionStore) Start(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

func (s *SessionStore) expired(session *Session) bool {
	session.mu.Lock()
	defer session.mu.Unlock()
	return s.now().Sub(session.lastUsed) > s.ttl
}

func (s *SessionStore) removeElement(elem *list.Element) {
	session := elem.Value.(*Session)
	delete(s.entries, session.ID)
	s.lru.Remove(elem)
}

func (s *SessionStore) notify() {
	if s.onChange != nil {
		s.onChange(s.lru.Len())
	}
}
