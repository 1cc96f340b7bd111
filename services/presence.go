package services

import (
	"slices"
	"sync"
)

type presenceSet struct {
	order  []string
	counts map[string]int
}

// PresenceTracker keeps the distinct identities joined to each board room,
// in join order.
//
// By default a leave removes the identity even if the same user still has
// another connection open (a second tab). With refCount enabled identities
// are counted per connection and removed on the last leave.
type PresenceTracker struct {
	mu       sync.Mutex
	boards   map[string]*presenceSet
	refCount bool
}

func NewPresenceTracker(refCount bool) *PresenceTracker {
	return &PresenceTracker{
		boards:   make(map[string]*presenceSet),
		refCount: refCount,
	}
}

func (p *PresenceTracker) set(boardID string) *presenceSet {
	s, ok := p.boards[boardID]
	if !ok {
		s = &presenceSet{counts: make(map[string]int)}
		p.boards[boardID] = s
	}
	return s
}

// Join records user on boardID and returns the current list and whether it
// changed. An empty user leaves the set untouched.
func (p *PresenceTracker) Join(boardID, user string) ([]string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.set(boardID)
	if user == "" {
		return s.list(), false
	}

	n, present := s.counts[user]
	if p.refCount || !present {
		s.counts[user] = n + 1
	}
	if present {
		return s.list(), false
	}
	s.order = append(s.order, user)
	return s.list(), true
}

// Leave drops user from boardID and returns the current list and whether it
// changed. The set itself is kept, possibly empty.
func (p *PresenceTracker) Leave(boardID, user string) ([]string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.boards[boardID]
	if !ok {
		return []string{}, false
	}
	n, present := s.counts[user]
	if user == "" || !present {
		return s.list(), false
	}
	if p.refCount && n > 1 {
		s.counts[user] = n - 1
		return s.list(), false
	}
	delete(s.counts, user)
	s.order = slices.DeleteFunc(s.order, func(u string) bool { return u == user })
	return s.list(), true
}

// Members returns the identities present on boardID
func (p *PresenceTracker) Members(boardID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.boards[boardID]
	if !ok {
		return []string{}
	}
	return s.list()
}

func (s *presenceSet) list() []string {
	return append([]string{}, s.order...)
}
