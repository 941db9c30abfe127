package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/agoramarkets/market-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu     sync.RWMutex
	events map[int64]*model.Event
	users  map[int64]*model.User
	bets   map[betKey]*model.Bet
	ledger []model.LedgerEntry

	nextEventID int64
	nextUserID  int64
	nextBetID   int64
}

type betKey struct {
	userID  int64
	eventID int64
	outcome model.Outcome
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[int64]*model.Event),
		users:  make(map[int64]*model.User),
		bets:   make(map[betKey]*model.Bet),
	}
}

func (s *MemoryStore) CreateEvent(_ context.Context, ev *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextEventID++
	ev.ID = s.nextEventID

	copy := *ev
	s.events[ev.ID] = &copy
	return nil
}

func (s *MemoryStore) GetEvent(_ context.Context, id int64) (*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("event %d: %w", id, ErrNotFound)
	}
	copy := *ev
	return &copy, nil
}

func (s *MemoryStore) ListEvents(_ context.Context) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]model.Event, 0, len(s.events))
	for _, ev := range s.events {
		events = append(events, *ev)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ID > events[j].ID })
	return events, nil
}

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Username == u.Username {
			return fmt.Errorf("username %s: %w", u.Username, ErrUsernameTaken)
		}
	}

	s.nextUserID++
	u.ID = s.nextUserID

	copy := *u
	s.users[u.ID] = &copy
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id int64) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	copy := *u
	return &copy, nil
}

func (s *MemoryStore) UpdateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; !ok {
		return fmt.Errorf("user %d: %w", u.ID, ErrNotFound)
	}
	copy := *u
	s.users[u.ID] = &copy
	return nil
}

func (s *MemoryStore) GetBet(_ context.Context, userID, eventID int64, outcome model.Outcome) (*model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bets[betKey{userID, eventID, outcome}]
	if !ok {
		return nil, fmt.Errorf("bet (user %d, event %d, %s): %w", userID, eventID, outcome, ErrNotFound)
	}
	copy := *b
	return &copy, nil
}

func (s *MemoryStore) GetOrInitBet(_ context.Context, userID, eventID int64, outcome model.Outcome) (*model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if b, ok := s.bets[betKey{userID, eventID, outcome}]; ok {
		copy := *b
		return &copy, nil
	}
	return &model.Bet{UserID: userID, EventID: eventID, Outcome: outcome}, nil
}

func (s *MemoryStore) ListBetsByUser(_ context.Context, userID int64) ([]model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var bets []model.Bet
	for _, b := range s.bets {
		if b.UserID == userID {
			bets = append(bets, *b)
		}
	}
	sort.Slice(bets, func(i, j int) bool { return bets[i].ID < bets[j].ID })
	return bets, nil
}

func (s *MemoryStore) ListBetsByEvent(_ context.Context, eventID int64) ([]model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var bets []model.Bet
	for _, b := range s.bets {
		if b.EventID == eventID {
			bets = append(bets, *b)
		}
	}
	sort.Slice(bets, func(i, j int) bool { return bets[i].ID < bets[j].ID })
	return bets, nil
}

// ApplyTrade commits one trade under a single lock acquisition.
func (s *MemoryStore) ApplyTrade(_ context.Context, ev *model.Event, u *model.User, b *model.Bet, entry *model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[ev.ID]; !ok {
		return fmt.Errorf("event %d: %w", ev.ID, ErrNotFound)
	}
	if _, ok := s.users[u.ID]; !ok {
		return fmt.Errorf("user %d: %w", u.ID, ErrNotFound)
	}

	if b.ID == 0 {
		s.nextBetID++
		b.ID = s.nextBetID
	}

	evCopy, uCopy, bCopy := *ev, *u, *b
	s.events[ev.ID] = &evCopy
	s.users[u.ID] = &uCopy
	s.bets[betKey{b.UserID, b.EventID, b.Outcome}] = &bCopy
	s.ledger = append(s.ledger, *entry)
	return nil
}

func (s *MemoryStore) ApplyTopUp(_ context.Context, u *model.User, entry *model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; !ok {
		return fmt.Errorf("user %d: %w", u.ID, ErrNotFound)
	}

	uCopy := *u
	s.users[u.ID] = &uCopy
	s.ledger = append(s.ledger, *entry)
	return nil
}

func (s *MemoryStore) ApplySettlement(_ context.Context, ev *model.Event, results []SettlementResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[ev.ID]; !ok {
		return fmt.Errorf("event %d: %w", ev.ID, ErrNotFound)
	}

	evCopy := *ev
	s.events[ev.ID] = &evCopy

	for _, r := range results {
		uCopy, bCopy := *r.User, *r.Bet
		s.users[r.User.ID] = &uCopy
		s.bets[betKey{r.Bet.UserID, r.Bet.EventID, r.Bet.Outcome}] = &bCopy
		for _, e := range r.Entries {
			s.ledger = append(s.ledger, *e)
		}
	}
	return nil
}

func (s *MemoryStore) LedgerByEvent(_ context.Context, eventID int64) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []model.LedgerEntry
	for _, e := range s.ledger {
		if e.EventID != nil && *e.EventID == eventID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (s *MemoryStore) LedgerByUser(_ context.Context, userID int64) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []model.LedgerEntry
	for _, e := range s.ledger {
		if e.UserID == userID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}
