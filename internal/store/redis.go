package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agoramarkets/market-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis cache for
// events. The cache is populated on the write path only: CreateEvent and
// the Apply calls refresh the cached copy from the state they just
// committed, and those all run while the caller holds the per-event lock,
// so refreshes for one event are serialized. Reads never populate the
// cache; an unlocked reader that did could overwrite a committed refresh
// with a snapshot taken before the commit, and the trade path would then
// quote a stale price. Users, bets and ledger reads pass through uncached:
// user balances are written from paths that share no single lock, so no
// ordering of cache refreshes is safe for them.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Writes (commit to primary, then refresh the event cache) ---

func (s *CachedStore) CreateEvent(ctx context.Context, ev *model.Event) error {
	if err := s.primary.CreateEvent(ctx, ev); err != nil {
		return err
	}
	s.cacheEvent(ctx, ev)
	return nil
}

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User) error {
	return s.primary.CreateUser(ctx, u)
}

func (s *CachedStore) UpdateUser(ctx context.Context, u *model.User) error {
	return s.primary.UpdateUser(ctx, u)
}

func (s *CachedStore) ApplyTrade(ctx context.Context, ev *model.Event, u *model.User, b *model.Bet, entry *model.LedgerEntry) error {
	if err := s.primary.ApplyTrade(ctx, ev, u, b, entry); err != nil {
		return err
	}
	s.cacheEvent(ctx, ev)
	return nil
}

func (s *CachedStore) ApplyTopUp(ctx context.Context, u *model.User, entry *model.LedgerEntry) error {
	return s.primary.ApplyTopUp(ctx, u, entry)
}

func (s *CachedStore) ApplySettlement(ctx context.Context, ev *model.Event, results []SettlementResult) error {
	if err := s.primary.ApplySettlement(ctx, ev, results); err != nil {
		return err
	}
	s.cacheEvent(ctx, ev)
	return nil
}

// --- Reads ---

// GetEvent serves the cached copy when present and falls back to the
// primary otherwise. It never writes the cache.
func (s *CachedStore) GetEvent(ctx context.Context, id int64) (*model.Event, error) {
	data, err := s.rdb.Get(ctx, eventKey(id)).Bytes()
	if err == nil {
		var ev model.Event
		if json.Unmarshal(data, &ev) == nil {
			return &ev, nil
		}
	}
	return s.primary.GetEvent(ctx, id)
}

func (s *CachedStore) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return s.primary.GetUser(ctx, id)
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListEvents(ctx context.Context) ([]model.Event, error) {
	return s.primary.ListEvents(ctx)
}

func (s *CachedStore) GetBet(ctx context.Context, userID, eventID int64, outcome model.Outcome) (*model.Bet, error) {
	return s.primary.GetBet(ctx, userID, eventID, outcome)
}

func (s *CachedStore) GetOrInitBet(ctx context.Context, userID, eventID int64, outcome model.Outcome) (*model.Bet, error) {
	return s.primary.GetOrInitBet(ctx, userID, eventID, outcome)
}

func (s *CachedStore) ListBetsByUser(ctx context.Context, userID int64) ([]model.Bet, error) {
	return s.primary.ListBetsByUser(ctx, userID)
}

func (s *CachedStore) ListBetsByEvent(ctx context.Context, eventID int64) ([]model.Bet, error) {
	return s.primary.ListBetsByEvent(ctx, eventID)
}

func (s *CachedStore) LedgerByEvent(ctx context.Context, eventID int64) ([]model.LedgerEntry, error) {
	return s.primary.LedgerByEvent(ctx, eventID)
}

func (s *CachedStore) LedgerByUser(ctx context.Context, userID int64) ([]model.LedgerEntry, error) {
	return s.primary.LedgerByUser(ctx, userID)
}

// --- Cache helpers ---

// cacheEvent refreshes the cached copy; if the refresh cannot be written
// the stale key is dropped so it cannot outlive the commit.
func (s *CachedStore) cacheEvent(ctx context.Context, ev *model.Event) {
	data, err := json.Marshal(ev)
	if err != nil || s.rdb.Set(ctx, eventKey(ev.ID), data, s.ttl).Err() != nil {
		s.rdb.Del(ctx, eventKey(ev.ID))
	}
}

func eventKey(id int64) string { return fmt.Sprintf("event:%d", id) }
