// Package store defines the persistence interface for the market engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/agoramarkets/market-engine/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
// Implementations wrap it with detail; callers match with errors.Is.
var ErrNotFound = errors.New("store: not found")

// ErrUsernameTaken is returned by CreateUser when the username is
// already registered.
var ErrUsernameTaken = errors.New("store: username already taken")

// SettlementResult bundles the per-user effects of settling one event:
// the updated account, the zeroed position, and the ledger entries to
// append (empty when no cash moved).
type SettlementResult struct {
	User    *model.User
	Bet     *model.Bet
	Entries []*model.LedgerEntry
}

// Store is the persistence interface. The Apply* methods commit a whole
// validated mutation as one unit: a single SQL transaction on
// PostgreSQL, a single critical section in memory. Callers stage all
// changes on copies first, so a failed Apply leaves nothing half-done.
type Store interface {
	// --- Events ---

	// CreateEvent persists a new event and assigns its ID.
	CreateEvent(ctx context.Context, ev *model.Event) error

	// GetEvent retrieves an event by id.
	GetEvent(ctx context.Context, id int64) (*model.Event, error)

	// ListEvents returns all events, newest first.
	ListEvents(ctx context.Context) ([]model.Event, error)

	// --- Users ---

	// CreateUser persists a new account and assigns its ID.
	CreateUser(ctx context.Context, u *model.User) error

	// GetUser retrieves an account by id.
	GetUser(ctx context.Context, id int64) (*model.User, error)

	// UpdateUser persists derived account fields (portfolio value,
	// reputation). Cash changes go through the Apply* methods.
	UpdateUser(ctx context.Context, u *model.User) error

	// --- Bets ---

	// GetBet retrieves one (user, event, outcome) position.
	GetBet(ctx context.Context, userID, eventID int64, outcome model.Outcome) (*model.Bet, error)

	// GetOrInitBet retrieves the position, or returns an unsaved
	// zero-value one (ID 0) if absent. New positions are persisted only
	// by the Apply call that commits their first trade, so a rejected
	// or failed order never leaves an empty row behind.
	GetOrInitBet(ctx context.Context, userID, eventID int64, outcome model.Outcome) (*model.Bet, error)

	// ListBetsByUser returns all positions held by a user.
	ListBetsByUser(ctx context.Context, userID int64) ([]model.Bet, error)

	// ListBetsByEvent returns all positions on an event.
	ListBetsByEvent(ctx context.Context, eventID int64) ([]model.Bet, error)

	// --- Atomic commit units ---

	// ApplyTrade commits one executed trade: event state, account
	// balance, position, and the ledger entry, all or nothing.
	ApplyTrade(ctx context.Context, ev *model.Event, u *model.User, b *model.Bet, entry *model.LedgerEntry) error

	// ApplyTopUp commits a cash grant: account counters plus the ledger
	// entry.
	ApplyTopUp(ctx context.Context, u *model.User, entry *model.LedgerEntry) error

	// ApplySettlement commits an event's terminal transition together
	// with every position payout/refund/zeroing and the ledger entries.
	ApplySettlement(ctx context.Context, ev *model.Event, results []SettlementResult) error

	// --- Immutable ledger reads ---

	// LedgerByEvent returns all entries for an event in creation order.
	LedgerByEvent(ctx context.Context, eventID int64) ([]model.LedgerEntry, error)

	// LedgerByUser returns all entries for a user in creation order.
	LedgerByUser(ctx context.Context, userID int64) ([]model.LedgerEntry, error)
}
