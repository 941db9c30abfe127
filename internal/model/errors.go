package model

import (
	"errors"
	"fmt"
)

// The trading error taxonomy. Every entry is an expected,
// caller-recoverable condition surfaced before any mutation; none is
// fatal to the process. The three race-prone rejections carry the
// refreshed snapshot the caller needs to reconcile and retry.

var (
	// ErrNonexistantEvent is returned when the referenced event id does
	// not exist.
	ErrNonexistantEvent = errors.New("event does not exist")

	// ErrEventNotInProgress is returned for trades against an event in a
	// terminal status.
	ErrEventNotInProgress = errors.New("event is not in progress")

	// ErrNonexistantUser is returned when the referenced user id does
	// not exist.
	ErrNonexistantUser = errors.New("user does not exist")
)

// UnknownOutcomeError is returned when an outcome or direction token is
// not recognized.
type UnknownOutcomeError struct {
	Token string
}

func (e *UnknownOutcomeError) Error() string {
	return fmt.Sprintf("unknown outcome: %q", e.Token)
}

// PriceMismatchError is returned when the caller's expected price is
// stale relative to the current market price. The refreshed event is
// attached so the caller can re-quote and resubmit.
type PriceMismatchError struct {
	Expected     int64
	Current      int64
	UpdatedEvent *Event
}

func (e *PriceMismatchError) Error() string {
	return fmt.Sprintf("price mismatch: expected %d, current %d", e.Expected, e.Current)
}

// InsufficientCashError is returned when a buy exceeds the user's
// available balance. Carries the refreshed account.
type InsufficientCashError struct {
	Required    int64
	Available   int64
	UpdatedUser *User
}

func (e *InsufficientCashError) Error() string {
	return fmt.Sprintf("insufficient cash: need %d, have %d", e.Required, e.Available)
}

// InsufficientBetsError is returned when a sell exceeds the user's owned
// shares. Carries the refreshed position.
type InsufficientBetsError struct {
	UpdatedBet *Bet
}

func (e *InsufficientBetsError) Error() string {
	return "insufficient bets: no shares to sell"
}
