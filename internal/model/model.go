// Package model defines the core domain types shared across the market
// engine: events (markets), bets (positions), user accounts, and the
// immutable transaction ledger.
//
// Outcome sides, trade directions, event statuses, and transaction
// types are tagged enumerations validated at the boundary; price and
// quantity selection goes through fixed lookup tables rather than
// dynamic field access.
package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/agoramarkets/market-engine/internal/pricing"
)

// Outcome is one of the two mutually exclusive sides of an event.
type Outcome int

const (
	OutcomeFor Outcome = iota + 1
	OutcomeAgainst
)

// ParseOutcome maps a wire token to an Outcome.
func ParseOutcome(token string) (Outcome, error) {
	switch token {
	case "FOR":
		return OutcomeFor, nil
	case "AGAINST":
		return OutcomeAgainst, nil
	}
	return 0, &UnknownOutcomeError{Token: token}
}

func (o Outcome) String() string {
	switch o {
	case OutcomeFor:
		return "FOR"
	case OutcomeAgainst:
		return "AGAINST"
	}
	return "UNKNOWN"
}

// Direction is the trade direction.
type Direction int

const (
	DirectionBuy Direction = iota + 1
	DirectionSell
)

// ParseDirection maps a wire token to a Direction.
func ParseDirection(token string) (Direction, error) {
	switch token {
	case "BUY":
		return DirectionBuy, nil
	case "SELL":
		return DirectionSell, nil
	}
	return 0, &UnknownOutcomeError{Token: token}
}

func (d Direction) String() string {
	switch d {
	case DirectionBuy:
		return "BUY"
	case DirectionSell:
		return "SELL"
	}
	return "UNKNOWN"
}

// EventStatus is the lifecycle state of an event. InProgress is the only
// state that accepts trades; the other three are terminal.
type EventStatus int

const (
	EventInProgress EventStatus = iota + 1
	EventCancelled
	EventFinishedYes
	EventFinishedNo
)

func (s EventStatus) String() string {
	switch s {
	case EventInProgress:
		return "IN_PROGRESS"
	case EventCancelled:
		return "CANCELLED"
	case EventFinishedYes:
		return "FINISHED_YES"
	case EventFinishedNo:
		return "FINISHED_NO"
	}
	return "UNKNOWN"
}

// Terminal reports whether the status has left InProgress.
func (s EventStatus) Terminal() bool {
	return s == EventCancelled || s == EventFinishedYes || s == EventFinishedNo
}

// TransactionType identifies what a ledger entry records.
type TransactionType int

const (
	TransactionBuyFor TransactionType = iota + 1
	TransactionSellFor
	TransactionBuyAgainst
	TransactionSellAgainst
	TransactionEventCancelledRefund
	TransactionEventWonPrize
	TransactionToppedUpByApp
)

func (t TransactionType) String() string {
	switch t {
	case TransactionBuyFor:
		return "BUY_FOR"
	case TransactionSellFor:
		return "SELL_FOR"
	case TransactionBuyAgainst:
		return "BUY_AGAINST"
	case TransactionSellAgainst:
		return "SELL_AGAINST"
	case TransactionEventCancelledRefund:
		return "EVENT_CANCELLED_REFUND"
	case TransactionEventWonPrize:
		return "EVENT_WON_PRIZE"
	case TransactionToppedUpByApp:
		return "TOPPED_UP_BY_APP"
	}
	return "UNKNOWN"
}

// tradeTransactionTypes maps (direction, outcome) to the ledger entry
// type recorded for an executed trade.
var tradeTransactionTypes = map[Direction]map[Outcome]TransactionType{
	DirectionBuy: {
		OutcomeFor:     TransactionBuyFor,
		OutcomeAgainst: TransactionBuyAgainst,
	},
	DirectionSell: {
		OutcomeFor:     TransactionSellFor,
		OutcomeAgainst: TransactionSellAgainst,
	},
}

// TradeTransactionType returns the ledger type for a trade.
func TradeTransactionType(direction Direction, outcome Outcome) (TransactionType, error) {
	byOutcome, ok := tradeTransactionTypes[direction]
	if !ok {
		return 0, &UnknownOutcomeError{Token: direction.String()}
	}
	t, ok := byOutcome[outcome]
	if !ok {
		return 0, &UnknownOutcomeError{Token: outcome.String()}
	}
	return t, nil
}

// Event is the state of one binary prediction market.
// Prices are derived from the quantities, never set directly.
type Event struct {
	ID               int64           `json:"id" db:"id"`
	Title            string          `json:"title" db:"title"`
	Status           EventStatus     `json:"status" db:"status"`
	QuantityFor      int64           `json:"quantity_for" db:"quantity_for"`
	QuantityAgainst  int64           `json:"quantity_against" db:"quantity_against"`
	Liquidity        decimal.Decimal `json:"liquidity" db:"liquidity"` // B constant
	BuyForPrice      int64           `json:"buy_for_price" db:"buy_for_price"`
	BuyAgainstPrice  int64           `json:"buy_against_price" db:"buy_against_price"`
	SellForPrice     int64           `json:"sell_for_price" db:"sell_for_price"`
	SellAgainstPrice int64           `json:"sell_against_price" db:"sell_against_price"`
	Turnover         int64           `json:"turnover" db:"turnover"`
	LastTradeAt      *time.Time      `json:"last_trade_at,omitempty" db:"last_trade_at"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// Price returns the current unit price for one (outcome, direction)
// pair through a fixed lookup.
func (e *Event) Price(outcome Outcome, direction Direction) (int64, error) {
	switch {
	case direction == DirectionBuy && outcome == OutcomeFor:
		return e.BuyForPrice, nil
	case direction == DirectionBuy && outcome == OutcomeAgainst:
		return e.BuyAgainstPrice, nil
	case direction == DirectionSell && outcome == OutcomeFor:
		return e.SellForPrice, nil
	case direction == DirectionSell && outcome == OutcomeAgainst:
		return e.SellAgainstPrice, nil
	}
	return 0, &UnknownOutcomeError{Token: outcome.String() + "/" + direction.String()}
}

// IncrementQuantity adjusts the share quantity for one side (negative
// amounts for sells, floored at zero) and recomputes all four prices.
func (e *Event) IncrementQuantity(outcome Outcome, by int64) error {
	switch outcome {
	case OutcomeFor:
		e.QuantityFor += by
		if e.QuantityFor < 0 {
			e.QuantityFor = 0
		}
	case OutcomeAgainst:
		e.QuantityAgainst += by
		if e.QuantityAgainst < 0 {
			e.QuantityAgainst = 0
		}
	default:
		return &UnknownOutcomeError{Token: outcome.String()}
	}
	return e.RecalculatePrices()
}

// IncrementTurnover adds executed volume. No price recomputation.
func (e *Event) IncrementTurnover(by int64) {
	e.Turnover += by
}

// RecalculatePrices rederives all four prices from the current
// quantities. Called at creation and after every quantity change.
func (e *Event) RecalculatePrices() error {
	p, err := pricing.Calculate(e.QuantityFor, e.QuantityAgainst, e.Liquidity)
	if err != nil {
		return err
	}
	e.BuyForPrice = p.BuyFor
	e.BuyAgainstPrice = p.BuyAgainst
	e.SellForPrice = p.SellFor
	e.SellAgainstPrice = p.SellAgainst
	return nil
}

// Bet is one user's position on one side of one event.
// Invariant: Owned == Bought - Sold, never negative.
type Bet struct {
	ID             int64           `json:"id" db:"id"`
	UserID         int64           `json:"user_id" db:"user_id"`
	EventID        int64           `json:"event_id" db:"event_id"`
	Outcome        Outcome         `json:"outcome" db:"outcome"`
	Owned          int64           `json:"owned" db:"owned"`
	Bought         int64           `json:"bought" db:"bought"`
	Sold           int64           `json:"sold" db:"sold"`
	BoughtAvgPrice decimal.Decimal `json:"bought_avg_price" db:"bought_avg_price"`
	SoldAvgPrice   decimal.Decimal `json:"sold_avg_price" db:"sold_avg_price"`
	RewardedTotal  int64           `json:"rewarded_total" db:"rewarded_total"`
}

// RecordBuy applies one purchased unit at the given price, keeping the
// volume-weighted average buy price.
func (b *Bet) RecordBuy(price int64) {
	b.BoughtAvgPrice = weightedAvg(b.BoughtAvgPrice, b.Bought, price)
	b.Owned++
	b.Bought++
}

// RecordSell applies one sold unit at the given price, keeping the
// volume-weighted average sell price. Callers must have verified
// Owned >= 1.
func (b *Bet) RecordSell(price int64) {
	b.SoldAvgPrice = weightedAvg(b.SoldAvgPrice, b.Sold, price)
	b.Owned--
	b.Sold++
}

// weightedAvg folds one more unit at price into a running average over
// count prior units.
func weightedAvg(avg decimal.Decimal, count, price int64) decimal.Decimal {
	total := avg.Mul(decimal.NewFromInt(count)).Add(decimal.NewFromInt(price))
	return total.Div(decimal.NewFromInt(count + 1))
}

// User is one trader's cash account and derived statistics.
type User struct {
	ID             int64           `json:"id" db:"id"`
	Username       string          `json:"username" db:"username"`
	Name           string          `json:"name,omitempty" db:"name"`
	TotalCash      int64           `json:"total_cash" db:"total_cash"`
	TotalGivenCash int64           `json:"total_given_cash" db:"total_given_cash"`
	PortfolioValue int64           `json:"portfolio_value" db:"portfolio_value"`
	Reputation     decimal.Decimal `json:"reputation" db:"reputation"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// RecalculateReputation rederives reputation as portfolio value over
// lifetime granted cash, rounded to two places. Zero when the user was
// never granted anything.
func (u *User) RecalculateReputation() {
	if u.TotalGivenCash == 0 {
		u.Reputation = decimal.Zero
		return
	}
	u.Reputation = decimal.NewFromInt(u.PortfolioValue).
		Div(decimal.NewFromInt(u.TotalGivenCash)).
		Round(2)
}

// LedgerEntry is an immutable record of one executed trade or cash
// event. Once written it is never modified or deleted.
type LedgerEntry struct {
	ID        string          `json:"id" db:"id"`
	UserID    int64           `json:"user_id" db:"user_id"`
	EventID   *int64          `json:"event_id,omitempty" db:"event_id"` // nil for top-ups
	Type      TransactionType `json:"type" db:"type"`
	Quantity  int64           `json:"quantity" db:"quantity"`
	Price     int64           `json:"price" db:"price"` // unit price
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Position is the read-only valuation of one open bet, priced at the
// event's current sell price. Used for portfolio reporting; never
// mutated by the trading core.
type Position struct {
	EventID   int64   `json:"event_id"`
	Title     string  `json:"title"`
	Outcome   Outcome `json:"outcome"`
	Owned     int64   `json:"owned"`
	SellPrice int64   `json:"sell_price"`
	Value     int64   `json:"value"` // owned * sellPrice
}

// Portfolio aggregates a user's open positions.
type Portfolio struct {
	UserID     int64           `json:"user_id"`
	Positions  []Position      `json:"positions"`
	TotalValue int64           `json:"total_value"`
	TotalCash  int64           `json:"total_cash"`
	Reputation decimal.Decimal `json:"reputation"`
}
