package model

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// --- Token parsing ---

func TestParseOutcome(t *testing.T) {
	if o, err := ParseOutcome("FOR"); err != nil || o != OutcomeFor {
		t.Errorf("FOR: got (%v, %v)", o, err)
	}
	if o, err := ParseOutcome("AGAINST"); err != nil || o != OutcomeAgainst {
		t.Errorf("AGAINST: got (%v, %v)", o, err)
	}
}

func TestParseOutcome_Unknown(t *testing.T) {
	for _, token := range []string{"", "for", "YES", "MAYBE"} {
		_, err := ParseOutcome(token)
		var unknownErr *UnknownOutcomeError
		if !errors.As(err, &unknownErr) {
			t.Errorf("token %q: expected UnknownOutcomeError, got %v", token, err)
		}
	}
}

func TestParseDirection(t *testing.T) {
	if dir, err := ParseDirection("BUY"); err != nil || dir != DirectionBuy {
		t.Errorf("BUY: got (%v, %v)", dir, err)
	}
	if dir, err := ParseDirection("SELL"); err != nil || dir != DirectionSell {
		t.Errorf("SELL: got (%v, %v)", dir, err)
	}
	if _, err := ParseDirection("HOLD"); err == nil {
		t.Error("HOLD: expected error")
	}
}

func TestTradeTransactionType(t *testing.T) {
	cases := []struct {
		direction Direction
		outcome   Outcome
		want      TransactionType
	}{
		{DirectionBuy, OutcomeFor, TransactionBuyFor},
		{DirectionBuy, OutcomeAgainst, TransactionBuyAgainst},
		{DirectionSell, OutcomeFor, TransactionSellFor},
		{DirectionSell, OutcomeAgainst, TransactionSellAgainst},
	}
	for _, tc := range cases {
		got, err := TradeTransactionType(tc.direction, tc.outcome)
		if err != nil {
			t.Fatalf("%s/%s: unexpected error: %v", tc.direction, tc.outcome, err)
		}
		if got != tc.want {
			t.Errorf("%s/%s: expected %s, got %s", tc.direction, tc.outcome, tc.want, got)
		}
	}

	if _, err := TradeTransactionType(DirectionBuy, Outcome(99)); err == nil {
		t.Error("invalid outcome: expected error")
	}
	if _, err := TradeTransactionType(Direction(99), OutcomeFor); err == nil {
		t.Error("invalid direction: expected error")
	}
}

// --- Lifecycle ---

func TestEventStatus_Terminal(t *testing.T) {
	if EventInProgress.Terminal() {
		t.Error("IN_PROGRESS must not be terminal")
	}
	for _, s := range []EventStatus{EventCancelled, EventFinishedYes, EventFinishedNo} {
		if !s.Terminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
}

// --- Event price lookup ---

func newTestEvent(t *testing.T) *Event {
	t.Helper()
	ev := &Event{Status: EventInProgress, Liquidity: d(5)}
	if err := ev.RecalculatePrices(); err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	return ev
}

func TestEvent_PriceLookup(t *testing.T) {
	ev := &Event{
		BuyForPrice:      61,
		BuyAgainstPrice:  39,
		SellForPrice:     55,
		SellAgainstPrice: 33,
	}
	cases := []struct {
		outcome   Outcome
		direction Direction
		want      int64
	}{
		{OutcomeFor, DirectionBuy, 61},
		{OutcomeAgainst, DirectionBuy, 39},
		{OutcomeFor, DirectionSell, 55},
		{OutcomeAgainst, DirectionSell, 33},
	}
	for _, tc := range cases {
		got, err := ev.Price(tc.outcome, tc.direction)
		if err != nil {
			t.Fatalf("%s/%s: unexpected error: %v", tc.outcome, tc.direction, err)
		}
		if got != tc.want {
			t.Errorf("%s/%s: expected %d, got %d", tc.outcome, tc.direction, tc.want, got)
		}
	}
}

func TestEvent_PriceUnknownOutcome(t *testing.T) {
	ev := newTestEvent(t)
	if _, err := ev.Price(Outcome(99), DirectionBuy); err == nil {
		t.Error("expected error for unknown outcome")
	}
}

func TestEvent_IncrementQuantityRecomputesPrices(t *testing.T) {
	ev := newTestEvent(t)
	if ev.BuyForPrice != 50 {
		t.Fatalf("fresh event should quote 50, got %d", ev.BuyForPrice)
	}
	if err := ev.IncrementQuantity(OutcomeFor, 1); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if ev.QuantityFor != 1 {
		t.Errorf("expected quantityFor=1, got %d", ev.QuantityFor)
	}
	if ev.BuyForPrice <= 50 {
		t.Errorf("buying FOR should raise the FOR price, got %d", ev.BuyForPrice)
	}
}

func TestEvent_IncrementQuantityFloorsAtZero(t *testing.T) {
	ev := newTestEvent(t)
	if err := ev.IncrementQuantity(OutcomeAgainst, -5); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if ev.QuantityAgainst != 0 {
		t.Errorf("quantity must floor at zero, got %d", ev.QuantityAgainst)
	}
}

func TestEvent_IncrementTurnover(t *testing.T) {
	ev := newTestEvent(t)
	ev.IncrementTurnover(50)
	ev.IncrementTurnover(55)
	if ev.Turnover != 105 {
		t.Errorf("expected turnover 105, got %d", ev.Turnover)
	}
}

// --- Bet accounting ---

func TestBet_RecordBuyWeightedAverage(t *testing.T) {
	b := &Bet{}
	b.RecordBuy(50)
	b.RecordBuy(60)

	if b.Owned != 2 || b.Bought != 2 || b.Sold != 0 {
		t.Errorf("counts after two buys: owned=%d bought=%d sold=%d", b.Owned, b.Bought, b.Sold)
	}
	if !b.BoughtAvgPrice.Equal(d(55)) {
		t.Errorf("expected avg buy price 55, got %s", b.BoughtAvgPrice)
	}
}

func TestBet_RecordSell(t *testing.T) {
	b := &Bet{}
	b.RecordBuy(50)
	b.RecordBuy(50)
	b.RecordSell(60)

	if b.Owned != 1 || b.Sold != 1 {
		t.Errorf("counts after sell: owned=%d sold=%d", b.Owned, b.Sold)
	}
	if !b.SoldAvgPrice.Equal(d(60)) {
		t.Errorf("expected avg sell price 60, got %s", b.SoldAvgPrice)
	}
	// Buy-side average untouched by sells.
	if !b.BoughtAvgPrice.Equal(d(50)) {
		t.Errorf("avg buy price should stay 50, got %s", b.BoughtAvgPrice)
	}
}

func TestBet_OwnedEqualsBoughtMinusSold(t *testing.T) {
	b := &Bet{}
	for i := 0; i < 5; i++ {
		b.RecordBuy(40 + int64(i))
	}
	for i := 0; i < 3; i++ {
		b.RecordSell(50)
	}
	if b.Owned != b.Bought-b.Sold {
		t.Errorf("owned=%d, bought-sold=%d", b.Owned, b.Bought-b.Sold)
	}
}

// --- Reputation ---

func TestUser_RecalculateReputation(t *testing.T) {
	u := &User{PortfolioValue: 150, TotalGivenCash: 1000}
	u.RecalculateReputation()
	if !u.Reputation.Equal(d(0.15)) {
		t.Errorf("expected reputation 0.15, got %s", u.Reputation)
	}
}

func TestUser_RecalculateReputationRounds(t *testing.T) {
	u := &User{PortfolioValue: 100, TotalGivenCash: 300}
	u.RecalculateReputation()
	if !u.Reputation.Equal(d(0.33)) {
		t.Errorf("expected reputation 0.33, got %s", u.Reputation)
	}
}

func TestUser_RecalculateReputationNoGrants(t *testing.T) {
	u := &User{PortfolioValue: 500}
	u.RecalculateReputation()
	if !u.Reputation.IsZero() {
		t.Errorf("reputation with no granted cash must be zero, got %s", u.Reputation)
	}
}
