// Package trade provides the order executor and HTTP handlers for
// creating events, executing buy/sell orders, and querying prices and
// trade history.
//
// Every order trades exactly one share at the quoted unit price. The
// caller supplies the price it saw; if the market has moved since, the
// order is rejected with the refreshed event attached so the caller can
// re-quote and resubmit.
package trade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agoramarkets/market-engine/internal/eventlock"
	"github.com/agoramarkets/market-engine/internal/metrics"
	"github.com/agoramarkets/market-engine/internal/model"
	"github.com/agoramarkets/market-engine/internal/store"
)

// Service executes orders against the market maker. Each trade runs
// under its event's exclusive lock: validation, price re-read, and
// mutation form one critical section, so two concurrent orders can
// never both fill at the same stale price. Orders on different events
// proceed in parallel.
type Service struct {
	store            store.Store
	locks            *eventlock.Registry
	wsHub            *WSHub // optional WebSocket hub for real-time broadcasts
	defaultLiquidity decimal.Decimal
}

// NewService creates a new trade service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, locks *eventlock.Registry, hub *WSHub, defaultLiquidity decimal.Decimal) *Service {
	return &Service{
		store:            st,
		locks:            locks,
		wsHub:            hub,
		defaultLiquidity: defaultLiquidity,
	}
}

// Result is the snapshot bundle returned from a successful trade.
type Result struct {
	User  *model.User  `json:"user"`
	Event *model.Event `json:"event"`
	Bet   *model.Bet   `json:"bet"`
}

// Buy purchases one share of the given outcome at expectedPrice.
func (s *Service) Buy(ctx context.Context, userID, eventID int64, outcome model.Outcome, expectedPrice int64) (*Result, error) {
	return s.execute(ctx, userID, eventID, outcome, model.DirectionBuy, expectedPrice)
}

// Sell sells one owned share of the given outcome at expectedPrice.
func (s *Service) Sell(ctx context.Context, userID, eventID int64, outcome model.Outcome, expectedPrice int64) (*Result, error) {
	return s.execute(ctx, userID, eventID, outcome, model.DirectionSell, expectedPrice)
}

// execute runs the full validate-then-mutate sequence for one order.
// Checks happen in a fixed order — existence, lifecycle, outcome,
// price match, funds/position — and each failure surfaces before any
// state is staged, so a rejected order leaves everything untouched.
func (s *Service) execute(ctx context.Context, userID, eventID int64, outcome model.Outcome, direction model.Direction, expectedPrice int64) (*Result, error) {
	start := time.Now()

	unlock := s.locks.Lock(eventID)
	defer unlock()

	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.TradeRejections.WithLabelValues("nonexistant_event").Inc()
			return nil, model.ErrNonexistantEvent
		}
		return nil, fmt.Errorf("load event %d: %w", eventID, err)
	}

	if ev.Status != model.EventInProgress {
		metrics.TradeRejections.WithLabelValues("not_in_progress").Inc()
		return nil, model.ErrEventNotInProgress
	}

	// Outcome validity surfaces only once the event is known to exist
	// and be tradable.
	txType, err := model.TradeTransactionType(direction, outcome)
	if err != nil {
		metrics.TradeRejections.WithLabelValues("unknown_outcome").Inc()
		return nil, err
	}

	price, err := ev.Price(outcome, direction)
	if err != nil {
		metrics.TradeRejections.WithLabelValues("unknown_outcome").Inc()
		return nil, err
	}
	if price != expectedPrice {
		metrics.TradeRejections.WithLabelValues("price_mismatch").Inc()
		return nil, &model.PriceMismatchError{
			Expected:     expectedPrice,
			Current:      price,
			UpdatedEvent: ev,
		}
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.TradeRejections.WithLabelValues("nonexistant_user").Inc()
			return nil, model.ErrNonexistantUser
		}
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}

	var bet *model.Bet
	switch direction {
	case model.DirectionBuy:
		if user.TotalCash < price {
			metrics.TradeRejections.WithLabelValues("insufficient_cash").Inc()
			return nil, &model.InsufficientCashError{
				Required:    price,
				Available:   user.TotalCash,
				UpdatedUser: user,
			}
		}
		bet, err = s.store.GetOrInitBet(ctx, userID, eventID, outcome)
		if err != nil {
			return nil, fmt.Errorf("load bet: %w", err)
		}

		user.TotalCash -= price
		bet.RecordBuy(price)
		if err := ev.IncrementQuantity(outcome, 1); err != nil {
			return nil, err
		}

	case model.DirectionSell:
		bet, err = s.store.GetBet(ctx, userID, eventID, outcome)
		if errors.Is(err, store.ErrNotFound) {
			bet = &model.Bet{UserID: userID, EventID: eventID, Outcome: outcome}
		} else if err != nil {
			return nil, fmt.Errorf("load bet: %w", err)
		}
		if bet.Owned < 1 {
			metrics.TradeRejections.WithLabelValues("insufficient_bets").Inc()
			return nil, &model.InsufficientBetsError{UpdatedBet: bet}
		}

		user.TotalCash += price
		bet.RecordSell(price)
		if err := ev.IncrementQuantity(outcome, -1); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	ev.IncrementTurnover(price)
	ev.LastTradeAt = &now

	entry := &model.LedgerEntry{
		ID:        uuid.New().String(),
		UserID:    userID,
		EventID:   &eventID,
		Type:      txType,
		Quantity:  1,
		Price:     price,
		CreatedAt: now,
	}

	if err := s.store.ApplyTrade(ctx, ev, user, bet, entry); err != nil {
		return nil, fmt.Errorf("commit trade: %w", err)
	}

	metrics.TradesTotal.WithLabelValues(txType.String()).Inc()
	metrics.TradeLatency.WithLabelValues(direction.String()).Observe(time.Since(start).Seconds())

	slog.Info("trade executed",
		"trade_id", entry.ID,
		"user", userID,
		"event", eventID,
		"type", txType.String(),
		"price", price,
		"buy_for_price", ev.BuyForPrice,
		"buy_against_price", ev.BuyAgainstPrice,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:             "trade_executed",
			EventID:          ev.ID,
			BuyForPrice:      ev.BuyForPrice,
			BuyAgainstPrice:  ev.BuyAgainstPrice,
			SellForPrice:     ev.SellForPrice,
			SellAgainstPrice: ev.SellAgainstPrice,
			Turnover:         ev.Turnover,
		})
	}

	return &Result{User: user, Event: ev, Bet: bet}, nil
}

// --- Request/Response types ---

// CreateEventRequest is the JSON body for event creation.
type CreateEventRequest struct {
	Title     string          `json:"title"`
	Liquidity decimal.Decimal `json:"liquidity"` // B constant; 0 → default
}

// TradeRequest is the JSON body for POST /api/v1/events/{eventID}/trade.
type TradeRequest struct {
	UserID        int64  `json:"user_id"`
	Outcome       string `json:"outcome"`   // "FOR" or "AGAINST"
	Direction     string `json:"direction"` // "BUY" or "SELL"
	ExpectedPrice int64  `json:"expected_price"`
}

// Updates is the snapshot envelope shared by success responses and
// snapshot-carrying errors.
type Updates struct {
	Bets   []*model.Bet   `json:"bets,omitempty"`
	Events []*model.Event `json:"events,omitempty"`
	User   *model.User    `json:"user,omitempty"`
}

// TradeResponse is the JSON body returned from a trade request.
type TradeResponse struct {
	Error   string   `json:"error,omitempty"`
	Updates *Updates `json:"updates,omitempty"`
}

// --- HTTP Handlers ---

// CreateEvent handles POST /api/v1/events
func (s *Service) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req CreateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		writeError(w, "title is required", http.StatusBadRequest)
		return
	}

	b := req.Liquidity
	if b.LessThanOrEqual(decimal.Zero) {
		b = s.defaultLiquidity
	}

	ev := &model.Event{
		Title:     req.Title,
		Status:    model.EventInProgress,
		Liquidity: b,
		CreatedAt: time.Now().UTC(),
	}
	if err := ev.RecalculatePrices(); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.CreateEvent(r.Context(), ev); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	metrics.ActiveEvents.Inc()
	slog.Info("event created",
		"id", ev.ID,
		"title", ev.Title,
		"liquidity", b.String(),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(ev)
}

// GetEvent handles GET /api/v1/events/{eventID}
func (s *Service) GetEvent(w http.ResponseWriter, r *http.Request) {
	eventID, err := eventIDParam(r)
	if err != nil {
		writeError(w, "invalid event id", http.StatusBadRequest)
		return
	}

	ev, err := s.store.GetEvent(r.Context(), eventID)
	if err != nil {
		writeError(w, "event not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ev)
}

// GetPrice handles GET /api/v1/events/{eventID}/price
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	eventID, err := eventIDParam(r)
	if err != nil {
		writeError(w, "invalid event id", http.StatusBadRequest)
		return
	}

	ev, err := s.store.GetEvent(r.Context(), eventID)
	if err != nil {
		writeError(w, "event not found", http.StatusNotFound)
		return
	}

	resp := map[string]int64{
		"buy_for":      ev.BuyForPrice,
		"buy_against":  ev.BuyAgainstPrice,
		"sell_for":     ev.SellForPrice,
		"sell_against": ev.SellAgainstPrice,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ListEvents handles GET /api/v1/events
func (s *Service) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListEvents(r.Context())
	if err != nil {
		writeError(w, "failed to list events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.Event{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

// GetEventHistory handles GET /api/v1/events/{eventID}/history
// Returns ledger entries to reconstruct price history.
func (s *Service) GetEventHistory(w http.ResponseWriter, r *http.Request) {
	eventID, err := eventIDParam(r)
	if err != nil {
		writeError(w, "invalid event id", http.StatusBadRequest)
		return
	}

	entries, err := s.store.LedgerByEvent(r.Context(), eventID)
	if err != nil {
		writeError(w, "failed to get event history", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// ExecuteTrade handles POST /api/v1/events/{eventID}/trade
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	eventID, err := eventIDParam(r)
	if err != nil {
		writeError(w, "invalid event id", http.StatusBadRequest)
		return
	}

	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == 0 {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	outcome, err := model.ParseOutcome(req.Outcome)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	direction, err := model.ParseDirection(req.Direction)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.execute(r.Context(), req.UserID, eventID, outcome, direction, req.ExpectedPrice)
	if err != nil {
		writeTradeError(w, err)
		return
	}

	resp := TradeResponse{
		Updates: &Updates{
			Bets:   []*model.Bet{result.Bet},
			Events: []*model.Event{result.Event},
			User:   result.User,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeTradeError maps the domain error taxonomy onto HTTP, attaching
// the refreshed snapshot where the error carries one.
func writeTradeError(w http.ResponseWriter, err error) {
	var (
		priceErr *model.PriceMismatchError
		cashErr  *model.InsufficientCashError
		betsErr  *model.InsufficientBetsError
		outErr   *model.UnknownOutcomeError
	)

	w.Header().Set("Content-Type", "application/json")

	switch {
	case errors.Is(err, model.ErrNonexistantEvent), errors.Is(err, model.ErrNonexistantUser):
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(TradeResponse{Error: err.Error()})

	case errors.Is(err, model.ErrEventNotInProgress):
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(TradeResponse{Error: err.Error()})

	case errors.As(err, &outErr):
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(TradeResponse{Error: err.Error()})

	case errors.As(err, &priceErr):
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(TradeResponse{
			Error:   err.Error(),
			Updates: &Updates{Events: []*model.Event{priceErr.UpdatedEvent}},
		})

	case errors.As(err, &cashErr):
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(TradeResponse{
			Error:   err.Error(),
			Updates: &Updates{User: cashErr.UpdatedUser},
		})

	case errors.As(err, &betsErr):
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(TradeResponse{
			Error:   err.Error(),
			Updates: &Updates{Bets: []*model.Bet{betsErr.UpdatedBet}},
		})

	default:
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(TradeResponse{Error: "trade failed, try again"})
	}
}

func eventIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "eventID"), 10, 64)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
