// Package settlement resolves events: it applies the one-way transition
// from InProgress to a terminal status and pays out, refunds, or zeroes
// every open position, all as one atomic unit. Once an event is
// terminal the trade executor rejects every further order against it.
package settlement

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

	"github.com/agoramarkets/market-engine/internal/eventlock"
	"github.com/agoramarkets/market-engine/internal/metrics"
	"github.com/agoramarkets/market-engine/internal/model"
	"github.com/agoramarkets/market-engine/internal/store"
	"github.com/agoramarkets/market-engine/internal/trade"
)

// WinningPayout is the cash paid per owned share on the winning side.
// Prices live in [0, 100], so a share is worth the full 100 when its
// outcome comes true.
const WinningPayout = 100

// Service settles events. It shares the per-event lock registry with
// the trade executor so settlement and trades serialize against each
// other.
type Service struct {
	store store.Store
	locks *eventlock.Registry
	wsHub *trade.WSHub // optional
}

// NewService creates a settlement service.
func NewService(st store.Store, locks *eventlock.Registry, hub *trade.WSHub) *Service {
	return &Service{store: st, locks: locks, wsHub: hub}
}

// Settle transitions an event to the given terminal status and settles
// every open position on it:
//
//   - FinishedYes/FinishedNo: the winning side is paid WinningPayout per
//     owned share (EVENT_WON_PRIZE entry); the losing side is zeroed
//     with no cash movement.
//   - Cancelled: every position is refunded owned shares at the
//     position's rounded average buy price (EVENT_CANCELLED_REFUND
//     entry).
//
// Settling a nonexistent event returns ErrNonexistantEvent; settling an
// already-terminal event returns ErrEventNotInProgress.
func (s *Service) Settle(ctx context.Context, eventID int64, status model.EventStatus) (*model.Event, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("settlement: %s is not a terminal status", status)
	}

	unlock := s.locks.Lock(eventID)
	defer unlock()

	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, model.ErrNonexistantEvent
		}
		return nil, fmt.Errorf("load event %d: %w", eventID, err)
	}
	if ev.Status != model.EventInProgress {
		return nil, model.ErrEventNotInProgress
	}

	bets, err := s.store.ListBetsByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load bets for event %d: %w", eventID, err)
	}

	ev.Status = status
	now := time.Now().UTC()

	// One shared User per holder so multi-position credits accumulate.
	users := make(map[int64]*model.User)
	var results []store.SettlementResult

	for i := range bets {
		bet := bets[i]
		if bet.Owned == 0 {
			continue
		}

		user, ok := users[bet.UserID]
		if !ok {
			user, err = s.store.GetUser(ctx, bet.UserID)
			if err != nil {
				return nil, fmt.Errorf("load user %d: %w", bet.UserID, err)
			}
			users[bet.UserID] = user
		}

		result := store.SettlementResult{User: user, Bet: &bet}

		switch {
		case status == model.EventCancelled:
			unitRefund := bet.BoughtAvgPrice.Round(0).IntPart()
			refund := bet.Owned * unitRefund
			user.TotalCash += refund
			result.Entries = append(result.Entries, &model.LedgerEntry{
				ID:        uuid.New().String(),
				UserID:    bet.UserID,
				EventID:   &eventID,
				Type:      model.TransactionEventCancelledRefund,
				Quantity:  bet.Owned,
				Price:     unitRefund,
				CreatedAt: now,
			})

		case winningOutcome(status) == bet.Outcome:
			prize := bet.Owned * WinningPayout
			user.TotalCash += prize
			bet.RewardedTotal += prize
			result.Entries = append(result.Entries, &model.LedgerEntry{
				ID:        uuid.New().String(),
				UserID:    bet.UserID,
				EventID:   &eventID,
				Type:      model.TransactionEventWonPrize,
				Quantity:  bet.Owned,
				Price:     WinningPayout,
				CreatedAt: now,
			})
		}
		// Losing side: position zeroed, no cash movement, no entry.

		bet.Owned = 0
		results = append(results, result)
	}

	if err := s.store.ApplySettlement(ctx, ev, results); err != nil {
		return nil, fmt.Errorf("commit settlement: %w", err)
	}

	metrics.SettlementsTotal.WithLabelValues(status.String()).Inc()
	metrics.ActiveEvents.Dec()

	slog.Info("event settled",
		"event", eventID,
		"status", status.String(),
		"positions", len(results),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(trade.WSMessage{
			Type:    "event_settled",
			EventID: ev.ID,
			Status:  status.String(),
		})
	}

	return ev, nil
}

func winningOutcome(status model.EventStatus) model.Outcome {
	if status == model.EventFinishedYes {
		return model.OutcomeFor
	}
	return model.OutcomeAgainst
}

// SettleRequest is the JSON body for POST /api/v1/events/{eventID}/settle.
type SettleRequest struct {
	Result string `json:"result"` // "YES", "NO", or "CANCELLED"
}

// HandleSettle handles POST /api/v1/events/{eventID}/settle
func (s *Service) HandleSettle(w http.ResponseWriter, r *http.Request) {
	eventID, err := strconv.ParseInt(chi.URLParam(r, "eventID"), 10, 64)
	if err != nil {
		writeError(w, "invalid event id", http.StatusBadRequest)
		return
	}

	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var status model.EventStatus
	switch req.Result {
	case "YES":
		status = model.EventFinishedYes
	case "NO":
		status = model.EventFinishedNo
	case "CANCELLED":
		status = model.EventCancelled
	default:
		writeError(w, "result must be YES, NO, or CANCELLED", http.StatusBadRequest)
		return
	}

	ev, err := s.Settle(r.Context(), eventID, status)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrNonexistantEvent):
			writeError(w, "event not found", http.StatusNotFound)
		case errors.Is(err, model.ErrEventNotInProgress):
			writeError(w, err.Error(), http.StatusConflict)
		default:
			writeError(w, "settlement failed, try again", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ev)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
