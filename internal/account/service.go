// Package account manages user cash accounts: registration, top-ups,
// portfolio valuation, and transaction history. Cash only enters the
// system through top-ups; every grant raises both the spendable balance
// and the lifetime-granted counter that reputation is measured against.
package account

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

	"github.com/agoramarkets/market-engine/internal/model"
	"github.com/agoramarkets/market-engine/internal/store"
)

// ErrNonexistantUser is the shared unknown-user sentinel, re-exported
// for callers that only deal with this package.
var ErrNonexistantUser = model.ErrNonexistantUser

// ErrInvalidAmount is returned when a top-up amount is not positive.
var ErrInvalidAmount = errors.New("top-up amount must be positive")

// Service manages user accounts.
type Service struct {
	store store.Store

	// initialTopUp is granted to every freshly registered account.
	// Zero disables the grant.
	initialTopUp int64
}

// NewService creates an account service.
func NewService(st store.Store, initialTopUp int64) *Service {
	return &Service{store: st, initialTopUp: initialTopUp}
}

// Register creates a new account and, when the service is configured
// with an initial grant, tops it up immediately.
func (s *Service) Register(ctx context.Context, username, name string) (*model.User, error) {
	user := &model.User{
		Username:   username,
		Name:       name,
		Reputation: decimal.Zero,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	if s.initialTopUp > 0 {
		topped, err := s.TopUp(ctx, user.ID, s.initialTopUp)
		if err != nil {
			return nil, fmt.Errorf("initial top-up for user %d: %w", user.ID, err)
		}
		user = topped
	}

	slog.Info("user registered", "user", user.ID, "username", username)
	return user, nil
}

// TopUp grants cash to an account. Both the spendable balance and the
// lifetime TotalGivenCash counter move, and the grant is recorded in
// the ledger; the account update and the ledger append commit together.
func (s *Service) TopUp(ctx context.Context, userID, amount int64) (*model.User, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNonexistantUser
		}
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}

	user.TotalCash += amount
	user.TotalGivenCash += amount
	user.RecalculateReputation()

	entry := &model.LedgerEntry{
		ID:        uuid.New().String(),
		UserID:    userID,
		Type:      model.TransactionToppedUpByApp,
		Quantity:  1,
		Price:     amount,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.ApplyTopUp(ctx, user, entry); err != nil {
		return nil, fmt.Errorf("commit top-up: %w", err)
	}

	slog.Info("account topped up", "user", userID, "amount", amount, "balance", user.TotalCash)
	return user, nil
}

// Portfolio values every open position at its event's current sell
// price. Only in-progress events contribute: terminal events have
// already paid out or zeroed their positions. The derived portfolio
// value and reputation are persisted as a side effect so list views
// stay roughly current without valuing on every read.
func (s *Service) Portfolio(ctx context.Context, userID int64) (*model.Portfolio, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNonexistantUser
		}
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}

	bets, err := s.store.ListBetsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load bets for user %d: %w", userID, err)
	}

	portfolio := &model.Portfolio{
		UserID:    userID,
		Positions: []model.Position{},
	}

	for _, bet := range bets {
		if bet.Owned == 0 {
			continue
		}
		ev, err := s.store.GetEvent(ctx, bet.EventID)
		if err != nil {
			return nil, fmt.Errorf("load event %d: %w", bet.EventID, err)
		}
		if ev.Status != model.EventInProgress {
			continue
		}
		sellPrice, err := ev.Price(bet.Outcome, model.DirectionSell)
		if err != nil {
			return nil, fmt.Errorf("price event %d: %w", bet.EventID, err)
		}
		value := bet.Owned * sellPrice
		portfolio.Positions = append(portfolio.Positions, model.Position{
			EventID:   ev.ID,
			Title:     ev.Title,
			Outcome:   bet.Outcome,
			Owned:     bet.Owned,
			SellPrice: sellPrice,
			Value:     value,
		})
		portfolio.TotalValue += value
	}

	user.PortfolioValue = portfolio.TotalValue
	user.RecalculateReputation()
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("persist valuation for user %d: %w", userID, err)
	}

	portfolio.TotalCash = user.TotalCash
	portfolio.Reputation = user.Reputation
	return portfolio, nil
}

// History returns the user's ledger entries in creation order.
func (s *Service) History(ctx context.Context, userID int64) ([]model.LedgerEntry, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNonexistantUser
		}
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}
	entries, err := s.store.LedgerByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load ledger for user %d: %w", userID, err)
	}
	return entries, nil
}

// CreateUserRequest is the JSON body for POST /api/v1/users.
type CreateUserRequest struct {
	Username string `json:"username"`
	Name     string `json:"name"`
}

// TopUpRequest is the JSON body for POST /api/v1/users/{userID}/topup.
type TopUpRequest struct {
	Amount int64 `json:"amount"`
}

// HandleCreateUser handles POST /api/v1/users
func (s *Service) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" {
		writeError(w, "username is required", http.StatusBadRequest)
		return
	}

	user, err := s.Register(r.Context(), req.Username, req.Name)
	if err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			writeError(w, err.Error(), http.StatusConflict)
			return
		}
		writeError(w, "failed to create user", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(user)
}

// HandleGetUser handles GET /api/v1/users/{userID}
func (s *Service) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		writeError(w, "invalid user id", http.StatusBadRequest)
		return
	}
	user, err := s.store.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "user not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load user", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

// HandleTopUp handles POST /api/v1/users/{userID}/topup
func (s *Service) HandleTopUp(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		writeError(w, "invalid user id", http.StatusBadRequest)
		return
	}
	var req TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, err := s.TopUp(r.Context(), userID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, ErrNonexistantUser):
			writeError(w, "user not found", http.StatusNotFound)
		case errors.Is(err, ErrInvalidAmount):
			writeError(w, err.Error(), http.StatusBadRequest)
		default:
			writeError(w, "top-up failed, try again", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

// HandlePortfolio handles GET /api/v1/users/{userID}/portfolio
func (s *Service) HandlePortfolio(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		writeError(w, "invalid user id", http.StatusBadRequest)
		return
	}
	portfolio, err := s.Portfolio(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrNonexistantUser) {
			writeError(w, "user not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to value portfolio", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(portfolio)
}

// HandleHistory handles GET /api/v1/users/{userID}/history
func (s *Service) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		writeError(w, "invalid user id", http.StatusBadRequest)
		return
	}
	entries, err := s.History(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrNonexistantUser) {
			writeError(w, "user not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

func userIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
