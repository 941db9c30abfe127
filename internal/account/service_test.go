package account_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/agoramarkets/market-engine/internal/account"
	"github.com/agoramarkets/market-engine/internal/eventlock"
	"github.com/agoramarkets/market-engine/internal/model"
	"github.com/agoramarkets/market-engine/internal/store"
	"github.com/agoramarkets/market-engine/internal/trade"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newTestService(initialTopUp int64) (*account.Service, *store.MemoryStore) {
	ms := store.NewMemoryStore()
	return account.NewService(ms, initialTopUp), ms
}

// --- Registration ---

func TestRegister_GrantsInitialTopUp(t *testing.T) {
	svc, ms := newTestService(1000)

	u, err := svc.Register(context.Background(), "alice", "Alice")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.TotalCash != 1000 || u.TotalGivenCash != 1000 {
		t.Errorf("expected 1000/1000, got %d/%d", u.TotalCash, u.TotalGivenCash)
	}

	entries, _ := ms.LedgerByUser(context.Background(), u.ID)
	if len(entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(entries))
	}
	if entries[0].Type != model.TransactionToppedUpByApp {
		t.Errorf("expected TOPPED_UP_BY_APP, got %s", entries[0].Type)
	}
	if entries[0].EventID != nil {
		t.Error("top-up entries must not reference an event")
	}
}

func TestRegister_NoGrantWhenDisabled(t *testing.T) {
	svc, ms := newTestService(0)

	u, err := svc.Register(context.Background(), "bob", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.TotalCash != 0 {
		t.Errorf("expected zero balance, got %d", u.TotalCash)
	}
	entries, _ := ms.LedgerByUser(context.Background(), u.ID)
	if len(entries) != 0 {
		t.Errorf("expected empty ledger, got %d entries", len(entries))
	}
}

func TestRegister_DuplicateUsername(t *testing.T) {
	svc, _ := newTestService(0)

	if _, err := svc.Register(context.Background(), "carol", ""); err != nil {
		t.Fatalf("first register: %v", err)
	}
	_, err := svc.Register(context.Background(), "carol", "")
	if !errors.Is(err, store.ErrUsernameTaken) {
		t.Errorf("expected ErrUsernameTaken, got %v", err)
	}
}

// --- Top-ups ---

func TestTopUp_AccumulatesGrants(t *testing.T) {
	svc, _ := newTestService(0)
	u, _ := svc.Register(context.Background(), "dave", "")

	if _, err := svc.TopUp(context.Background(), u.ID, 300); err != nil {
		t.Fatalf("first top-up: %v", err)
	}
	got, err := svc.TopUp(context.Background(), u.ID, 200)
	if err != nil {
		t.Fatalf("second top-up: %v", err)
	}
	if got.TotalCash != 500 || got.TotalGivenCash != 500 {
		t.Errorf("expected 500/500, got %d/%d", got.TotalCash, got.TotalGivenCash)
	}
}

func TestTopUp_RejectsNonPositiveAmount(t *testing.T) {
	svc, _ := newTestService(0)
	u, _ := svc.Register(context.Background(), "erin", "")

	for _, amount := range []int64{0, -50} {
		if _, err := svc.TopUp(context.Background(), u.ID, amount); !errors.Is(err, account.ErrInvalidAmount) {
			t.Errorf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestTopUp_UnknownUser(t *testing.T) {
	svc, _ := newTestService(0)
	if _, err := svc.TopUp(context.Background(), 404, 100); !errors.Is(err, account.ErrNonexistantUser) {
		t.Errorf("expected ErrNonexistantUser, got %v", err)
	}
}

// --- Portfolio valuation ---

func TestPortfolio_ValuesOpenPositionsAtSellPrice(t *testing.T) {
	svc, ms := newTestService(1000)
	u, _ := svc.Register(context.Background(), "frank", "")

	locks := eventlock.NewRegistry()
	trades := trade.NewService(ms, locks, nil, d(5))

	ev := &model.Event{
		Title:     "drought breaks",
		Status:    model.EventInProgress,
		Liquidity: d(5),
		CreatedAt: time.Now().UTC(),
	}
	ev.RecalculatePrices()
	ms.CreateEvent(context.Background(), ev)

	if _, err := trades.Buy(context.Background(), u.ID, ev.ID, model.OutcomeFor, 50); err != nil {
		t.Fatalf("buy: %v", err)
	}

	p, err := svc.Portfolio(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("portfolio: %v", err)
	}
	if len(p.Positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(p.Positions))
	}
	pos := p.Positions[0]
	// After the buy qFor=1, so the sell-side quote is back at 50.
	if pos.SellPrice != 50 || pos.Value != 50 {
		t.Errorf("expected sell=50 value=50, got %+v", pos)
	}
	if p.TotalValue != 50 {
		t.Errorf("expected total value 50, got %d", p.TotalValue)
	}
	if p.TotalCash != 950 {
		t.Errorf("expected cash 950, got %d", p.TotalCash)
	}
	// 50 portfolio over 1000 granted.
	if !p.Reputation.Equal(d(0.05)) {
		t.Errorf("expected reputation 0.05, got %s", p.Reputation)
	}

	// Valuation is persisted on the account.
	stored, _ := ms.GetUser(context.Background(), u.ID)
	if stored.PortfolioValue != 50 {
		t.Errorf("expected persisted portfolio value 50, got %d", stored.PortfolioValue)
	}
}

func TestPortfolio_SkipsSettledEvents(t *testing.T) {
	svc, ms := newTestService(1000)
	u, _ := svc.Register(context.Background(), "grace", "")

	ev := &model.Event{
		Title:     "finished race",
		Status:    model.EventFinishedYes,
		Liquidity: d(5),
		CreatedAt: time.Now().UTC(),
	}
	ev.RecalculatePrices()
	ms.CreateEvent(context.Background(), ev)
	bet, _ := ms.GetOrInitBet(context.Background(), u.ID, ev.ID, model.OutcomeFor)
	bet.Owned = 3
	ms.ApplySettlement(context.Background(), ev, []store.SettlementResult{{User: u, Bet: bet}})

	p, err := svc.Portfolio(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("portfolio: %v", err)
	}
	if len(p.Positions) != 0 || p.TotalValue != 0 {
		t.Errorf("terminal events must not be valued: %+v", p)
	}
}

func TestPortfolio_UnknownUser(t *testing.T) {
	svc, _ := newTestService(0)
	if _, err := svc.Portfolio(context.Background(), 404); !errors.Is(err, account.ErrNonexistantUser) {
		t.Errorf("expected ErrNonexistantUser, got %v", err)
	}
}

// --- HTTP handlers ---

func newTestRouter(svc *account.Service) chi.Router {
	r := chi.NewRouter()
	r.Post("/api/v1/users", svc.HandleCreateUser)
	r.Get("/api/v1/users/{userID}", svc.HandleGetUser)
	r.Post("/api/v1/users/{userID}/topup", svc.HandleTopUp)
	r.Get("/api/v1/users/{userID}/portfolio", svc.HandlePortfolio)
	r.Get("/api/v1/users/{userID}/history", svc.HandleHistory)
	return r
}

func TestHandleCreateUser(t *testing.T) {
	svc, _ := newTestService(500)
	r := newTestRouter(svc)

	body, _ := json.Marshal(account.CreateUserRequest{Username: "heidi", Name: "Heidi"})
	req := httptest.NewRequest("POST", "/api/v1/users", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var u model.User
	json.Unmarshal(w.Body.Bytes(), &u)
	if u.ID == 0 || u.TotalCash != 500 {
		t.Errorf("expected funded account, got %+v", u)
	}
}

func TestHandleCreateUser_MissingUsername(t *testing.T) {
	svc, _ := newTestService(0)
	r := newTestRouter(svc)

	req := httptest.NewRequest("POST", "/api/v1/users", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleCreateUser_Duplicate(t *testing.T) {
	svc, _ := newTestService(0)
	r := newTestRouter(svc)

	body, _ := json.Marshal(account.CreateUserRequest{Username: "ivan"})
	req := httptest.NewRequest("POST", "/api/v1/users", bytes.NewReader(body))
	r.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest("POST", "/api/v1/users", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
}

func TestHandleTopUp(t *testing.T) {
	svc, _ := newTestService(0)
	r := newTestRouter(svc)
	u, _ := svc.Register(context.Background(), "judy", "")

	body, _ := json.Marshal(account.TopUpRequest{Amount: 250})
	url := "/api/v1/users/" + strconv.FormatInt(u.ID, 10) + "/topup"
	req := httptest.NewRequest("POST", url, bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var got model.User
	json.Unmarshal(w.Body.Bytes(), &got)
	if got.TotalCash != 250 {
		t.Errorf("expected 250, got %d", got.TotalCash)
	}
}

func TestHandleHistory(t *testing.T) {
	svc, _ := newTestService(100)
	r := newTestRouter(svc)
	u, _ := svc.Register(context.Background(), "kim", "")

	req := httptest.NewRequest("GET", "/api/v1/users/"+strconv.FormatInt(u.ID, 10)+"/history", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var entries []model.LedgerEntry
	json.Unmarshal(w.Body.Bytes(), &entries)
	if len(entries) != 1 || entries[0].Type != model.TransactionToppedUpByApp {
		t.Errorf("expected the registration grant, got %+v", entries)
	}
}

func TestHandleGetUser_NotFound(t *testing.T) {
	svc, _ := newTestService(0)
	r := newTestRouter(svc)

	req := httptest.NewRequest("GET", "/api/v1/users/999", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}
