package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/agoramarkets/market-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Decimal values (liquidity, average prices, reputation) are stored as
// NUMERIC and round-tripped through text for exact precision. The Apply*
// methods run as single transactions.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const eventColumns = `id, title, status, quantity_for, quantity_against,
       liquidity::TEXT, buy_for_price, buy_against_price,
       sell_for_price, sell_against_price, turnover, last_trade_at, created_at`

func (s *PostgresStore) CreateEvent(ctx context.Context, ev *model.Event) error {
	return s.pool.QueryRow(ctx,
		`INSERT INTO events (title, status, quantity_for, quantity_against, liquidity,
		                     buy_for_price, buy_against_price, sell_for_price, sell_against_price,
		                     turnover, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		ev.Title, int(ev.Status), ev.QuantityFor, ev.QuantityAgainst, ev.Liquidity.String(),
		ev.BuyForPrice, ev.BuyAgainstPrice, ev.SellForPrice, ev.SellAgainstPrice,
		ev.Turnover, ev.CreatedAt,
	).Scan(&ev.ID)
}

func (s *PostgresStore) GetEvent(ctx context.Context, id int64) (*model.Event, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("event %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get event %d: %w", id, err)
	}
	return ev, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM events ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (username, name, total_cash, total_given_cash,
		                    portfolio_value, reputation, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7)
		 RETURNING id`,
		u.Username, u.Name, u.TotalCash, u.TotalGivenCash,
		u.PortfolioValue, u.Reputation.String(), u.CreatedAt,
	).Scan(&u.ID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("username %s: %w", u.Username, ErrUsernameTaken)
	}
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	var reputation string

	err := s.pool.QueryRow(ctx,
		`SELECT id, username, name, total_cash, total_given_cash,
		        portfolio_value, reputation::TEXT, created_at
		 FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Username, &u.Name, &u.TotalCash, &u.TotalGivenCash,
			&u.PortfolioValue, &reputation, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}

	u.Reputation, _ = decimal.NewFromString(reputation)
	return &u, nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE users
		 SET total_cash = $2, total_given_cash = $3,
		     portfolio_value = $4, reputation = $5::NUMERIC
		 WHERE id = $1`,
		u.ID, u.TotalCash, u.TotalGivenCash, u.PortfolioValue, u.Reputation.String(),
	)
	return err
}

const betColumns = `id, user_id, event_id, outcome, owned, bought, sold,
       bought_avg_price::TEXT, sold_avg_price::TEXT, rewarded_total`

func (s *PostgresStore) GetBet(ctx context.Context, userID, eventID int64, outcome model.Outcome) (*model.Bet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+betColumns+` FROM bets
		 WHERE user_id = $1 AND event_id = $2 AND outcome = $3`,
		userID, eventID, int(outcome))
	b, err := scanBet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("bet (user %d, event %d, %s): %w", userID, eventID, outcome, ErrNotFound)
		}
		return nil, fmt.Errorf("get bet: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) GetOrInitBet(ctx context.Context, userID, eventID int64, outcome model.Outcome) (*model.Bet, error) {
	b, err := s.GetBet(ctx, userID, eventID, outcome)
	if errors.Is(err, ErrNotFound) {
		// First trade on this position inserts the row inside its
		// commit transaction.
		return &model.Bet{UserID: userID, EventID: eventID, Outcome: outcome}, nil
	}
	return b, err
}

func (s *PostgresStore) ListBetsByUser(ctx context.Context, userID int64) ([]model.Bet, error) {
	return s.listBets(ctx,
		`SELECT `+betColumns+` FROM bets WHERE user_id = $1 ORDER BY id`, userID)
}

func (s *PostgresStore) ListBetsByEvent(ctx context.Context, eventID int64) ([]model.Bet, error) {
	return s.listBets(ctx,
		`SELECT `+betColumns+` FROM bets WHERE event_id = $1 ORDER BY id`, eventID)
}

func (s *PostgresStore) listBets(ctx context.Context, query string, arg any) ([]model.Bet, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bets []model.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		bets = append(bets, *b)
	}
	return bets, rows.Err()
}

// ApplyTrade commits all four effects of one trade in one transaction.
func (s *PostgresStore) ApplyTrade(ctx context.Context, ev *model.Event, u *model.User, b *model.Bet, entry *model.LedgerEntry) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := updateEventTx(ctx, tx, ev); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE users SET total_cash = $2 WHERE id = $1`,
			u.ID, u.TotalCash); err != nil {
			return err
		}
		if err := upsertBetTx(ctx, tx, b); err != nil {
			return err
		}
		return insertLedgerTx(ctx, tx, entry)
	})
}

func (s *PostgresStore) ApplyTopUp(ctx context.Context, u *model.User, entry *model.LedgerEntry) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE users SET total_cash = $2, total_given_cash = $3 WHERE id = $1`,
			u.ID, u.TotalCash, u.TotalGivenCash); err != nil {
			return err
		}
		return insertLedgerTx(ctx, tx, entry)
	})
}

func (s *PostgresStore) ApplySettlement(ctx context.Context, ev *model.Event, results []SettlementResult) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := updateEventTx(ctx, tx, ev); err != nil {
			return err
		}
		for _, r := range results {
			if _, err := tx.Exec(ctx,
				`UPDATE users SET total_cash = $2 WHERE id = $1`,
				r.User.ID, r.User.TotalCash); err != nil {
				return err
			}
			if err := upsertBetTx(ctx, tx, r.Bet); err != nil {
				return err
			}
			for _, e := range r.Entries {
				if err := insertLedgerTx(ctx, tx, e); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *PostgresStore) LedgerByEvent(ctx context.Context, eventID int64) ([]model.LedgerEntry, error) {
	return s.listLedger(ctx,
		`SELECT id, user_id, event_id, type, quantity, price, created_at
		 FROM ledger_entries WHERE event_id = $1 ORDER BY created_at`, eventID)
}

func (s *PostgresStore) LedgerByUser(ctx context.Context, userID int64) ([]model.LedgerEntry, error) {
	return s.listLedger(ctx,
		`SELECT id, user_id, event_id, type, quantity, price, created_at
		 FROM ledger_entries WHERE user_id = $1 ORDER BY created_at`, userID)
}

func (s *PostgresStore) listLedger(ctx context.Context, query string, arg any) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var typ int
		if err := rows.Scan(&e.ID, &e.UserID, &e.EventID, &typ, &e.Quantity, &e.Price, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = model.TransactionType(typ)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Transaction helpers ---

func (s *PostgresStore) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func updateEventTx(ctx context.Context, tx pgx.Tx, ev *model.Event) error {
	_, err := tx.Exec(ctx,
		`UPDATE events
		 SET status = $2, quantity_for = $3, quantity_against = $4,
		     buy_for_price = $5, buy_against_price = $6,
		     sell_for_price = $7, sell_against_price = $8,
		     turnover = $9, last_trade_at = $10
		 WHERE id = $1`,
		ev.ID, int(ev.Status), ev.QuantityFor, ev.QuantityAgainst,
		ev.BuyForPrice, ev.BuyAgainstPrice,
		ev.SellForPrice, ev.SellAgainstPrice,
		ev.Turnover, ev.LastTradeAt,
	)
	return err
}

// upsertBetTx persists a position inside the surrounding transaction,
// inserting it on its first trade (ID still 0) and updating it after.
func upsertBetTx(ctx context.Context, tx pgx.Tx, b *model.Bet) error {
	if b.ID == 0 {
		return tx.QueryRow(ctx,
			`INSERT INTO bets (user_id, event_id, outcome, owned, bought, sold,
			                   bought_avg_price, sold_avg_price, rewarded_total)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9)
			 RETURNING id`,
			b.UserID, b.EventID, int(b.Outcome), b.Owned, b.Bought, b.Sold,
			b.BoughtAvgPrice.String(), b.SoldAvgPrice.String(),
			b.RewardedTotal,
		).Scan(&b.ID)
	}
	_, err := tx.Exec(ctx,
		`UPDATE bets
		 SET owned = $2, bought = $3, sold = $4,
		     bought_avg_price = $5::NUMERIC, sold_avg_price = $6::NUMERIC,
		     rewarded_total = $7
		 WHERE id = $1`,
		b.ID, b.Owned, b.Bought, b.Sold,
		b.BoughtAvgPrice.String(), b.SoldAvgPrice.String(),
		b.RewardedTotal,
	)
	return err
}

func insertLedgerTx(ctx context.Context, tx pgx.Tx, e *model.LedgerEntry) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (id, user_id, event_id, type, quantity, price, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.UserID, e.EventID, int(e.Type), e.Quantity, e.Price, e.CreatedAt,
	)
	return err
}

// --- Row scanning ---

type pgxRow interface {
	Scan(dest ...any) error
}

func scanEvent(row pgxRow) (*model.Event, error) {
	var ev model.Event
	var status int
	var liquidity string

	if err := row.Scan(&ev.ID, &ev.Title, &status, &ev.QuantityFor, &ev.QuantityAgainst,
		&liquidity, &ev.BuyForPrice, &ev.BuyAgainstPrice,
		&ev.SellForPrice, &ev.SellAgainstPrice, &ev.Turnover,
		&ev.LastTradeAt, &ev.CreatedAt); err != nil {
		return nil, err
	}

	ev.Status = model.EventStatus(status)
	ev.Liquidity, _ = decimal.NewFromString(liquidity)
	return &ev, nil
}

func scanBet(row pgxRow) (*model.Bet, error) {
	var b model.Bet
	var outcome int
	var boughtAvg, soldAvg string

	if err := row.Scan(&b.ID, &b.UserID, &b.EventID, &outcome, &b.Owned, &b.Bought, &b.Sold,
		&boughtAvg, &soldAvg, &b.RewardedTotal); err != nil {
		return nil, err
	}

	b.Outcome = model.Outcome(outcome)
	b.BoughtAvgPrice, _ = decimal.NewFromString(boughtAvg)
	b.SoldAvgPrice, _ = decimal.NewFromString(soldAvg)
	return &b, nil
}
