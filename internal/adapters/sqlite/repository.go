package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tradecore/internal/domain"
	"tradecore/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/shopspring/decimal"
)

// Repository implements ports.ChangeRecorder and ports.OrderHistoryReader
// using SQLite. Monetary values are stored as TEXT so decimals round-trip
// without float drift.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/tradecore.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from a
	// single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite database ready", map[string]interface{}{"path": dbPath})

	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		intent_id TEXT NOT NULL,
		strategy_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		type TEXT NOT NULL,
		quantity TEXT NOT NULL,
		price TEXT NOT NULL,
		filled_quantity TEXT NOT NULL,
		avg_fill_price TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS fills (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		quantity TEXT NOT NULL,
		price TEXT NOT NULL,
		fee TEXT NOT NULL,
		filled_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS positions (
		symbol TEXT NOT NULL,
		strategy_id TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity TEXT NOT NULL,
		entry_price TEXT NOT NULL,
		realized_pnl TEXT NOT NULL,
		opened_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (symbol, strategy_id)
	);

	CREATE INDEX IF NOT EXISTS idx_orders_strategy_created ON orders (strategy_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_fills_order ON fills (order_id);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// RecordOrder upserts the order's current state. Every lifecycle transition
// calls this, so the row always mirrors the core's latest view.
func (r *Repository) RecordOrder(ctx context.Context, order *domain.Order) error {
	const query = `
	INSERT OR REPLACE INTO orders
		(id, intent_id, strategy_id, symbol, side, type, quantity, price,
		 filled_quantity, avg_fill_price, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		order.ID, order.IntentID, order.StrategyID, order.Symbol,
		string(order.Side), string(order.Type),
		order.Quantity.String(), order.Price.String(),
		order.FilledQuantity.String(), order.AvgFillPrice.String(),
		string(order.Status), order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to record order %s: %w: %w", order.ID, ports.ErrUpdateFailed, err)
	}
	return nil
}

// RecordFill inserts the fill, ignoring duplicates by fill id.
func (r *Repository) RecordFill(ctx context.Context, fill domain.Fill) error {
	const query = `
	INSERT OR IGNORE INTO fills (id, order_id, quantity, price, fee, filled_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		fill.ID, fill.OrderID, fill.Quantity.String(), fill.Price.String(),
		fill.Fee.String(), fill.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to record fill %s: %w: %w", fill.ID, ports.ErrUpdateFailed, err)
	}
	return nil
}

// RecordPosition upserts the position keyed by symbol and strategy. A closed
// position (zero quantity) deletes the row.
func (r *Repository) RecordPosition(ctx context.Context, pos *domain.Position) error {
	if pos.Quantity.IsZero() {
		const del = `DELETE FROM positions WHERE symbol = ? AND strategy_id = ?`
		if _, err := r.db.ExecContext(ctx, del, pos.Symbol, pos.StrategyID); err != nil {
			return fmt.Errorf("failed to delete closed position %s/%s: %w: %w", pos.Symbol, pos.StrategyID, ports.ErrUpdateFailed, err)
		}
		return nil
	}

	const query = `
	INSERT OR REPLACE INTO positions
		(symbol, strategy_id, side, quantity, entry_price, realized_pnl, opened_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		pos.Symbol, pos.StrategyID, string(pos.Side),
		pos.Quantity.String(), pos.EntryPrice.String(), pos.RealizedPnL.String(),
		pos.OpenedAt, pos.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to record position %s/%s: %w: %w", pos.Symbol, pos.StrategyID, ports.ErrUpdateFailed, err)
	}
	return nil
}

// RecentOrders returns the most recently created orders, newest first.
func (r *Repository) RecentOrders(ctx context.Context, limit int) ([]*domain.Order, error) {
	const query = `
	SELECT id, intent_id, strategy_id, symbol, side, type, quantity, price,
	       filled_quantity, avg_fill_price, status, created_at, updated_at
	FROM orders
	ORDER BY created_at DESC, id DESC
	LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent orders: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	orders := make([]*domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order row: %w: %w", ports.ErrQueryFailed, err)
		}
		orders = append(orders, order)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order rows: %w: %w", ports.ErrQueryFailed, err)
	}
	return orders, nil
}

// FillsForOrder returns all recorded fills for an order, oldest first.
func (r *Repository) FillsForOrder(ctx context.Context, orderID string) ([]domain.Fill, error) {
	const query = `
	SELECT id, order_id, quantity, price, fee, filled_at
	FROM fills WHERE order_id = ? ORDER BY filled_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query fills for order %s: %w: %w", orderID, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	fills := make([]domain.Fill, 0)
	for rows.Next() {
		var f domain.Fill
		var qty, price, fee string
		if err := rows.Scan(&f.ID, &f.OrderID, &qty, &price, &fee, &f.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan fill row: %w: %w", ports.ErrQueryFailed, err)
		}
		if f.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("corrupt fill quantity %q: %w", qty, err)
		}
		if f.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("corrupt fill price %q: %w", price, err)
		}
		if f.Fee, err = decimal.NewFromString(fee); err != nil {
			return nil, fmt.Errorf("corrupt fill fee %q: %w", fee, err)
		}
		fills = append(fills, f)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fill rows: %w: %w", ports.ErrQueryFailed, err)
	}
	return fills, nil
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(s scanner) (*domain.Order, error) {
	o := &domain.Order{}
	var side, otype, status string
	var qty, price, filledQty, avgPrice string
	err := s.Scan(
		&o.ID, &o.IntentID, &o.StrategyID, &o.Symbol, &side, &otype,
		&qty, &price, &filledQty, &avgPrice, &status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Side = domain.Side(side)
	o.Type = domain.OrderType(otype)
	o.Status = domain.OrderStatus(status)
	if o.Quantity, err = decimal.NewFromString(qty); err != nil {
		return nil, fmt.Errorf("corrupt order quantity %q: %w", qty, err)
	}
	if o.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("corrupt order price %q: %w", price, err)
	}
	if o.FilledQuantity, err = decimal.NewFromString(filledQty); err != nil {
		return nil, fmt.Errorf("corrupt filled quantity %q: %w", filledQty, err)
	}
	if o.AvgFillPrice, err = decimal.NewFromString(avgPrice); err != nil {
		return nil, fmt.Errorf("corrupt avg fill price %q: %w", avgPrice, err)
	}
	return o, nil
}
