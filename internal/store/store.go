package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fairmm-go/market"
	"fairmm-go/strategy"

	_ "github.com/glebarez/go-sqlite"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotInitialized 尚未写入策略配置。
	ErrNotInitialized = errors.New("store: strategy not initialized")
	// ErrAlreadyInitialized 已有配置；修改只能通过 Reinitialize。
	ErrAlreadyInitialized = errors.New("store: strategy already initialized")
)

// CycleRecord 最近一次成功周期后的报价状态。只保留最新一条。
type CycleRecord struct {
	Cycle    uint64
	Fair     decimal.Decimal
	Target   strategy.Target
	OrderIDs []string // 周期结束后本策略的挂单
	At       time.Time
}

// QuoteState 持久化的策略状态：配置及最近一次周期。
type QuoteState struct {
	Symbol        string
	Config        strategy.Config
	Version       uint64 // 每次 Reinitialize 加一
	InitializedAt time.Time
	UpdatedAt     time.Time
	Last          *CycleRecord
}

// Store 基于 SQLite 的报价状态存储。
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open 打开（必要时创建）数据库并建表，启用 WAL。
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// 单写者；避免 SQLITE_BUSY
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", pragma, err)
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS strategy_config (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			symbol TEXT NOT NULL,
			edge_bps INTEGER NOT NULL,
			quote_size INTEGER NOT NULL,
			post_only INTEGER NOT NULL,
			improvement TEXT NOT NULL,
			version INTEGER NOT NULL,
			initialized_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS quote_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			cycle INTEGER NOT NULL,
			fair TEXT NOT NULL,
			bid INTEGER NOT NULL,
			ask INTEGER NOT NULL,
			order_ids TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close 关闭数据库。
func (s *Store) Close() error {
	return s.db.Close()
}

// Initialize 首次写入策略配置；已存在时返回 ErrAlreadyInitialized。
// 配置非法时返回 *strategy.ConfigurationError，不写入任何内容。
func (s *Store) Initialize(ctx context.Context, symbol string, cfg strategy.Config) error {
	if err := validate(symbol, cfg); err != nil {
		return err
	}
	ts := s.now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO strategy_config (id, symbol, edge_bps, quote_size, post_only, improvement, version, initialized_at, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?, 1, ?, ?) ON CONFLICT(id) DO NOTHING`,
		symbol, int64(cfg.EdgeBps), int64(cfg.QuoteSize), boolInt(cfg.PostOnly), cfg.Improvement.String(), ts, ts,
	)
	if err != nil {
		return fmt.Errorf("insert strategy config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyInitialized
	}
	return nil
}

// Reinitialize 显式替换策略配置，并清空最近周期记录（旧目标对新配置无意义）。
func (s *Store) Reinitialize(ctx context.Context, symbol string, cfg strategy.Config) (uint64, error) {
	if err := validate(symbol, cfg); err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var version int64
	err = tx.QueryRowContext(ctx, "SELECT version FROM strategy_config WHERE id = 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotInitialized
	}
	if err != nil {
		return 0, fmt.Errorf("read strategy config: %w", err)
	}
	version++
	_, err = tx.ExecContext(ctx,
		`UPDATE strategy_config SET symbol = ?, edge_bps = ?, quote_size = ?, post_only = ?, improvement = ?, version = ?, updated_at = ? WHERE id = 1`,
		symbol, int64(cfg.EdgeBps), int64(cfg.QuoteSize), boolInt(cfg.PostOnly), cfg.Improvement.String(), version, s.now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("update strategy config: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM quote_state"); err != nil {
		return 0, fmt.Errorf("reset quote state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return uint64(version), nil
}

// Load 读取配置与最近周期。
func (s *Store) Load(ctx context.Context) (QuoteState, error) {
	var (
		st                  QuoteState
		edge, size, version int64
		improvement         string
		initAt, updatedAt   int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT symbol, edge_bps, quote_size, post_only, improvement, version, initialized_at, updated_at FROM strategy_config WHERE id = 1`,
	).Scan(&st.Symbol, &edge, &size, &st.Config.PostOnly, &improvement, &version, &initAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return QuoteState{}, ErrNotInitialized
	}
	if err != nil {
		return QuoteState{}, fmt.Errorf("load strategy config: %w", err)
	}
	st.Config.EdgeBps = uint64(edge)
	st.Config.QuoteSize = uint64(size)
	if st.Config.Improvement, err = strategy.ParsePriceImprovement(improvement); err != nil {
		return QuoteState{}, fmt.Errorf("load strategy config: %w", err)
	}
	st.Version = uint64(version)
	st.InitializedAt = time.UnixMilli(initAt)
	st.UpdatedAt = time.UnixMilli(updatedAt)

	var (
		rec           CycleRecord
		cycle, at     int64
		bid, ask      int64
		fair, idsJSON string
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT cycle, fair, bid, ask, order_ids, updated_at FROM quote_state WHERE id = 1`,
	).Scan(&cycle, &fair, &bid, &ask, &idsJSON, &at)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return st, nil
	case err != nil:
		return QuoteState{}, fmt.Errorf("load quote state: %w", err)
	}
	rec.Cycle = uint64(cycle)
	if rec.Fair, err = decimal.NewFromString(fair); err != nil {
		return QuoteState{}, fmt.Errorf("load quote state fair: %w", err)
	}
	rec.Target = strategy.Target{Bid: market.Ticks(bid), Ask: market.Ticks(ask)}
	if err := json.Unmarshal([]byte(idsJSON), &rec.OrderIDs); err != nil {
		return QuoteState{}, fmt.Errorf("load quote state order ids: %w", err)
	}
	rec.At = time.UnixMilli(at)
	st.Last = &rec
	return st, nil
}

// RecordCycle 覆盖最近一次周期记录。
func (s *Store) RecordCycle(ctx context.Context, rec CycleRecord) error {
	ids := rec.OrderIDs
	if ids == nil {
		ids = []string{}
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	at := rec.At
	if at.IsZero() {
		at = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO quote_state (id, cycle, fair, bid, ask, order_ids, updated_at)
		 SELECT 1, ?, ?, ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM strategy_config WHERE id = 1)
		 ON CONFLICT(id) DO UPDATE SET cycle = excluded.cycle, fair = excluded.fair, bid = excluded.bid,
		   ask = excluded.ask, order_ids = excluded.order_ids, updated_at = excluded.updated_at`,
		int64(rec.Cycle), rec.Fair.String(), int64(rec.Target.Bid), int64(rec.Target.Ask), string(idsJSON), at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record cycle: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotInitialized
	}
	return nil
}

func validate(symbol string, cfg strategy.Config) error {
	if symbol == "" {
		return &strategy.ConfigurationError{Field: "symbol", Reason: "is required"}
	}
	return cfg.Validate()
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
