// internal/storage/postgres.go
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresJournal stores records in a market_events table. The composite
// primary key (market, block, idx) backs the idempotent Append.
type PostgresJournal struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

const createMarketEvents = `
	CREATE TABLE IF NOT EXISTS market_events (
		market       VARCHAR(42)  NOT NULL,
		block        BIGINT       NOT NULL,
		idx          INTEGER      NOT NULL,
		type         VARCHAR(32)  NOT NULL,
		actor        VARCHAR(42)  NOT NULL DEFAULT '',
		side         VARCHAR(8)   NOT NULL DEFAULT '',
		gross_in     NUMERIC(78)  ,
		net_out      NUMERIC(78)  ,
		platform_fee NUMERIC(78)  ,
		creator_fee  NUMERIC(78)  ,
		refund       NUMERIC(78)  ,
		sold_supply  NUMERIC(78)  ,
		reserve      NUMERIC(78)  ,
		name         VARCHAR(64)  NOT NULL DEFAULT '',
		symbol       VARCHAR(16)  NOT NULL DEFAULT '',
		link         TEXT         NOT NULL DEFAULT '',
		supply_cap   NUMERIC(78)  ,
		total_supply NUMERIC(78)  ,
		forced       BOOLEAN      NOT NULL DEFAULT FALSE,
		migrated     BOOLEAN      NOT NULL DEFAULT FALSE,
		created_at   TIMESTAMPTZ  NOT NULL,
		PRIMARY KEY (market, block, idx)
	)`

const journalSelectCols = `market, block, idx, type, actor, side,
	COALESCE(gross_in::text, ''), COALESCE(net_out::text, ''),
	COALESCE(platform_fee::text, ''), COALESCE(creator_fee::text, ''),
	COALESCE(refund::text, ''), COALESCE(sold_supply::text, ''),
	COALESCE(reserve::text, ''), name, symbol, link,
	COALESCE(supply_cap::text, ''), COALESCE(total_supply::text, ''),
	forced, migrated, created_at`

// OpenPostgres connects, verifies the connection and ensures the schema.
func OpenPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresJournal, error) {
	if dsn == "" {
		return nil, errors.New("storage: postgres dsn is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, createMarketEvents); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ensure market_events table: %w", err)
	}
	return &PostgresJournal{pool: pool, logger: logger.Named("postgres_journal")}, nil
}

// Append inserts the record, silently skipping an already stored key.
func (p *PostgresJournal) Append(ctx context.Context, rec Record) error {
	const query = `
		INSERT INTO market_events (
			market, block, idx, type, actor, side,
			gross_in, net_out, platform_fee, creator_fee, refund, sold_supply,
			reserve, name, symbol, link, supply_cap, total_supply,
			forced, migrated, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			NULLIF($7, '')::numeric, NULLIF($8, '')::numeric,
			NULLIF($9, '')::numeric, NULLIF($10, '')::numeric,
			NULLIF($11, '')::numeric, NULLIF($12, '')::numeric,
			NULLIF($13, '')::numeric, $14, $15, $16,
			NULLIF($17, '')::numeric, NULLIF($18, '')::numeric,
			$19, $20, $21
		) ON CONFLICT (market, block, idx) DO NOTHING`

	_, err := p.pool.Exec(ctx, query,
		rec.Market, rec.Block, rec.Index, rec.Type, rec.Actor, rec.Side,
		rec.GrossIn, rec.NetOut, rec.PlatformFee, rec.CreatorFee, rec.Refund, rec.SoldSupply,
		rec.Reserve, rec.Name, rec.Symbol, rec.Link, rec.SupplyCap, rec.TotalSupply,
		rec.Forced, rec.Migrated, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append record %s: %w", rec.Key(), err)
	}
	return nil
}

// List returns matching records ordered by market, block and index.
func (p *PostgresJournal) List(ctx context.Context, market string, limit, offset int) ([]Record, error) {
	query := `SELECT ` + journalSelectCols + ` FROM market_events`
	args := []any{}
	argIdx := 1

	if market != "" {
		query += fmt.Sprintf(" WHERE market = $%d", argIdx)
		args = append(args, market)
		argIdx++
	}
	query += " ORDER BY market, block, idx"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
		argIdx++
	}
	if offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, offset)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list records: %w", err)
	}
	defer rows.Close()
	return scanRecordRows(rows)
}

// Count reports stored records, all markets when market is empty.
func (p *PostgresJournal) Count(ctx context.Context, market string) (int64, error) {
	var n int64
	var err error
	if market == "" {
		err = p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM market_events`).Scan(&n)
	} else {
		err = p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM market_events WHERE market = $1`, market).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: count records: %w", err)
	}
	return n, nil
}

// Close shuts down the connection pool.
func (p *PostgresJournal) Close() error {
	p.pool.Close()
	return nil
}

func scanRecordRows(rows pgx.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.Market, &rec.Block, &rec.Index, &rec.Type, &rec.Actor, &rec.Side,
			&rec.GrossIn, &rec.NetOut, &rec.PlatformFee, &rec.CreatorFee,
			&rec.Refund, &rec.SoldSupply,
			&rec.Reserve, &rec.Name, &rec.Symbol, &rec.Link,
			&rec.SupplyCap, &rec.TotalSupply,
			&rec.Forced, &rec.Migrated, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
