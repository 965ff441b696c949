package source

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/cdp-risk/internal/model"
)

// Schema creates the troves table read by PostgresSource. Monetary values
// are NUMERIC for exact decimal precision; the engine converts them to
// float64 on read. An owner may hold several troves of one collateral type,
// so rows are keyed by trove_id.
const Schema = `
CREATE TABLE IF NOT EXISTS troves (
	trove_id             TEXT    PRIMARY KEY,
	owner                TEXT    NOT NULL,
	collateral_type      TEXT    NOT NULL,
	collateral_amount    NUMERIC NOT NULL,
	debt                 NUMERIC NOT NULL,
	price                NUMERIC NOT NULL,
	min_collateral_ratio NUMERIC NOT NULL,
	status               TEXT    NOT NULL DEFAULT 'open',
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS troves_owner_idx ON troves (owner);
CREATE INDEX IF NOT EXISTS troves_collateral_debt_idx ON troves (UPPER(collateral_type), debt DESC);
`

// positionsQuery ranks open troves per collateral type by debt so the
// per-collateral cap keeps the largest exposures.
const positionsQuery = `
SELECT owner, collateral_type,
       collateral_amount::TEXT, debt::TEXT, price::TEXT, min_collateral_ratio::TEXT
FROM (
	SELECT t.*,
	       ROW_NUMBER() OVER (PARTITION BY UPPER(t.collateral_type) ORDER BY t.debt DESC, t.owner, t.trove_id) AS rn
	FROM troves t
	WHERE t.status = 'open'
	  AND (cardinality($1::TEXT[]) = 0 OR UPPER(t.collateral_type) = ANY($1::TEXT[]))
) ranked
WHERE $2::INT = 0 OR rn <= $2::INT
ORDER BY UPPER(collateral_type), rn`

// PostgresSource implements PositionSource over an indexed troves table.
type PostgresSource struct {
	pool *pgxpool.Pool
}

var _ PositionSource = (*PostgresSource)(nil)

// NewPostgresSource creates a PostgreSQL-backed position source.
func NewPostgresSource(pool *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

// EnsureSchema creates the troves table if it does not exist.
func (s *PostgresSource) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const upsertQuery = `
INSERT INTO troves (trove_id, owner, collateral_type, collateral_amount, debt, price, min_collateral_ratio, status, updated_at)
VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, 'open', now())
ON CONFLICT (trove_id) DO UPDATE
SET owner = EXCLUDED.owner,
    collateral_type = EXCLUDED.collateral_type,
    collateral_amount = EXCLUDED.collateral_amount,
    debt = EXCLUDED.debt,
    price = EXCLUDED.price,
    min_collateral_ratio = EXCLUDED.min_collateral_ratio,
    status = 'open',
    updated_at = now()`

// UpsertPosition inserts or replaces the open trove troveID. An empty
// troveID inserts a new trove under a generated ID, which is returned.
func (s *PostgresSource) UpsertPosition(ctx context.Context, troveID string, p model.Position) (string, error) {
	troveID, args := upsertArgs(troveID, p)
	if _, err := s.pool.Exec(ctx, upsertQuery, args...); err != nil {
		return "", fmt.Errorf("upsert trove %s (%s/%s): %w", troveID, p.Owner, p.Symbol(), err)
	}
	return troveID, nil
}

// upsertArgs builds the upsertQuery arguments, assigning an ID when needed.
func upsertArgs(troveID string, p model.Position) (string, []any) {
	if troveID == "" {
		troveID = uuid.New().String()
	}
	return troveID, []any{
		troveID, p.Owner, p.Symbol(),
		decimal.NewFromFloat(p.CollateralAmount).String(),
		decimal.NewFromFloat(p.Debt).String(),
		decimal.NewFromFloat(p.Price).String(),
		decimal.NewFromFloat(p.MinCollateralRatio).String(),
	}
}

func (s *PostgresSource) Positions(ctx context.Context, filter PositionFilter) ([]model.Position, error) {
	types, limit := filterArgs(filter)
	rows, err := s.pool.Query(ctx, positionsQuery, types, limit)
	if err != nil {
		return nil, fmt.Errorf("query troves: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// filterArgs converts a filter into the $1/$2 arguments of positionsQuery.
func filterArgs(f PositionFilter) ([]string, int) {
	limit := f.MaxPerCollateral
	if limit < 0 {
		limit = 0
	}
	return normalizeSymbols(f.CollateralTypes), limit
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// scanPositions reads pgx rows into positions, parsing NUMERIC text exactly
// before narrowing to float64.
func scanPositions(rows pgxRows) ([]model.Position, error) {
	positions := make([]model.Position, 0)
	for rows.Next() {
		var p model.Position
		var amountS, debtS, priceS, mcrS string
		if err := rows.Scan(&p.Owner, &p.CollateralType, &amountS, &debtS, &priceS, &mcrS); err != nil {
			return nil, fmt.Errorf("scan trove: %w", err)
		}

		var err error
		if p.CollateralAmount, err = parseNumeric(amountS); err != nil {
			return nil, err
		}
		if p.Debt, err = parseNumeric(debtS); err != nil {
			return nil, err
		}
		if p.Price, err = parseNumeric(priceS); err != nil {
			return nil, err
		}
		if p.MinCollateralRatio, err = parseNumeric(mcrS); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func parseNumeric(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return d.InexactFloat64(), nil
}
