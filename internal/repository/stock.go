package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/stockviewer-backend/internal/models"
	"github.com/shopspring/decimal"
)

const (
	stockTable     = "stock_data"
	stockColumns   = "trade_date, trade_code, open, high, low, close, volume"
	uniqueViolated = "23505"
)

var copyColumns = []string{"trade_date", "trade_code", "open", "high", "low", "close", "volume"}

// StockRepo owns the lifetime of stock_data rows. Every method runs in its
// own transaction that is rolled back on any failure.
type StockRepo struct {
	pool *pgxpool.Pool
}

func NewStockRepo(pool *pgxpool.Pool) *StockRepo {
	return &StockRepo{pool: pool}
}

func (r *StockRepo) Create(ctx context.Context, rec *models.StockRecord) (*models.StockRecord, error) {
	var out *models.StockRecord
	err := r.withTx(ctx, "create", func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`INSERT INTO stock_data (`+stockColumns+`)
			 VALUES ($1,$2,$3,$4,$5,$6,$7)
			 RETURNING `+stockColumns,
			rec.TradeDate, rec.TradeCode,
			numeric(rec.Open), numeric(rec.High), numeric(rec.Low), numeric(rec.Close),
			rec.Volume,
		)
		var err error
		out, err = scanStock(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *StockRepo) Get(ctx context.Context, key models.RecordKey) (*models.StockRecord, error) {
	var out *models.StockRecord
	err := r.withTx(ctx, "get", func(tx pgx.Tx) error {
		var err error
		out, err = scanStock(tx.QueryRow(ctx,
			`SELECT `+stockColumns+` FROM stock_data WHERE trade_date = $1 AND trade_code = $2`,
			key.TradeDate, key.TradeCode,
		))
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List returns every record ordered by date, then trade code.
func (r *StockRepo) List(ctx context.Context) ([]models.StockRecord, error) {
	var out []models.StockRecord
	err := r.withTx(ctx, "list", func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT `+stockColumns+` FROM stock_data ORDER BY trade_date ASC, trade_code ASC`,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = collectStocks(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.StockRecord{}
	}
	return out, nil
}

// Update applies only the fields present in patch.
func (r *StockRepo) Update(ctx context.Context, key models.RecordKey, patch *models.RecordPatch) (*models.StockRecord, error) {
	var out *models.StockRecord
	err := r.withTx(ctx, "update", func(tx pgx.Tx) error {
		cur, err := scanStock(tx.QueryRow(ctx,
			`SELECT `+stockColumns+` FROM stock_data
			 WHERE trade_date = $1 AND trade_code = $2
			 FOR UPDATE`,
			key.TradeDate, key.TradeCode,
		))
		if err != nil {
			return err
		}
		if patch == nil || patch.Empty() {
			out = cur
			return nil
		}

		patch.Apply(cur)
		out, err = scanStock(tx.QueryRow(ctx,
			`UPDATE stock_data
			 SET open = $3, high = $4, low = $5, close = $6, volume = $7
			 WHERE trade_date = $1 AND trade_code = $2
			 RETURNING `+stockColumns,
			key.TradeDate, key.TradeCode,
			numeric(cur.Open), numeric(cur.High), numeric(cur.Low), numeric(cur.Close),
			cur.Volume,
		))
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *StockRepo) Delete(ctx context.Context, key models.RecordKey) error {
	return r.withTx(ctx, "delete", func(tx pgx.Tx) error {
		var code string
		return tx.QueryRow(ctx,
			`DELETE FROM stock_data WHERE trade_date = $1 AND trade_code = $2 RETURNING trade_code`,
			key.TradeDate, key.TradeCode,
		).Scan(&code)
	})
}

// BulkImport inserts the records whose key is not yet stored and skips the
// rest. The whole batch commits or none of it does.
func (r *StockRepo) BulkImport(ctx context.Context, recs []models.StockRecord) (*models.ImportSummary, error) {
	var summary models.ImportSummary
	err := r.withTx(ctx, "bulk import", func(tx pgx.Tx) error {
		existing, err := existingKeys(ctx, tx, recs)
		if err != nil {
			return err
		}

		plan := PlanImport(recs, existing)
		summary = plan.Summary

		if len(plan.Insert) == 0 {
			return nil
		}

		n, err := tx.CopyFrom(ctx,
			pgx.Identifier{stockTable},
			copyColumns,
			pgx.CopyFromSlice(len(plan.Insert), func(i int) ([]any, error) {
				rec := plan.Insert[i]
				return []any{
					rec.TradeDate, rec.TradeCode,
					numeric(rec.Open), numeric(rec.High), numeric(rec.Low), numeric(rec.Close),
					rec.Volume,
				}, nil
			}),
		)
		if err != nil {
			return err
		}
		if int(n) != len(plan.Insert) {
			return fmt.Errorf("copied %d of %d rows", n, len(plan.Insert))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// existingKeys fetches, in one query, which of the candidate keys are stored.
func existingKeys(ctx context.Context, tx pgx.Tx, recs []models.StockRecord) (map[models.RecordKey]bool, error) {
	out := make(map[models.RecordKey]bool)
	if len(recs) == 0 {
		return out, nil
	}

	dates := make([]time.Time, len(recs))
	codes := make([]string, len(recs))
	for i, rec := range recs {
		dates[i] = rec.TradeDate
		codes[i] = rec.TradeCode
	}

	rows, err := tx.Query(ctx,
		`SELECT s.trade_date, s.trade_code
		 FROM stock_data s
		 JOIN unnest($1::date[], $2::text[]) AS c(trade_date, trade_code)
		   ON s.trade_date = c.trade_date AND s.trade_code = c.trade_code`,
		dates, codes,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var key models.RecordKey
		if err := rows.Scan(&key.TradeDate, &key.TradeCode); err != nil {
			return nil, err
		}
		out[normalizeKey(key)] = true
	}
	return out, rows.Err()
}

// withTx runs fn inside a transaction and maps driver errors onto the
// record error taxonomy.
func (r *StockRepo) withTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return &models.StoreError{Op: op, Err: err}
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return classify(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(op, err)
	}
	return nil
}

func classify(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolated {
		return fmt.Errorf("%s: %w", op, models.ErrConflict)
	}
	return &models.StoreError{Op: op, Err: err}
}

// --- scan helpers ---

func numeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func fromNumeric(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

// normalizeKey drops any location from the scanned date so keys compare
// equal to validator-produced ones.
func normalizeKey(k models.RecordKey) models.RecordKey {
	y, m, d := k.TradeDate.Date()
	k.TradeDate = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return k
}

func scanStock(row scannable) (*models.StockRecord, error) {
	var (
		rec                 models.StockRecord
		open, high, low, cl pgtype.Numeric
	)
	err := row.Scan(&rec.TradeDate, &rec.TradeCode, &open, &high, &low, &cl, &rec.Volume)
	if err != nil {
		return nil, err
	}
	rec.TradeDate = normalizeKey(rec.Key()).TradeDate
	rec.Open, rec.High, rec.Low, rec.Close = fromNumeric(open), fromNumeric(high), fromNumeric(low), fromNumeric(cl)
	return &rec, nil
}

func collectStocks(rows rowsIter) ([]models.StockRecord, error) {
	var out []models.StockRecord
	for rows.Next() {
		rec, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}
