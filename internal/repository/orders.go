package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coderkp/order-fill-tracker/internal/models"
)

// ErrOrderNotFound is returned by UpdateOrderFill when the target row does
// not exist. It is terminal for the given order.
var ErrOrderNotFound = errors.New("order not found")

const orderTailColumns = `
	id, stitch_id, pair, price, exchange, size, type, trade_side, status,
	exchange_order_id, transaction_hash, created_time, last_updated_time`

// FetchCreatedOrdersSince returns CREATED orders with created_time strictly
// after the watermark and size above the configured floor, oldest first.
// The size floor screens out probe orders the placement system fires while
// warming up.
func (r *Repository) FetchCreatedOrdersSince(ctx context.Context, after time.Time, minSize decimal.Decimal, limit int) ([]models.Order, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+orderTailColumns+`
		FROM "order"
		WHERE created_time > $1
		  AND status = 'CREATED'
		  AND size > $2
		ORDER BY created_time ASC
		LIMIT $3`, after, minSize, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch created orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(
			&o.ID, &o.StitchID, &o.Pair, &o.Price, &o.Exchange, &o.Size,
			&o.Type, &o.TradeSide, &o.Status, &o.ExchangeOrderID,
			&o.TransactionHash, &o.CreatedTime, &o.LastUpdatedTime,
		); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// FillUpdate carries the enrichment fields written when an order reaches a
// terminal state. Nil pointers persist as NULL.
type FillUpdate struct {
	OrderID          int64
	Status           string
	InputAmount      *decimal.Decimal
	InputToken       *string
	OutputAmount     *decimal.Decimal
	OutputToken      *string
	AverageFillPrice *decimal.Decimal
	FeeInfo          map[string]any
}

// UpdateOrderFill applies the enrichment atomically and stamps
// last_updated_time. A FILLED row is never downgraded: re-applying the same
// FILLED update is an idempotent overwrite, while a non-terminal write
// against a FILLED row is silently dropped.
func (r *Repository) UpdateOrderFill(ctx context.Context, u FillUpdate) error {
	var feeJSON []byte
	if u.FeeInfo != nil {
		var err error
		feeJSON, err = json.Marshal(u.FeeInfo)
		if err != nil {
			return fmt.Errorf("marshal fee info: %w", err)
		}
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE "order"
		SET status             = $2,
		    input_amount       = $3,
		    input_token        = $4,
		    output_amount      = $5,
		    output_token       = $6,
		    average_fill_price = $7,
		    fee_info           = $8,
		    last_updated_time  = NOW()
		WHERE id = $1
		  AND (status <> 'FILLED' OR $2 = 'FILLED')`,
		u.OrderID, u.Status, u.InputAmount, u.InputToken,
		u.OutputAmount, u.OutputToken, u.AverageFillPrice, feeJSON)
	if err != nil {
		return fmt.Errorf("update order fill: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM "order" WHERE id = $1)`, u.OrderID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check order existence: %w", err)
		}
		if !exists {
			return ErrOrderNotFound
		}
		// Row exists but is already terminal; stale write dropped.
	}
	return nil
}

// RecentOrders returns the newest rows with their enrichment fields, for the
// API surface.
func (r *Repository) RecentOrders(ctx context.Context, limit int) ([]models.Order, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+orderTailColumns+`,
		       input_amount, input_token, output_amount, output_token,
		       average_fill_price, fee_info
		FROM "order"
		ORDER BY created_time DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var o models.Order
		var feeJSON []byte
		if err := rows.Scan(
			&o.ID, &o.StitchID, &o.Pair, &o.Price, &o.Exchange, &o.Size,
			&o.Type, &o.TradeSide, &o.Status, &o.ExchangeOrderID,
			&o.TransactionHash, &o.CreatedTime, &o.LastUpdatedTime,
			&o.InputAmount, &o.InputToken, &o.OutputAmount, &o.OutputToken,
			&o.AverageFillPrice, &feeJSON,
		); err != nil {
			return nil, err
		}
		if len(feeJSON) > 0 {
			if err := json.Unmarshal(feeJSON, &o.FeeInfo); err != nil {
				return nil, fmt.Errorf("decode fee info for order %d: %w", o.ID, err)
			}
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// StatusCounts returns row counts grouped by order status.
func (r *Repository) StatusCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM "order" GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
