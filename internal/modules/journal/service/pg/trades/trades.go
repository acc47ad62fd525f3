package trades

import (
	"context"
	"fmt"

	"github.com/karmaworks-dev/ai-agents-sub000/internal/models"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/journal/service/pg/trades/sql"

	"github.com/bytedance/sonic"
)

// Trades implement db store
type Trades struct {
	sql *sql.Queries
}

// New instance
func New() *Trades {
	return &Trades{
		sql: sql.New(),
	}
}

func (t *Trades) Insert(ctx context.Context, tx sql.DBTX, rec models.TradeRecord) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Trades.Insert: %w", err)
		}
	}()

	meta := rec.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	data, err := sonic.Marshal(meta)
	if err != nil {
		return err
	}
	return t.sql.Insert(ctx, tx, &sql.InsertParams{
		ID:            rec.ID,
		ClientOrderID: rec.ClientOrderID,
		Coin:          rec.Coin,
		Event:         string(rec.Event),
		Side:          rec.Side,
		Size:          rec.Size,
		Price:         rec.Price,
		Notional:      rec.Notional,
		Leverage:      int32(rec.Leverage),
		PnlPercent:    rec.PnlPercent,
		PnlUsd:        rec.PnlUSD,
		Reason:        rec.Reason,
		Source:        rec.Source,
		Meta:          data,
		CreatedAt:     rec.CreatedAt,
	})
}

func (t *Trades) ListRecent(ctx context.Context, tx sql.DBTX, limit int) (out []models.TradeRecord, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Trades.ListRecent: %w", err)
		}
	}()
	rows, err := t.sql.ListRecent(ctx, tx, int32(limit))
	if err != nil {
		return nil, err
	}
	return toRecords(rows)
}

func (t *Trades) ListByCoin(ctx context.Context, tx sql.DBTX, coin string, limit int) (out []models.TradeRecord, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Trades.ListByCoin: %w", err)
		}
	}()
	rows, err := t.sql.ListByCoin(ctx, tx, &sql.ListByCoinParams{Coin: coin, Limit: int32(limit)})
	if err != nil {
		return nil, err
	}
	return toRecords(rows)
}

func toRecords(rows []*sql.TradeJournal) ([]models.TradeRecord, error) {
	out := make([]models.TradeRecord, 0, len(rows))
	for _, r := range rows {
		rec := models.TradeRecord{
			ID:            r.ID,
			ClientOrderID: r.ClientOrderID,
			Coin:          r.Coin,
			Event:         models.TradeEvent(r.Event),
			Side:          r.Side,
			Size:          r.Size,
			Price:         r.Price,
			Notional:      r.Notional,
			Leverage:      int(r.Leverage),
			PnlPercent:    r.PnlPercent,
			PnlUSD:        r.PnlUsd,
			Reason:        r.Reason,
			Source:        r.Source,
			CreatedAt:     r.CreatedAt,
		}
		if len(r.Meta) > 0 {
			if err := sonic.Unmarshal(r.Meta, &rec.Meta); err != nil {
				return nil, fmt.Errorf("meta of %s: %w", r.ID, err)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}
