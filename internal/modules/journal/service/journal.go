package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/karmaworks-dev/ai-agents-sub000/internal/models"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/journal/service/pg/schema"
	"github.com/karmaworks-dev/ai-agents-sub000/internal/modules/journal/service/pg/trades"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/db"
	"github.com/karmaworks-dev/ai-agents-sub000/pkg/logger"
)

// Journal — журнал исполненных сделок.
type Journal interface {
	RecordTrade(ctx context.Context, rec models.TradeRecord) error
	Recent(ctx context.Context, limit int) ([]models.TradeRecord, error)
}

// PgJournal — таблица trade_journal.
type PgJournal struct {
	db     db.TxManager
	trades *trades.Trades
}

func NewPgJournal(tx db.TxManager) *PgJournal {
	return &PgJournal{db: tx, trades: trades.New()}
}

// EnsureSchema создаёт таблицу, если её нет.
func (j *PgJournal) EnsureSchema(ctx context.Context) error {
	err := j.db.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctxTx, schema.SQL)
		return err
	})
	if err != nil {
		return fmt.Errorf("PgJournal.EnsureSchema: %w", err)
	}
	return nil
}

func (j *PgJournal) RecordTrade(ctx context.Context, rec models.TradeRecord) error {
	err := j.db.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		return j.trades.Insert(ctxTx, tx, rec)
	})
	if err != nil {
		return fmt.Errorf("PgJournal.RecordTrade: %w", err)
	}
	return nil
}

func (j *PgJournal) Recent(ctx context.Context, limit int) (out []models.TradeRecord, err error) {
	err = j.db.RunRepeatableRead(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		out, err = j.trades.ListRecent(ctxTx, tx, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("PgJournal.Recent: %w", err)
	}
	return out, nil
}

// MemoryJournal — когда БД не настроена: последние size записей в памяти.
type MemoryJournal struct {
	mu      sync.Mutex
	size    int
	records []models.TradeRecord
}

func NewMemoryJournal(size int) *MemoryJournal {
	if size <= 0 {
		size = 200
	}
	return &MemoryJournal{size: size}
}

func (j *MemoryJournal) RecordTrade(_ context.Context, rec models.TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append([]models.TradeRecord{rec}, j.records...)
	if len(j.records) > j.size {
		j.records = j.records[:j.size]
	}
	logger.Info("[JOURNAL] %s %s %s size=%.6f @ %.4f pnl=%.4f", rec.Event, rec.Side, rec.Coin, rec.Size, rec.Price, rec.PnlUSD)
	return nil
}

// Recent — от новых к старым.
func (j *MemoryJournal) Recent(_ context.Context, limit int) ([]models.TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if limit <= 0 || limit > len(j.records) {
		limit = len(j.records)
	}
	out := make([]models.TradeRecord, limit)
	copy(out, j.records[:limit])
	return out, nil
}
