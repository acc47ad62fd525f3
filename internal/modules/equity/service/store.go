package service

import (
	"errors"

	"github.com/karmaworks-dev/ai-agents-sub000/pkg/jsonfile"
)

// Snapshot — формат файла equity_history.json.
type Snapshot struct {
	EquityCurve       []float64 `json:"equity_curve"`
	EquityPeak        float64   `json:"equity_peak"`
	TotalTrades       int       `json:"total_trades"`
	InitialEquity     *float64  `json:"initial_equity"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	LastUpdate        string    `json:"last_update"`
}

// Store — durable-хранилище трекера.
type Store interface {
	// Load возвращает (nil, nil) если состояния ещё нет.
	Load() (*Snapshot, error)
	Save(s Snapshot) error
}

type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Load() (*Snapshot, error) {
	var s Snapshot
	err := jsonfile.Read(f.path, &s)
	if errors.Is(err, jsonfile.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (f *FileStore) Save(s Snapshot) error {
	return jsonfile.Write(f.path, s)
}
