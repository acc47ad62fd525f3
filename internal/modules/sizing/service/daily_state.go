package service

import (
	"errors"

	"github.com/karmaworks-dev/ai-agents-sub000/pkg/jsonfile"
)

// DailyState — формат strategy_state.json.
type DailyState struct {
	Date        string  `json:"date"` // YYYY-MM-DD
	DailyProfit float64 `json:"daily_profit"`
	DailyTrades int     `json:"daily_trades"`
	LastUpdate  string  `json:"last_update"`
}

type StateStore interface {
	Load() (*DailyState, error)
	Save(s DailyState) error
}

type FileStateStore struct {
	path string
}

func NewFileStateStore(path string) *FileStateStore {
	return &FileStateStore{path: path}
}

func (f *FileStateStore) Load() (*DailyState, error) {
	var s DailyState
	err := jsonfile.Read(f.path, &s)
	if errors.Is(err, jsonfile.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (f *FileStateStore) Save(s DailyState) error {
	return jsonfile.Write(f.path, s)
}
