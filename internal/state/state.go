// Package state persists the engine's mutable state to a JSON file so a
// restarted process resumes monitoring its open positions instead of
// forgetting them. Writes are atomic (tmp file + rename); a reader polling
// the file never sees a partial write.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sensextrader/internal/position"
)

// EngineState is everything the engine needs to survive a restart.
type EngineState struct {
	Capital       float64              `json:"capital"`
	Day           string               `json:"day"` // trading-day key, "2006-01-02"
	DayTradeCount int                  `json:"day_trade_count"`
	DayPnL        float64              `json:"day_pnl"`
	Open          []*position.Position `json:"open_positions"`
	SavedAt       time.Time            `json:"saved_at"`
}

// Manager reads and writes one state file.
type Manager struct {
	path string
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Save writes st atomically. The temp file lives next to the target so the
// rename stays on one filesystem.
func (m *Manager) Save(st EngineState) error {
	if m == nil || m.path == "" {
		return nil
	}
	st.SavedAt = time.Now()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal engine state: %w", err)
	}
	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state directory: %w", err)
		}
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write engine state: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("rename engine state: %w", err)
	}
	return nil
}

// Load returns the persisted state. ok is false when no usable state file
// exists; a corrupt file is an error so the operator decides, rather than
// silently starting from scratch with live positions on the books.
func (m *Manager) Load() (EngineState, bool, error) {
	if m == nil || m.path == "" {
		return EngineState{}, false, nil
	}
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return EngineState{}, false, nil
	}
	if err != nil {
		return EngineState{}, false, fmt.Errorf("read engine state: %w", err)
	}
	var st EngineState
	if err := json.Unmarshal(data, &st); err != nil {
		return EngineState{}, false, fmt.Errorf("parse engine state %s: %w", m.path, err)
	}
	return st, true, nil
}
