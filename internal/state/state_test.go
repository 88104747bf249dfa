package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensextrader/internal/position"
	"sensextrader/internal/signal"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine_state.json")
	m := NewManager(path)

	p, err := position.Open(position.Params{
		Asset: "RELIANCE", Direction: signal.Buy, Quantity: 10,
		Entry: 2500, Stop: 2450, Target: 2600, CapitalUsed: 25000,
		Strategy: "price-change", Mode: "paper",
	}, time.Now())
	require.NoError(t, err)

	require.NoError(t, m.Save(EngineState{
		Capital:       98500,
		Day:           "2026-08-31",
		DayTradeCount: 2,
		DayPnL:        -1500,
		Open:          []*position.Position{p},
	}))

	st, ok, err := m.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 98500.0, st.Capital)
	assert.Equal(t, "2026-08-31", st.Day)
	assert.Equal(t, 2, st.DayTradeCount)
	require.Len(t, st.Open, 1)
	assert.Equal(t, p.ID, st.Open[0].ID)
	assert.Equal(t, position.StatusOpen, st.Open[0].Status)
	assert.WithinDuration(t, time.Now(), st.SavedAt, time.Minute)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "absent.json"))
	_, ok, err := m.Load()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadCorruptFileIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine_state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, ok, err := NewManager(path).Load()
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(filepath.Join(dir, "engine_state.json"))
	require.NoError(t, m.Save(EngineState{Capital: 100000}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "engine_state.json", entries[0].Name())
}
