package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validBuy() Signal {
	return Signal{
		Asset:      "RELIANCE",
		AssetType:  Stock,
		Direction:  Buy,
		Entry:      2500,
		Stop:       2450,
		Target:     2600,
		Confidence: 0.8,
		Strength:   0.7,
		Strategy:   "price-change",
		At:         time.Now(),
	}
}

func TestValidateBuySide(t *testing.T) {
	assert.NoError(t, validBuy().Validate())

	s := validBuy()
	s.Stop = 2550 // stop above entry on a buy
	assert.Error(t, s.Validate())

	s = validBuy()
	s.Target = 2400 // target below entry on a buy
	assert.Error(t, s.Validate())
}

func TestValidateSellSide(t *testing.T) {
	s := Signal{
		Asset:      "NIFTY",
		AssetType:  Index,
		Direction:  Sell,
		Entry:      22000,
		Stop:       22200,
		Target:     21600,
		Confidence: 0.9,
		Strength:   0.5,
		At:         time.Now(),
	}
	assert.NoError(t, s.Validate())

	s.Stop, s.Target = s.Target, s.Stop // inverted for a sell
	assert.Error(t, s.Validate())
}

func TestValidateBounds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Signal)
	}{
		{"missing asset", func(s *Signal) { s.Asset = "" }},
		{"unknown direction", func(s *Signal) { s.Direction = "LONG" }},
		{"zero entry", func(s *Signal) { s.Entry = 0 }},
		{"negative stop", func(s *Signal) { s.Stop = -1 }},
		{"confidence above one", func(s *Signal) { s.Confidence = 1.2 }},
		{"negative strength", func(s *Signal) { s.Strength = -0.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validBuy()
			tt.mutate(&s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestOptionDirectionsFollowTheirSide(t *testing.T) {
	s := validBuy()
	s.Direction = Call
	assert.NoError(t, s.Validate())
	assert.True(t, s.Direction.BuySide())

	p := Signal{
		Asset: "SENSEX", AssetType: Index, Direction: Put,
		Entry: 81000, Stop: 81400, Target: 80200,
		Confidence: 0.75, Strength: 0.6, At: time.Now(),
	}
	assert.NoError(t, p.Validate())
	assert.False(t, p.Direction.BuySide())
}

func TestRiskPerUnit(t *testing.T) {
	s := validBuy()
	assert.InDelta(t, 50.0, s.RiskPerUnit(), 1e-9)
}
