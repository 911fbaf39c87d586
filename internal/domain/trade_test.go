package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeTradeStats(t *testing.T) {
	trades := []*TradeRecord{
		{ID: "a", Status: TradeClosed, PnL: 120},
		{ID: "b", Status: TradeClosed, PnL: -20},
		{ID: "c", Status: TradeOpen},
		{ID: "d", Status: TradeClosed, PnL: 0},
	}
	st := ComputeTradeStats(trades)
	assert.Equal(t, 3, st.TotalTrades)
	assert.Equal(t, 1, st.WinningTrades)
	assert.Equal(t, 2, st.LosingTrades)
	assert.InDelta(t, 33.333, st.WinRate, 0.01)
	assert.InDelta(t, 100.0, st.TotalPnL, 1e-9)

	empty := ComputeTradeStats(nil)
	assert.Zero(t, empty.WinRate)
}

func TestCredentialValidAt(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		cred Credential
		want bool
	}{
		{"empty", Credential{}, false},
		{"unknown expiry", Credential{AccessToken: "x"}, true},
		{"plenty left", Credential{AccessToken: "x", ExpiresAt: now.Add(time.Hour)}, true},
		{"inside margin", Credential{AccessToken: "x", ExpiresAt: now.Add(59 * time.Second)}, false},
		{"exactly margin", Credential{AccessToken: "x", ExpiresAt: now.Add(60 * time.Second)}, false},
		{"expired", Credential{AccessToken: "x", ExpiresAt: now.Add(-time.Minute)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cred.ValidAt(now))
		})
	}
}

func TestNewSignalClampsConfidence(t *testing.T) {
	s := NewSignal(ActionBuy, "X", 10, 1, 1.4, "r", "s", time.Time{})
	assert.Equal(t, 1.0, s.Confidence)
	s = NewSignal(ActionBuy, "X", 10, 1, -0.2, "r", "s", time.Time{})
	assert.Equal(t, 0.0, s.Confidence)
}
