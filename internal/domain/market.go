package domain

import (
	"fmt"
	"time"
)

type Candle struct {
	Time         int64   `json:"time"`
	Open         float64 `json:"open"`
	High         float64 `json:"high"`
	Low          float64 `json:"low"`
	Close        float64 `json:"close"`
	Volume       float64 `json:"volume"`
	OpenInterest float64 `json:"open_interest"`
}

// CandleInterval is a historical candle granularity.
type CandleInterval string

const (
	IntervalMinute       CandleInterval = "1minute"
	IntervalThirtyMinute CandleInterval = "30minute"
	IntervalDay          CandleInterval = "day"
	IntervalWeek         CandleInterval = "week"
	IntervalMonth        CandleInterval = "month"
)

func ParseCandleInterval(s string) (CandleInterval, error) {
	switch i := CandleInterval(s); i {
	case IntervalMinute, IntervalThirtyMinute, IntervalDay, IntervalWeek, IntervalMonth:
		return i, nil
	case "minute":
		return IntervalMinute, nil
	case "hour", "30min":
		return IntervalThirtyMinute, nil
	}
	return "", fmt.Errorf("%w: candle interval %q", ErrInvalid, s)
}

// OHLCInterval is the granularity accepted by the OHLC quote endpoint.
type OHLCInterval string

const (
	OHLCDay      OHLCInterval = "1d"
	OHLCMinute   OHLCInterval = "I1"
	OHLCThirtMin OHLCInterval = "I30"
)

type OHLC struct {
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Quote is a full market quote for one instrument.
type Quote struct {
	InstrumentKey string
	Symbol        string
	LastPrice     float64
	Volume        float64
	AveragePrice  float64
	NetChange     float64
	TotalBuyQty   float64
	TotalSellQty  float64
	LowerCircuit  float64
	UpperCircuit  float64
	OHLC          OHLC
	Timestamp     time.Time
}

// MarketSnapshot is the input every strategy consumes. Histories are
// chronological and include the current price/volume as their last point.
type MarketSnapshot struct {
	Symbol        string
	Price         float64
	PriceHistory  []float64
	Volume        float64
	VolumeHistory []float64
	Funds         float64
	At            time.Time
}
