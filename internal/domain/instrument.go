package domain

// Instrument is one row of the brokerage instrument master.
type Instrument struct {
	InstrumentKey  string  `json:"instrument_key"`
	TradingSymbol  string  `json:"trading_symbol"`
	Name           string  `json:"name"`
	Segment        string  `json:"segment"`
	Exchange       string  `json:"exchange"`
	ISIN           string  `json:"isin"`
	InstrumentType string  `json:"instrument_type"`
	TickSize       float64 `json:"tick_size"`
	LotSize        int     `json:"lot_size"`
}

// Equity reports whether the instrument is a cash-segment equity.
func (i Instrument) Equity() bool {
	return i.Segment == "NSE_EQ" || i.Segment == "BSE_EQ"
}
