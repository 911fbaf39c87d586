package domain

// Holding is a delivery position held in the demat account.
type Holding struct {
	InstrumentKey string  `json:"instrument_key"`
	Symbol        string  `json:"symbol"`
	Exchange      string  `json:"exchange"`
	Quantity      int     `json:"quantity"`
	AveragePrice  float64 `json:"average_price"`
	LastPrice     float64 `json:"last_price"`
	PnL           float64 `json:"pnl"`
}

// Value is the marked-to-market value of the holding.
func (h Holding) Value() float64 {
	return float64(h.Quantity) * h.LastPrice
}

// Position is an open intraday or short-term position.
type Position struct {
	InstrumentKey string  `json:"instrument_key"`
	Symbol        string  `json:"symbol"`
	Exchange      string  `json:"exchange"`
	Product       Product `json:"product"`
	Quantity      int     `json:"quantity"`
	AveragePrice  float64 `json:"average_price"`
	LastPrice     float64 `json:"last_price"`
	RealizedPnL   float64 `json:"realised"`
	UnrealizedPnL float64 `json:"unrealised"`
}

// Funds is the equity segment margin summary.
type Funds struct {
	AvailableMargin float64 `json:"available_margin"`
	UsedMargin      float64 `json:"used_margin"`
	PayinAmount     float64 `json:"payin_amount"`
}

// Exposure sums the marked value of holdings and open positions per symbol.
// Short positions count by their absolute size.
func Exposure(holdings []Holding, positions []Position) map[string]float64 {
	out := make(map[string]float64)
	for _, h := range holdings {
		out[h.Symbol] += h.Value()
	}
	for _, p := range positions {
		if p.Quantity == 0 {
			continue
		}
		q := p.Quantity
		if q < 0 {
			q = -q
		}
		out[p.Symbol] += float64(q) * p.LastPrice
	}
	return out
}
