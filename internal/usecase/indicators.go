package usecase

// SMA is the simple average of the last n values, or 0 when there are
// fewer than n.
func SMA(values []float64, n int) float64 {
	if n <= 0 || len(values) < n {
		return 0
	}
	sum := 0.0
	for _, v := range values[len(values)-n:] {
		sum += v
	}
	return sum / float64(n)
}

// Lowest returns the minimum of the last n values.
func Lowest(values []float64, n int) float64 {
	tail := lastN(values, n)
	if len(tail) == 0 {
		return 0
	}
	m := tail[0]
	for _, v := range tail[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// Highest returns the maximum of the last n values.
func Highest(values []float64, n int) float64 {
	tail := lastN(values, n)
	if len(tail) == 0 {
		return 0
	}
	m := tail[0]
	for _, v := range tail[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

const rsiLossFloor = 1e-3

// RSI computes the relative strength index over the last period price
// changes using simple averages. Histories too short for period changes
// and flat series read as neutral (50).
func RSI(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period+1 {
		return 50
	}
	var gains, losses float64
	tail := prices[len(prices)-period-1:]
	for i := 1; i < len(tail); i++ {
		d := tail[i] - tail[i-1]
		if d > 0 {
			gains += d
		} else {
			losses -= d
		}
	}
	if gains == 0 && losses == 0 {
		return 50
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss < rsiLossFloor {
		avgLoss = rsiLossFloor
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// PercentChange is the change from base to value in percent.
func PercentChange(base, value float64) float64 {
	if base <= 0 {
		return 0
	}
	return (value - base) / base * 100
}

func lastN(values []float64, n int) []float64 {
	if n <= 0 || len(values) == 0 {
		return nil
	}
	if len(values) < n {
		return values
	}
	return values[len(values)-n:]
}
