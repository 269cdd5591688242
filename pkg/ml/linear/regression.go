package linear

import "math"

type Line struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
}

// FitLine is an ordinary least-squares fit of ys on xs. ok is false when there
// are fewer than two points or every x is identical.
func FitLine(xs, ys []float64) (Line, bool) {
	n := len(xs)
	if n < 2 || len(ys) != n {
		return Line{}, false
	}
	meanX, meanY := mean(xs), mean(ys)
	var sxy, sxx float64
	for i := 0; i < n; i++ {
		dx := xs[i] - meanX
		sxy += dx * (ys[i] - meanY)
		sxx += dx * dx
	}
	if sxx == 0 {
		return Line{}, false
	}
	slope := sxy / sxx
	return Line{Slope: slope, Intercept: meanY - slope*meanX}, true
}

type Metrics struct {
	MAE  float64 `json:"mae"`
	RMSE float64 `json:"rmse"`
	R2   float64 `json:"r2"`
}

// Evaluate scores predictions against observed values. R2 on a constant target
// is 1 for a perfect fit and 0 otherwise.
func Evaluate(observed, predicted []float64) Metrics {
	n := len(observed)
	if n == 0 || len(predicted) != n {
		return Metrics{}
	}
	meanObs := mean(observed)
	var absSum, sqSum, totSum float64
	for i := 0; i < n; i++ {
		diff := observed[i] - predicted[i]
		absSum += math.Abs(diff)
		sqSum += diff * diff
		dev := observed[i] - meanObs
		totSum += dev * dev
	}
	m := Metrics{
		MAE:  absSum / float64(n),
		RMSE: math.Sqrt(sqSum / float64(n)),
	}
	switch {
	case totSum > 0:
		m.R2 = 1 - sqSum/totSum
	case sqSum == 0:
		m.R2 = 1
	}
	return m
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Mean, Min and StdDev (population) of values; ok is false for an empty slice.
func Summary(values []float64) (meanV, minV, std float64, ok bool) {
	if len(values) == 0 {
		return 0, 0, 0, false
	}
	meanV = mean(values)
	minV = values[0]
	var sq float64
	for _, v := range values {
		if v < minV {
			minV = v
		}
		d := v - meanV
		sq += d * d
	}
	return meanV, minV, math.Sqrt(sq / float64(len(values))), true
}

// Round to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
