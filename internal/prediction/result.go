package prediction

import (
	"time"

	"graminbus/internal/bus"
)

// Result is a bilingual ETA prediction for a route.
type Result struct {
	Prediction      string `json:"prediction"`
	HindiPrediction string `json:"hindiPrediction"`
	EtaMins         int    `json:"etaMins"`
	Timestamp       int64  `json:"timestamp"` // unix ms
}

// Message returns the prediction text for lang.
func (r Result) Message(lang bus.Language) string {
	if lang == bus.LangHindi {
		return r.HindiPrediction
	}
	return r.Prediction
}

// OfflineFallback is returned when there is no connectivity.
func OfflineFallback(now time.Time) Result {
	return Result{
		Prediction:      "Offline",
		HindiPrediction: "ऑफलाइन",
		EtaMins:         15,
		Timestamp:       now.UnixMilli(),
	}
}

// ErrorFallback is returned when the generator fails or times out.
func ErrorFallback(now time.Time) Result {
	return Result{
		Prediction:      "Next bus in 20 mins",
		HindiPrediction: "अगली बस 20 मिनट में",
		EtaMins:         20,
		Timestamp:       now.UnixMilli(),
	}
}
