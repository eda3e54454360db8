package retrain

import "math"

// Metrics is the synthetic evaluation record produced once per run.
// All fields are in [0,1] and rounded to four decimal digits.
type Metrics struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1Score   float64 `json:"f1_score"`
}

// DeployInfo describes a completed deployment. It exists only on the deploy
// branch; the skip branch never writes one.
type DeployInfo struct {
	Version   string  `json:"version"`
	Metrics   Metrics `json:"metrics"`
	Timestamp string  `json:"timestamp"` // RFC 3339
}

// F1Score computes the harmonic mean of precision and recall, rounded to
// four digits. Inputs are expected to be the already-rounded values: the
// rounding order (round first, then combine) is part of the contract.
func F1Score(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0
	}
	return Round4(2 * precision * recall / (precision + recall))
}

// Round4 rounds to four decimal digits, the precision all metrics carry.
func Round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
