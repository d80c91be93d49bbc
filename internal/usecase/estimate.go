package usecase

import (
	"encoding/json"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenEstimator converts request payloads into resource-unit estimates
// for quota checks, using tiktoken's cl100k_base encoding. Encoding
// lookup is lazy and cached; when it is unavailable the estimator falls
// back to the usual bytes/4 heuristic.
type TokenEstimator struct {
	once     sync.Once
	encoding *tiktoken.Tiktoken
}

// NewTokenEstimator creates an estimator.
func NewTokenEstimator() *TokenEstimator {
	return &TokenEstimator{}
}

// EstimateUnits returns the estimated resource units for a payload.
func (e *TokenEstimator) EstimateUnits(payload map[string]any) int64 {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0
	}

	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			e.encoding = enc
		}
	})

	if e.encoding == nil {
		return int64(len(raw) / 4)
	}
	return int64(len(e.encoding.Encode(string(raw), nil, nil)))
}
