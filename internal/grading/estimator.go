package grading

import (
	"strings"
	"time"
)

// Method tags which data source produced an estimate. Precedence is strict:
// recent-proxy > population-proxy > set-default.
type Method string

const (
	MethodRecentProxy     Method = "recent-proxy"
	MethodPopulationProxy Method = "population-proxy"
	MethodSetDefault      Method = "set-default"
)

// Gem rates are never near-certain in either direction.
const (
	MinP10 = 0.03
	MaxP10 = 0.60
)

// Snapshot is a grading population count at a point in time.
type Snapshot struct {
	Pop10 int
	Total int
	AsOf  time.Time
}

// CardAttributes carries the static card facts used by the set-default path.
type CardAttributes struct {
	SetName string
	Number  string
	AgeDays int
}

// Context is everything the estimator may consider. Recent and Historical
// are optional.
type Context struct {
	Recent     *Snapshot
	Historical *Snapshot
	Card       CardAttributes
}

// Estimate is a blended PSA-10 probability with its provenance.
type Estimate struct {
	P10        float64
	Method     Method
	Confidence float64
}

const defaultBaseline = 0.15

// Estimator holds per-set baseline gem rates for the set-default path.
type Estimator struct {
	baselines map[string]float64
}

// NewEstimator builds an estimator. Baseline keys are matched
// case-insensitively; nil is accepted and falls back to the default baseline.
func NewEstimator(baselines map[string]float64) *Estimator {
	normalized := make(map[string]float64, len(baselines))
	for set, rate := range baselines {
		normalized[strings.ToLower(strings.TrimSpace(set))] = rate
	}
	return &Estimator{baselines: normalized}
}

// Estimate picks the highest-quality available method and returns a clamped
// probability. Pure: identical inputs always yield identical outputs.
func (e *Estimator) Estimate(ctx Context) Estimate {
	if s := ctx.Recent; s != nil && s.Total > 0 {
		return Estimate{
			P10:        clampP10(float64(s.Pop10) / float64(s.Total)),
			Method:     MethodRecentProxy,
			Confidence: minFloat(1, float64(s.Total)/100),
		}
	}
	if s := ctx.Historical; s != nil && s.Total > 0 {
		return Estimate{
			P10:        clampP10(float64(s.Pop10) / float64(s.Total)),
			Method:     MethodPopulationProxy,
			Confidence: minFloat(1, float64(s.Total)/300),
		}
	}
	return Estimate{
		P10:        clampP10(e.setDefault(ctx.Card)),
		Method:     MethodSetDefault,
		Confidence: 0.2,
	}
}

func (e *Estimator) setDefault(card CardAttributes) float64 {
	p := defaultBaseline
	if base, ok := e.baselines[strings.ToLower(strings.TrimSpace(card.SetName))]; ok {
		p = base
	}
	if specialNumber(card.Number) {
		p *= 1.2
	}
	if promoSet(card.SetName) {
		p *= 1.1
	}
	switch {
	case card.AgeDays > 0 && card.AgeDays < 30:
		p *= 1.15
	case card.AgeDays > 5*365:
		p *= 0.8
	}
	return p
}

// specialNumber flags alt-art and trainer-gallery style numbering, which
// grade gem at a higher clip than the base set.
func specialNumber(number string) bool {
	for _, r := range number {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' {
			return true
		}
	}
	return false
}

func promoSet(name string) bool {
	return strings.Contains(strings.ToLower(name), "promo")
}

func clampP10(p float64) float64 {
	if p < MinP10 {
		return MinP10
	}
	if p > MaxP10 {
		return MaxP10
	}
	return p
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
