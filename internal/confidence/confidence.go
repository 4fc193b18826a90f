package confidence

// Level gates downstream trust in a card's statistics.
type Level string

const (
	High        Level = "High"
	Speculative Level = "Speculative"
	Noisy       Level = "Noisy"
)

// Dispersion ceiling for a High label, as a MAD/median ratio.
const highDispersionMax = 0.25

// Classify maps sample size and dispersion to a label. Total and
// deterministic: every (count, ratio) pair maps to exactly one level.
// The no-data case is the caller's to handle before classification.
func Classify(sampleCount int, dispersionRatio float64) Level {
	switch {
	case sampleCount >= 8 && dispersionRatio <= highDispersionMax:
		return High
	case sampleCount >= 3 && sampleCount <= 7:
		return Speculative
	default:
		return Noisy
	}
}

// ChipLevel is the simpler four-state variant surfaced on dashboard chips.
type ChipLevel string

const (
	ChipHigh    ChipLevel = "High"
	ChipMedium  ChipLevel = "Medium"
	ChipLow     ChipLevel = "Low"
	ChipUnknown ChipLevel = "Unknown"
)

// Chip derives the dashboard chip. Unknown is reserved for the upstream
// "no price data at all" case, which the caller reports via hasData.
func Chip(sampleCount int, dispersionRatio float64, hasData bool) ChipLevel {
	if !hasData {
		return ChipUnknown
	}
	switch Classify(sampleCount, dispersionRatio) {
	case High:
		return ChipHigh
	case Speculative:
		return ChipMedium
	default:
		return ChipLow
	}
}
