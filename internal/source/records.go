package source

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cardsignal/internal/grading"
)

// RecordSet is a legacy card dataset loaded once at startup. It backs the
// lowest-priority normalization fallbacks and the historical population
// counts for the gem-rate estimator.
type RecordSet struct {
	records map[string]CardRecord
}

type recordFile map[string]struct {
	Image       string   `json:"image"`
	LegacyImage string   `json:"legacyImage"`
	NormalPrice *float64 `json:"normalPrice"`
	HoloPrice   *float64 `json:"holoPrice"`
	Population  *struct {
		Pop10 int       `json:"pop10"`
		Total int       `json:"total"`
		AsOf  time.Time `json:"asOf"`
	} `json:"population"`
	ReleaseDate time.Time `json:"releaseDate"`
}

// LoadRecords reads a record file keyed by "<setId>-<number>".
func LoadRecords(path string) (*RecordSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read records file: %w", err)
	}

	var file recordFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse records file: %w", err)
	}

	records := make(map[string]CardRecord, len(file))
	for key, raw := range file {
		rec := CardRecord{
			Image:       raw.Image,
			LegacyImage: raw.LegacyImage,
			ReleaseDate: raw.ReleaseDate,
		}
		if raw.NormalPrice != nil && *raw.NormalPrice > 0 {
			price := decimal.NewFromFloat(*raw.NormalPrice)
			rec.NormalPrice = &price
		}
		if raw.HoloPrice != nil && *raw.HoloPrice > 0 {
			price := decimal.NewFromFloat(*raw.HoloPrice)
			rec.HoloPrice = &price
		}
		if raw.Population != nil {
			rec.HistoricalPop = &grading.Snapshot{
				Pop10: raw.Population.Pop10,
				Total: raw.Population.Total,
				AsOf:  raw.Population.AsOf,
			}
		}
		records[strings.ToLower(key)] = rec
	}

	return &RecordSet{records: records}, nil
}

// Record returns the legacy record for a card, nil when absent.
func (r *RecordSet) Record(ref CardRef) *CardRecord {
	if r == nil {
		return nil
	}
	key := strings.ToLower(ref.SetID + "-" + ref.Number)
	rec, ok := r.records[key]
	if !ok {
		return nil
	}
	return &rec
}
