package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"cardsignal/internal/grading"
	"cardsignal/internal/stats"
)

const trackerPricesPath = "/prices"

// TrackerOptions parameterise the price tracker adapter.
type TrackerOptions struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// Tracker fetches card prices, sales, and population counts from the
// metered tracker API.
type Tracker struct {
	opts    TrackerOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewTracker constructs a tracker adapter.
func NewTracker(opts TrackerOptions, logger zerolog.Logger) *Tracker {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")

	return &Tracker{
		opts:    opts,
		logger:  logger.With().Str("component", "tracker_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchCard retrieves one card's tracker record and converts it to the
// canonical payload shape.
func (t *Tracker) FetchCard(ctx context.Context, ref CardRef) (*TrackerPayload, error) {
	if t.baseURL == "" {
		return nil, errors.New("tracker base url not configured")
	}
	if t.opts.APIKey == "" {
		return nil, errors.New("tracker api key not configured")
	}
	if ref.SetID == "" || ref.Number == "" {
		return nil, errors.New("set id and card number required")
	}

	endpoint := fmt.Sprintf("%s%s?setId=%s&number=%s",
		t.baseURL, trackerPricesPath, url.QueryEscape(ref.SetID), url.QueryEscape(ref.Number))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.opts.APIKey)
	if ua := strings.TrimSpace(t.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("tracker api (%d): %w", resp.StatusCode, ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseTrackerError(resp.StatusCode, payloadBytes)
	}

	var body trackerResponse
	if err := json.Unmarshal(payloadBytes, &body); err != nil {
		return nil, fmt.Errorf("decode tracker response: %w", err)
	}

	payload, err := body.toPayload(ref)
	if err != nil {
		return nil, err
	}

	t.logger.Debug().
		Str("set", ref.SetID).
		Str("number", ref.Number).
		Int("sales", len(payload.Sales)).
		Msg("tracker card fetched")

	return payload, nil
}

type trackerResponse struct {
	Raw        *float64      `json:"raw"`
	PSA9       *float64      `json:"psa9"`
	PSA10      *float64      `json:"psa10"`
	Currency   string        `json:"currency"`
	UpdatedAt  time.Time     `json:"updatedAt"`
	Sales      []trackerSale `json:"sales"`
	Population *trackerPop   `json:"population"`
}

type trackerSale struct {
	Date   time.Time `json:"date"`
	Price  float64   `json:"price"`
	Market string    `json:"market"`
	Source string    `json:"source"`
}

type trackerPop struct {
	Pop10 int       `json:"pop10"`
	Total int       `json:"total"`
	AsOf  time.Time `json:"asOf"`
}

func (r trackerResponse) toPayload(ref CardRef) (*TrackerPayload, error) {
	quote := PriceQuote{
		Currency:  r.Currency,
		Timestamp: r.UpdatedAt,
		Source:    "price-tracker",
	}
	quote.Raw = floatPrice(r.Raw)
	quote.PSA9 = floatPrice(r.PSA9)
	quote.PSA10 = floatPrice(r.PSA10)

	series := make(stats.Series, 0, len(r.Sales))
	for _, sale := range r.Sales {
		market := stats.Market(sale.Market)
		switch market {
		case stats.MarketRaw, stats.MarketGrade9, stats.MarketGrade10:
		default:
			return nil, fmt.Errorf("tracker sale for %s/%s has unknown market %q", ref.SetID, ref.Number, sale.Market)
		}
		series = append(series, stats.Observation{
			Time:   sale.Date,
			Price:  decimal.NewFromFloat(sale.Price),
			Market: market,
			Source: sale.Source,
		})
	}

	payload := &TrackerPayload{
		Quote:     quote,
		Sales:     series,
		FetchedAt: time.Now().UTC(),
	}
	if r.Population != nil {
		payload.Population = &grading.Snapshot{
			Pop10: r.Population.Pop10,
			Total: r.Population.Total,
			AsOf:  r.Population.AsOf,
		}
	}
	return payload, nil
}

func floatPrice(v *float64) *decimal.Decimal {
	if v == nil || *v <= 0 {
		return nil
	}
	d := decimal.NewFromFloat(*v)
	return &d
}

type trackerErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseTrackerError(status int, payload []byte) error {
	var apiErr trackerErrorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("tracker api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("tracker api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("tracker api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("tracker api error (%d)", status)
}

var _ TrackerClient = (*Tracker)(nil)
