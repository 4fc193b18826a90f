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
)

// CatalogOptions parameterise the primary catalog adapter.
type CatalogOptions struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// Catalog fetches card metadata from the primary catalog API. The catalog
// embeds vendor A's market prices alongside the images.
type Catalog struct {
	opts    CatalogOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewCatalog constructs a catalog adapter.
func NewCatalog(opts CatalogOptions, logger zerolog.Logger) *Catalog {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Catalog{
		opts:    opts,
		logger:  logger.With().Str("component", "catalog_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// FetchCatalogCard retrieves one card's catalog record.
func (c *Catalog) FetchCatalogCard(ctx context.Context, ref CardRef) (*CatalogCard, error) {
	if c.baseURL == "" {
		return nil, errors.New("catalog base url not configured")
	}
	if ref.SetID == "" || ref.Number == "" {
		return nil, errors.New("set id and card number required")
	}

	endpoint := fmt.Sprintf("%s/cards/%s-%s", c.baseURL, url.PathEscape(ref.SetID), url.PathEscape(ref.Number))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.opts.APIKey != "" {
		req.Header.Set("X-Api-Key", c.opts.APIKey)
	}
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payloadBytes)))
	}

	var body catalogResponse
	if err := json.Unmarshal(payloadBytes, &body); err != nil {
		return nil, fmt.Errorf("decode catalog response: %w", err)
	}

	card := &CatalogCard{
		SmallImage:  body.Data.Images.Small,
		LargeImage:  body.Data.Images.Large,
		ReleaseDate: body.Data.ReleaseDate,
	}
	if body.Data.VendorA != nil {
		card.VendorA = &VendorAQuote{
			Image:        body.Data.VendorA.Image,
			NormalMarket: floatPrice(body.Data.VendorA.Prices.NormalMarket),
			HoloMarket:   floatPrice(body.Data.VendorA.Prices.HoloMarket),
			UpdatedAt:    body.Data.VendorA.UpdatedAt,
		}
	}

	return card, nil
}

type catalogResponse struct {
	Data struct {
		Images struct {
			Small string `json:"small"`
			Large string `json:"large"`
		} `json:"images"`
		ReleaseDate time.Time `json:"releaseDate"`
		VendorA     *struct {
			Image  string `json:"image"`
			Prices struct {
				NormalMarket *float64 `json:"normalMarket"`
				HoloMarket   *float64 `json:"holofoilMarket"`
			} `json:"prices"`
			UpdatedAt time.Time `json:"updatedAt"`
		} `json:"vendorPrices"`
	} `json:"data"`
}

var _ CatalogClient = (*Catalog)(nil)
