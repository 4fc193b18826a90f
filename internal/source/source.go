package source

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"cardsignal/internal/grading"
	"cardsignal/internal/stats"
)

// ErrRateLimited marks a vendor response equivalent to HTTP 429. The
// acquisition controller maps it to the long backoff window.
var ErrRateLimited = errors.New("source: rate limited")

// CardRef identifies one card within a set.
type CardRef struct {
	SetID  string
	Number string
	Name   string
}

// PriceQuote is the canonical price shape every vendor adapter converts
// into before anything downstream sees it. Nil pointers mean the vendor
// did not supply that figure.
type PriceQuote struct {
	Raw       *decimal.Decimal
	PSA9      *decimal.Decimal
	PSA10     *decimal.Decimal
	Currency  string
	Timestamp time.Time
	Source    string
}

// TrackerPayload is a full fetch result from the metered price tracker:
// the quote, the sale history, and an optional population snapshot.
type TrackerPayload struct {
	Quote      PriceQuote
	Sales      stats.Series
	Population *grading.Snapshot
	FetchedAt  time.Time
}

// TrackerClient fetches card data from the quota-limited pricing API.
type TrackerClient interface {
	FetchCard(ctx context.Context, ref CardRef) (*TrackerPayload, error)
}

// CatalogClient fetches card metadata and embedded vendor prices from the
// primary catalog. Not metered the way the tracker is.
type CatalogClient interface {
	FetchCatalogCard(ctx context.Context, ref CardRef) (*CatalogCard, error)
}

// VendorAQuote carries vendor A's per-finish market prices and image.
type VendorAQuote struct {
	Image        string
	NormalMarket *decimal.Decimal
	HoloMarket   *decimal.Decimal
	UpdatedAt    time.Time
}

// VendorImage is a standalone image candidate from a secondary vendor feed.
type VendorImage struct {
	URL    string
	Source string
}

// CatalogCard is the primary catalog's view of a card, including the
// vendor A price block the catalog embeds.
type CatalogCard struct {
	SmallImage  string
	LargeImage  string
	VendorA     *VendorAQuote
	ReleaseDate time.Time
}

// CardRecord is the card row the surrounding application already holds:
// embedded prices and images from past syncs, plus an optional stored
// historical population snapshot.
type CardRecord struct {
	Image         string
	LegacyImage   string
	NormalPrice   *decimal.Decimal
	HoloPrice     *decimal.Decimal
	HistoricalPop *grading.Snapshot
	ReleaseDate   time.Time
}
