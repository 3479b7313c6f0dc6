// Package market looks up mandi (wholesale market) prices from data.gov.in.
// Lookups try the live daily-price resource first and fall back to a
// seasonal average over the historical resource; answers are memoized in the
// result cache.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"agrisense/internal/cache"
	"agrisense/internal/errdef"
)

const (
	liveResource    = "9ef84268-d588-465a-a308-a864a43d0070"
	historyResource = "42823128-a8ed-4434-86a7-a931346a3625"
)

type ClientOpts struct {
	BaseURL string
	APIKey  string
	// Store memoizes quotes when non-nil.
	Store    *cache.Store
	CacheTTL time.Duration
}

type Client struct {
	httpClient *resty.Client
	apiKey     string
	store      *cache.Store
	cacheTTL   time.Duration
	now        func() time.Time
}

func NewClient(opts ClientOpts) *Client {
	return &Client{
		httpClient: resty.New().SetBaseURL(opts.BaseURL).SetTimeout(20 * time.Second),
		apiKey:     opts.APIKey,
		store:      opts.Store,
		cacheTTL:   opts.CacheTTL,
		now:        time.Now,
	}
}

// Quote is one market price answer. Prices are rupees per quintal.
type Quote struct {
	Crop     string `json:"crop"`
	State    string `json:"state"`
	District string `json:"district"`
	MinPrice int    `json:"minPrice"`
	MaxPrice int    `json:"maxPrice"`
	Market   string `json:"market"`
	Source   string `json:"dataSource"`
}

// flexFloat tolerates the API's habit of returning numbers as strings.
// Unparseable values read as absent rather than failing the whole record.
type flexFloat struct {
	val float64
	ok  bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" || s == "NA" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	f.val = v
	f.ok = true
	return nil
}

type liveRecord struct {
	Market   string    `json:"market"`
	MinPrice flexFloat `json:"min_price"`
	MaxPrice flexFloat `json:"max_price"`
}

type historyRecord struct {
	ModalPrice flexFloat `json:"Modal_Price"`
	PriceDate  string    `json:"Price_Date"`
}

// Prices answers a price lookup for crop in state/district. apiNames are the
// commodity names the government feed knows the crop by, tried in order. A
// nil Quote with nil error means no data exists for the crop in that region,
// which is an expected outcome, not a failure.
func (c *Client) Prices(ctx context.Context, state, district, crop string, apiNames []string) (*Quote, error) {
	if c.apiKey == "" {
		return nil, &errdef.ValidationError{Field: "api key", Reason: "data.gov.in API key is not configured"}
	}
	if len(apiNames) == 0 {
		apiNames = []string{crop}
	}

	key := cache.Fingerprint("prices", map[string]string{
		"state": state, "district": district, "crop": strings.ToLower(crop),
	})
	if c.store != nil {
		if raw, ok, err := c.store.Get(key); err != nil {
			log.Warn().Err(err).Msg("failed to read price cache")
		} else if ok {
			var cached Quote
			if err := json.Unmarshal(raw, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	quote, err := c.lookup(ctx, state, district, crop, apiNames)
	if err != nil || quote == nil {
		return quote, err
	}

	if c.store != nil {
		if raw, err := json.Marshal(quote); err == nil {
			if err := c.store.Set(key, raw, c.cacheTTL); err != nil {
				log.Warn().Err(err).Msg("failed to cache price quote")
			}
		}
	}
	return quote, nil
}

func (c *Client) lookup(ctx context.Context, state, district, crop string, apiNames []string) (*Quote, error) {
	for _, name := range apiNames {
		rec, err := c.liveLookup(ctx, state, district, name)
		if err != nil {
			log.Warn().Err(err).Str("commodity", name).Msg("live price lookup failed")
			continue
		}
		if rec != nil && rec.MinPrice.ok && rec.MaxPrice.ok {
			return &Quote{
				Crop: crop, State: state, District: district,
				MinPrice: int(rec.MinPrice.val),
				MaxPrice: int(rec.MaxPrice.val),
				Market:   orNA(rec.Market),
				Source:   "live",
			}, nil
		}
	}

	for _, name := range apiNames {
		avg, err := c.seasonalAverage(ctx, state, name)
		if err != nil {
			log.Warn().Err(err).Str("commodity", name).Msg("seasonal average lookup failed")
			continue
		}
		if avg > 0 {
			return &Quote{
				Crop: crop, State: state, District: district,
				MinPrice: avg, MaxPrice: avg,
				Market: "N/A",
				Source: "seasonal-average",
			}, nil
		}
	}

	return nil, nil
}

func (c *Client) liveLookup(ctx context.Context, state, district, commodity string) (*liveRecord, error) {
	var body struct {
		Records []liveRecord `json:"records"`
	}
	if err := c.fetch(ctx, liveResource, map[string]string{
		"limit":              "10",
		"filters[state]":     state,
		"filters[district]":  district,
		"filters[commodity]": commodity,
	}, &body); err != nil {
		return nil, err
	}
	if len(body.Records) == 0 {
		return nil, nil
	}
	return &body.Records[0], nil
}

// seasonalAverage averages positive modal prices from the current 3-month
// seasonal window across the historical dataset. Returns 0 when nothing
// usable exists.
func (c *Client) seasonalAverage(ctx context.Context, state, commodity string) (int, error) {
	var body struct {
		Records []historyRecord `json:"records"`
	}
	if err := c.fetch(ctx, historyResource, map[string]string{
		"limit":              "3000",
		"filters[State]":     state,
		"filters[Commodity]": commodity,
	}, &body); err != nil {
		return 0, err
	}

	month := int(c.now().Month())
	seasonal := map[int]bool{
		(month+10)%12 + 1: true, // previous
		month:             true,
		month%12 + 1:      true, // next
	}

	sum := 0.0
	n := 0
	for _, rec := range body.Records {
		if !rec.ModalPrice.ok || rec.ModalPrice.val <= 0 {
			continue
		}
		d, ok := parsePriceDate(rec.PriceDate)
		if !ok || !seasonal[int(d.Month())] {
			continue
		}
		sum += rec.ModalPrice.val
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return int(sum / float64(n)), nil
}

func (c *Client) fetch(ctx context.Context, resource string, params map[string]string, out any) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("api-key", c.apiKey).
		SetQueryParam("format", "json").
		SetQueryParams(params).
		Get(fmt.Sprintf("/resource/%s", resource))
	if err != nil {
		return &errdef.NetworkError{Err: err}
	}
	if resp.IsError() {
		return &errdef.RemoteServiceError{StatusCode: resp.StatusCode()}
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return &errdef.InvalidResponseError{Reason: "malformed price feed body"}
	}
	return nil
}

func parsePriceDate(s string) (time.Time, bool) {
	for _, layout := range []string{"02/01/2006", "2006-01-02"} {
		if d, err := time.Parse(layout, s); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
