// Package feed fetches and normalizes grocery deal records from the
// unofficial flyer feed. Endpoints require no credentials but may
// change shape without notice, so parsing is tolerant: bad items are
// skipped, bad batches are reported, and the client never trusts the
// upstream schema further than one request.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/danharris923/flyerflipper/internal/globaltime"
	payloadschema "github.com/danharris923/flyerflipper/schema"
)

// ErrInvalidAreaCode rejects malformed Canadian postal codes before
// any network call.
var ErrInvalidAreaCode = errors.New("invalid Canadian postal code")

// UpstreamError is a non-recovered HTTP failure from the feed.
type UpstreamError struct {
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("feed returned HTTP %d", e.StatusCode)
}

var areaCodePattern = regexp.MustCompile(`^[A-Z]\d[A-Z]\d[A-Z]\d$`)

// NormalizeAreaCode strips whitespace, upper-cases, and validates the
// Canadian postal code grammar.
func NormalizeAreaCode(raw string) (string, error) {
	normalized := strings.ToUpper(strings.Join(strings.Fields(raw), ""))
	if !areaCodePattern.MatchString(normalized) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAreaCode, raw)
	}
	return normalized, nil
}

// SupportedMerchants is the known-good Canadian grocery merchant list.
// It is advisory: merchants outside it are still queried.
var SupportedMerchants = []string{
	"walmart", "superstore", "real canadian superstore", "save-on-foods",
	"freshco", "safeway", "food basics", "giant tiger", "fortinos",
	"sobeys", "no frills", "metro", "loblaws", "independent",
	"your independent grocer", "valu-mart", "zehrs",
}

// Options configures a Client. Zero values fall back to production
// defaults; tests shrink the delays.
type Options struct {
	BaseURL        string
	Locale         string
	HTTPClient     *http.Client
	RatePerSecond  int
	RetryBackoff   time.Duration
	MerchantDelay  time.Duration
	BatchDelay     time.Duration
	BatchSize      int
	Merchants      []string
	DetectLanguage func(string) string
}

type Client struct {
	baseURL        string
	locale         string
	httpClient     *http.Client
	limiter        *Limiter
	logger         zerolog.Logger
	retryBackoff   time.Duration
	merchantDelay  time.Duration
	batchDelay     time.Duration
	batchSize      int
	merchants      []string
	detectLanguage func(string) string
}

func NewClient(logger zerolog.Logger, opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://backflipp.wishabi.com/flipp"
	}
	locale := strings.TrimSpace(opts.Locale)
	if locale == "" {
		locale = "en-ca"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	retryBackoff := opts.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = 5 * time.Second
	}
	merchantDelay := opts.MerchantDelay
	if merchantDelay <= 0 {
		merchantDelay = 3 * time.Second
	}
	batchDelay := opts.BatchDelay
	if batchDelay <= 0 {
		batchDelay = 5 * time.Second
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 3
	}
	merchants := opts.Merchants
	if len(merchants) == 0 {
		merchants = SupportedMerchants
	}

	return &Client{
		baseURL:        baseURL,
		locale:         locale,
		httpClient:     httpClient,
		limiter:        NewLimiter(opts.RatePerSecond),
		logger:         logger,
		retryBackoff:   retryBackoff,
		merchantDelay:  merchantDelay,
		batchDelay:     batchDelay,
		batchSize:      batchSize,
		merchants:      merchants,
		detectLanguage: opts.DetectLanguage,
	}
}

// SearchResult is the envelope returned by Search and SearchMerchant.
// It is always well-formed: client errors from the feed surface as an
// empty item list with Error set.
type SearchResult struct {
	Items     []Deal    `json:"items"`
	Total     int       `json:"total"`
	AreaCode  string    `json:"postal_code"`
	Query     string    `json:"query"`
	RawCount  int       `json:"api_response_count"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

type searchEnvelope struct {
	Items []json.RawMessage `json:"items"`
}

// Search queries the feed for an area code and free-text query, capping
// and normalizing the response. 429 is retried once after a fixed
// backoff; 400/404 yield an empty result; other HTTP failures
// propagate as *UpstreamError.
func (c *Client) Search(ctx context.Context, areaCode, query string, maxResults int) (*SearchResult, error) {
	normalized, err := NormalizeAreaCode(areaCode)
	if err != nil {
		return nil, err
	}
	if maxResults <= 0 {
		maxResults = 100
	}
	return c.search(ctx, normalized, strings.TrimSpace(query), maxResults, false)
}

func (c *Client) search(ctx context.Context, areaCode, query string, maxResults int, retried bool) (*SearchResult, error) {
	params := url.Values{}
	params.Set("locale", c.locale)
	params.Set("postal_code", areaCode)
	params.Set("q", query)

	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("postal_code", areaCode).
		Str("query", query).
		Msg("searching deals")

	body, status, err := c.get(ctx, c.baseURL+"/items/search?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("feed search: %w", err)
	}

	switch {
	case status == http.StatusOK:
	case status == http.StatusTooManyRequests:
		if retried {
			return nil, &UpstreamError{StatusCode: status}
		}
		c.logger.Warn().Msg("feed rate limited; backing off before single retry")
		if err := sleepCtx(ctx, c.retryBackoff); err != nil {
			return nil, err
		}
		return c.search(ctx, areaCode, query, maxResults, true)
	case status == http.StatusBadRequest || status == http.StatusNotFound:
		return &SearchResult{
			Items:     []Deal{},
			AreaCode:  areaCode,
			Query:     query,
			Timestamp: globaltime.UTC(),
			Error:     fmt.Sprintf("feed error %d", status),
		}, nil
	default:
		return nil, &UpstreamError{StatusCode: status}
	}

	var envelope searchEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode feed response: %w", err)
	}

	rawCount := len(envelope.Items)
	limited := envelope.Items
	if len(limited) > maxResults {
		limited = limited[:maxResults]
	}

	deals := make([]Deal, 0, len(limited))
	for _, raw := range limited {
		deal, parseErr := ParseItem(raw, c.detectLanguage)
		if parseErr != nil {
			c.logger.Warn().Err(parseErr).Msg("skipping unparsable feed item")
			continue
		}
		deals = append(deals, *deal)
	}

	c.logger.Info().
		Int("raw", rawCount).
		Int("parsed", len(deals)).
		Msg("feed search completed")

	return &SearchResult{
		Items:     deals,
		Total:     len(deals),
		AreaCode:  areaCode,
		Query:     query,
		RawCount:  rawCount,
		Timestamp: globaltime.UTC(),
	}, nil
}

// GetItemDetails fetches the detail record for one flyer item.
// Best-effort: any failure yields nil, never an error.
func (c *Client) GetItemDetails(ctx context.Context, itemID string) *payloadschema.RawFlyerItem {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return nil
	}

	if err := c.limiter.Acquire(ctx); err != nil {
		return nil
	}

	body, status, err := c.get(ctx, c.baseURL+"/items/"+url.PathEscape(itemID))
	if err != nil || status != http.StatusOK {
		c.logger.Debug().
			Str("item_id", itemID).
			Int("status", status).
			Msg("item detail fetch failed")
		return nil
	}

	item, err := payloadschema.ValidateFlyerItemPayload(body)
	if err != nil {
		c.logger.Debug().Err(err).Str("item_id", itemID).Msg("item detail payload rejected")
		return nil
	}
	return item
}

// SearchMerchant fetches all deals for one merchant, using the merchant
// name as the query term. The allow-list is advisory only.
func (c *Client) SearchMerchant(ctx context.Context, areaCode, merchant string) (*SearchResult, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(merchant)), " ", "-")
	known := false
	for _, m := range c.merchants {
		if strings.ReplaceAll(m, " ", "-") == normalized {
			known = true
			break
		}
	}
	if !known {
		c.logger.Warn().Str("merchant", merchant).Msg("merchant may not be supported")
	}

	return c.Search(ctx, areaCode, merchant, 100)
}

// TestResult reports a connectivity self-test against the feed.
type TestResult struct {
	Status     string    `json:"api_status"`
	Endpoint   string    `json:"endpoint"`
	TestQuery  string    `json:"test_query"`
	AreaCode   string    `json:"postal_code"`
	ItemsFound int       `json:"items_found"`
	RawCount   int       `json:"raw_response_count"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// TestConnection runs a small trial search to verify the feed is
// reachable and parsable.
func (c *Client) TestConnection(ctx context.Context, areaCode string) TestResult {
	result := TestResult{
		Endpoint:  c.baseURL + "/items/search",
		TestQuery: "milk",
		AreaCode:  areaCode,
		Timestamp: globaltime.UTC(),
	}

	search, err := c.Search(ctx, areaCode, "milk", 5)
	if err != nil {
		result.Status = "failed"
		result.Error = err.Error()
		return result
	}

	result.Status = "working"
	result.ItemsFound = len(search.Items)
	result.RawCount = search.RawCount
	return result
}

// BulkResult aggregates a refresh pass across all known merchants.
type BulkResult struct {
	Items               []Deal     `json:"items"`
	Total               int        `json:"total"`
	MerchantsProcessed  int        `json:"merchants_processed"`
	SuccessfulMerchants []string   `json:"successful_merchants"`
	FailedMerchants     int        `json:"failed_merchants"`
	Errors              []string   `json:"errors,omitempty"`
	AreaCode            string     `json:"postal_code"`
	APITest             TestResult `json:"api_test"`
	Timestamp           time.Time  `json:"timestamp"`
}

// BulkRefresh fetches deals for every known merchant in fixed-size
// batches with inter-merchant and inter-batch delays. Per-merchant
// failures are tallied and never abort the pass.
func (c *Client) BulkRefresh(ctx context.Context, areaCode string) (*BulkResult, error) {
	normalized, err := NormalizeAreaCode(areaCode)
	if err != nil {
		return nil, err
	}

	c.logger.Info().Str("postal_code", normalized).Msg("starting bulk refresh")

	result := &BulkResult{
		Items:              []Deal{},
		MerchantsProcessed: len(c.merchants),
		AreaCode:           normalized,
		Timestamp:          globaltime.UTC(),
	}

	result.APITest = c.TestConnection(ctx, normalized)
	if result.APITest.Status != "working" {
		c.logger.Error().
			Str("error", result.APITest.Error).
			Msg("feed connectivity test failed before bulk refresh")
		result.Errors = append(result.Errors, "API connection test failed")
		return result, nil
	}

	for i := 0; i < len(c.merchants); i += c.batchSize {
		end := i + c.batchSize
		if end > len(c.merchants) {
			end = len(c.merchants)
		}
		batch := c.merchants[i:end]
		c.logger.Info().
			Int("batch", i/c.batchSize+1).
			Strs("merchants", batch).
			Msg("processing merchant batch")

		for _, merchant := range batch {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}

			merchantResult, merchantErr := c.SearchMerchant(ctx, normalized, merchant)
			if merchantErr != nil {
				msg := fmt.Sprintf("failed to get deals from %s: %v", merchant, merchantErr)
				c.logger.Error().Str("merchant", merchant).Err(merchantErr).Msg("merchant refresh failed")
				result.Errors = append(result.Errors, msg)
				result.FailedMerchants++
				continue
			}

			if len(merchantResult.Items) > 0 {
				result.Items = append(result.Items, merchantResult.Items...)
				result.SuccessfulMerchants = append(result.SuccessfulMerchants, merchant)
				c.logger.Info().
					Str("merchant", merchant).
					Int("deals", len(merchantResult.Items)).
					Msg("merchant refresh succeeded")
			} else {
				c.logger.Info().Str("merchant", merchant).Msg("no deals found for merchant")
			}

			if err := sleepCtx(ctx, c.merchantDelay); err != nil {
				return result, err
			}
		}

		if err := sleepCtx(ctx, c.batchDelay); err != nil {
			return result, err
		}
	}

	result.Total = len(result.Items)
	c.logger.Info().
		Int("deals", result.Total).
		Int("merchants", len(result.SuccessfulMerchants)).
		Msg("bulk refresh completed")

	return result, nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-CA,en;q=0.9")
	req.Header.Set("Referer", "https://flipp.com/")
	req.Header.Set("Origin", "https://flipp.com")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}
	return body, resp.StatusCode, nil
}
