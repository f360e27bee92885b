// Package places discovers nearby grocery stores through the Google
// Places API. The client is optional: without an API key it is nil
// and callers degrade gracefully.
package places

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/danharris923/flyerflipper/internal/feed"
)

var ErrDisabled = errors.New("places lookup disabled: no API key configured")

// Place is a normalized nearby-search result.
type Place struct {
	PlaceID   string   `json:"place_id"`
	Name      string   `json:"name"`
	Address   string   `json:"address"`
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
	Phone     *string  `json:"phone,omitempty"`
	Website   *string  `json:"website,omitempty"`
	Rating    *float64 `json:"rating,omitempty"`
	StoreType string   `json:"store_type"`
	Distance  float64  `json:"distance"`
}

// Options configures a places Client.
type Options struct {
	APIKey        string
	BaseURL       string
	HTTPClient    *http.Client
	RatePerSecond int
	RetryBackoff  time.Duration
}

type Client struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	limiter      *feed.Limiter
	logger       zerolog.Logger
	retryBackoff time.Duration
}

// New returns nil when no API key is configured.
func New(logger zerolog.Logger, opts Options) *Client {
	if strings.TrimSpace(opts.APIKey) == "" {
		logger.Warn().Msg("places API key not set; store discovery disabled")
		return nil
	}

	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://places.googleapis.com/v1"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	retryBackoff := opts.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = 2 * time.Second
	}

	return &Client{
		apiKey:       opts.APIKey,
		baseURL:      baseURL,
		httpClient:   httpClient,
		limiter:      feed.NewLimiter(opts.RatePerSecond),
		logger:       logger,
		retryBackoff: retryBackoff,
	}
}

type nearbyRequest struct {
	IncludedTypes       []string `json:"includedTypes"`
	MaxResultCount      int      `json:"maxResultCount"`
	LocationRestriction struct {
		Circle struct {
			Center struct {
				Latitude  float64 `json:"latitude"`
				Longitude float64 `json:"longitude"`
			} `json:"center"`
			Radius float64 `json:"radius"`
		} `json:"circle"`
	} `json:"locationRestriction"`
	RankPreference string `json:"rankPreference"`
}

type nearbyResponse struct {
	Places []struct {
		ID          string `json:"id"`
		DisplayName struct {
			Text string `json:"text"`
		} `json:"displayName"`
		FormattedAddress string `json:"formattedAddress"`
		Location         struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"location"`
		Types               []string `json:"types"`
		Rating              *float64 `json:"rating"`
		NationalPhoneNumber *string  `json:"nationalPhoneNumber"`
		WebsiteURI          *string  `json:"websiteUri"`
	} `json:"places"`
}

// NearbySearch finds grocery stores and supermarkets around a point,
// nearest first. Radius is capped at the API maximum of 50km and
// maxResults at 20. A 429 is retried once after a short backoff.
func (c *Client) NearbySearch(ctx context.Context, lat, lng float64, radiusMeters, maxResults int) ([]Place, error) {
	if c == nil {
		return nil, ErrDisabled
	}
	if lat < -90 || lat > 90 {
		return nil, fmt.Errorf("latitude %v out of range", lat)
	}
	if lng < -180 || lng > 180 {
		return nil, fmt.Errorf("longitude %v out of range", lng)
	}
	if radiusMeters <= 0 || radiusMeters > 50000 {
		radiusMeters = 50000
	}
	if maxResults < 1 {
		maxResults = 1
	}
	if maxResults > 20 {
		maxResults = 20
	}
	return c.nearbySearch(ctx, lat, lng, radiusMeters, maxResults, false)
}

func (c *Client) nearbySearch(ctx context.Context, lat, lng float64, radiusMeters, maxResults int, retried bool) ([]Place, error) {
	var reqBody nearbyRequest
	reqBody.IncludedTypes = []string{"grocery_store", "supermarket"}
	reqBody.MaxResultCount = maxResults
	reqBody.LocationRestriction.Circle.Center.Latitude = lat
	reqBody.LocationRestriction.Circle.Center.Longitude = lng
	reqBody.LocationRestriction.Circle.Radius = float64(radiusMeters)
	reqBody.RankPreference = "DISTANCE"

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encode nearby search request: %w", err)
	}

	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/places:searchNearby", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build nearby search request: %w", err)
	}
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask",
		"places.id,places.displayName,places.formattedAddress,"+
			"places.location,places.types,places.rating,"+
			"places.nationalPhoneNumber,places.websiteUri")
	req.Header.Set("Content-Type", "application/json")

	c.logger.Info().
		Float64("lat", lat).
		Float64("lng", lng).
		Int("radius", radiusMeters).
		Msg("searching nearby stores")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nearby search: %w", err)
	}
	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		return nil, fmt.Errorf("read nearby search response: %w", readErr)
	}

	if resp.StatusCode == http.StatusTooManyRequests && !retried {
		c.logger.Warn().Msg("places API rate limited; retrying once")
		timer := time.NewTimer(c.retryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		return c.nearbySearch(ctx, lat, lng, radiusMeters, maxResults, true)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("places API returned HTTP %d", resp.StatusCode)
	}

	var decoded nearbyResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode nearby search response: %w", err)
	}

	places := make([]Place, 0, len(decoded.Places))
	for _, p := range decoded.Places {
		name := p.DisplayName.Text
		if name == "" {
			name = "Unknown Store"
		}
		places = append(places, Place{
			PlaceID:   p.ID,
			Name:      name,
			Address:   p.FormattedAddress,
			Lat:       p.Location.Latitude,
			Lng:       p.Location.Longitude,
			Phone:     p.NationalPhoneNumber,
			Website:   p.WebsiteURI,
			Rating:    p.Rating,
			StoreType: extractStoreType(p.Types),
			Distance:  Haversine(lat, lng, p.Location.Latitude, p.Location.Longitude),
		})
	}

	c.logger.Info().Int("found", len(places)).Msg("nearby store search completed")
	return places, nil
}

func extractStoreType(types []string) string {
	for _, priority := range []string{"grocery_store", "supermarket", "food", "establishment"} {
		for _, t := range types {
			if t == priority {
				return priority
			}
		}
	}
	if len(types) > 0 {
		return types[0]
	}
	return "store"
}

// Haversine returns the great-circle distance between two coordinates
// in kilometers, rounded to two decimals.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadiusKm = 6371

	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dlat := toRad(lat2 - lat1)
	dlng := toRad(lng2 - lng1)

	a := math.Pow(math.Sin(dlat/2), 2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Pow(math.Sin(dlng/2), 2)
	c := 2 * math.Asin(math.Sqrt(a))

	return math.Round(c*earthRadiusKm*100) / 100
}

// DirectionsURL builds a Google Maps directions link between two
// points; no API call involved.
func DirectionsURL(originLat, originLng, destLat, destLng float64, mode string) string {
	url := fmt.Sprintf("https://www.google.com/maps/dir/%v,%v/%v,%v/@%v,%v,15z",
		originLat, originLng, destLat, destLng, destLat, destLng)

	if mode != "" && mode != "driving" {
		modeParam := map[string]string{
			"walking":   "w",
			"bicycling": "b",
			"transit":   "r",
		}[mode]
		if modeParam == "" {
			modeParam = "d"
		}
		url += "/data=!3m1!4b1!4m2!4m1!3e" + modeParam
	}
	return url
}
