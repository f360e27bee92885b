package feed

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/danharris923/flyerflipper/internal/globaltime"
	payloadschema "github.com/danharris923/flyerflipper/schema"
)

// Source tag attached to every deal produced by this client.
const Source = "flipp"

const defaultSaleWindow = 7 * 24 * time.Hour

// Deal is the canonical normalized unit produced by the feed client.
type Deal struct {
	Name            string    `json:"name"`
	Description     *string   `json:"description,omitempty"`
	Category        string    `json:"category"`
	Price           float64   `json:"price"`
	OriginalPrice   *float64  `json:"original_price,omitempty"`
	DiscountPercent *float64  `json:"discount_percent,omitempty"`
	ImageURL        *string   `json:"image_url,omitempty"`
	FlyerURL        *string   `json:"flyer_url,omitempty"`
	SaleStart       time.Time `json:"sale_start"`
	SaleEnd         time.Time `json:"sale_end"`
	ExternalID      string    `json:"external_id"`
	MerchantName    string    `json:"merchant_name"`
	Source          string    `json:"source"`
	Language        string    `json:"language,omitempty"`
}

// saleWindowFormats are the timestamp layouts the feed has been seen
// emitting in flyer validity metadata.
var saleWindowFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseItem turns one raw upstream item into a Deal. A nil Deal with a
// non-nil error means the item must be skipped, never that the batch
// should abort.
func ParseItem(raw json.RawMessage, detectLanguage func(string) string) (*Deal, error) {
	item, err := payloadschema.ValidateFlyerItemPayload(raw)
	if err != nil {
		return nil, fmt.Errorf("validate item: %w", err)
	}

	name := strings.TrimSpace(item.Name)
	if name == "" {
		return nil, fmt.Errorf("item has empty name")
	}

	price, ok := parsePrice(item.CurrentPrice)
	if !ok {
		return nil, fmt.Errorf("item %q has no parsable price", name)
	}

	merchant := merchantName(item)

	now := globaltime.UTC()
	saleStart := now
	saleEnd := now.Add(defaultSaleWindow)
	if item.Flyer != nil {
		if ts, ok := parseSaleTimestamp(item.Flyer.ValidFrom); ok {
			saleStart = ts
		}
		if ts, ok := parseSaleTimestamp(item.Flyer.ValidTo); ok {
			saleEnd = ts
		}
	}

	deal := &Deal{
		Name:         name,
		Price:        price,
		SaleStart:    saleStart,
		SaleEnd:      saleEnd,
		ExternalID:   ExternalID(merchant, name, price),
		MerchantName: merchant,
		Source:       Source,
	}

	description := ""
	if item.Description != nil {
		description = stripMarkup(*item.Description)
		if description != "" {
			deal.Description = &description
		}
	}
	deal.Category = InferCategory(name, description)

	if regular, ok := parsePrice(item.RegularPrice); ok && regular > price {
		deal.OriginalPrice = &regular
		discount := roundToDecimal((regular-price)/regular*100, 1)
		deal.DiscountPercent = &discount
	}

	if img := firstNonEmpty(item.CleanImageURL, item.ClippingImageURL, item.ImageURL); img != "" {
		deal.ImageURL = &img
	}
	if item.FlyerURL != nil {
		if u := strings.TrimSpace(*item.FlyerURL); u != "" {
			deal.FlyerURL = &u
		}
	}

	if detectLanguage != nil {
		deal.Language = detectLanguage(name + " " + description)
	}

	return deal, nil
}

// ExternalID is the dedup key: md5 over merchant, name and price
// joined by "-" in that order, hex-truncated to 16 characters. The
// ordering, separator and price rendering are a compatibility
// contract; changing any of them re-keys the whole corpus.
func ExternalID(merchant, name string, price float64) string {
	key := merchant + "-" + name + "-" + formatPrice(price)
	sum := md5.Sum([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

func formatPrice(price float64) string {
	return strconv.FormatFloat(price, 'g', -1, 64)
}

func merchantName(item *payloadschema.RawFlyerItem) string {
	if item.MerchantName != nil {
		if name := strings.TrimSpace(*item.MerchantName); name != "" {
			return name
		}
	}

	trimmed := bytes.TrimSpace(item.Merchant)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		var direct string
		if err := json.Unmarshal(trimmed, &direct); err == nil {
			if name := strings.TrimSpace(direct); name != "" {
				return name
			}
		}
		var nested struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(trimmed, &nested); err == nil {
			if name := strings.TrimSpace(nested.Name); name != "" {
				return name
			}
		}
	}

	return "Unknown Store"
}

func parsePrice(raw json.RawMessage) (float64, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return 0, false
	}

	var num float64
	if err := json.Unmarshal(trimmed, &num); err == nil {
		if num < 0 {
			return 0, false
		}
		return num, true
	}

	var str string
	if err := json.Unmarshal(trimmed, &str); err == nil {
		cleaned := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(str), "$"))
		if cleaned == "" {
			return 0, false
		}
		value, err := strconv.ParseFloat(cleaned, 64)
		if err != nil || value < 0 {
			return 0, false
		}
		return value, true
	}

	return 0, false
}

func parseSaleTimestamp(raw *string) (time.Time, bool) {
	if raw == nil {
		return time.Time{}, false
	}
	value := strings.TrimSpace(*raw)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range saleWindowFormats {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), true
		}
	}
	// The feed sometimes emits fractional seconds with a literal Z but
	// no offset; retry with the Z stripped.
	if stripped := strings.TrimSuffix(value, "Z"); stripped != value {
		for _, layout := range saleWindowFormats[1:] {
			if ts, err := time.Parse(layout, stripped); err == nil {
				return ts.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// stripMarkup flattens HTML-bearing descriptions into plain text. The
// feed mixes plain strings and markup fragments in the same field.
func stripMarkup(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || !strings.Contains(trimmed, "<") {
		return trimmed
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(trimmed))
	if err != nil {
		return trimmed
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func firstNonEmpty(values ...*string) string {
	for _, v := range values {
		if v == nil {
			continue
		}
		if s := strings.TrimSpace(*v); s != "" {
			return s
		}
	}
	return ""
}

func roundToDecimal(value float64, places int) float64 {
	shift := 1.0
	for i := 0; i < places; i++ {
		shift *= 10
	}
	return math.Round(value*shift) / shift
}
