// Package payloadschema validates raw flyer items fetched from the
// upstream feed. The feed is unofficial and its payload shape is not
// guaranteed; validation happens at the parse-or-skip boundary so
// untyped maps never travel past the feed client.
package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed flyer_item.schema.json
var flyerItemSchemaJSON string

// RawFlyerItem is the validated intermediate shape of one upstream
// item. Numeric fields arrive as numbers or strings depending on the
// feed mood, so they stay as json.Number-compatible raw values here.
type RawFlyerItem struct {
	Name             string          `json:"name"`
	CurrentPrice     json.RawMessage `json:"current_price,omitempty"`
	RegularPrice     json.RawMessage `json:"regular_price,omitempty"`
	Merchant         json.RawMessage `json:"merchant,omitempty"`
	MerchantName     *string         `json:"merchant_name,omitempty"`
	Description      *string         `json:"description,omitempty"`
	Flyer            *FlyerWindow    `json:"flyer,omitempty"`
	FlyerItemID      json.RawMessage `json:"flyer_item_id,omitempty"`
	CleanImageURL    *string         `json:"clean_image_url,omitempty"`
	ClippingImageURL *string         `json:"clipping_image_url,omitempty"`
	ImageURL         *string         `json:"image_url,omitempty"`
	FlyerURL         *string         `json:"flyer_url,omitempty"`
}

// FlyerWindow carries the nested flyer validity metadata.
type FlyerWindow struct {
	ValidFrom *string `json:"valid_from,omitempty"`
	ValidTo   *string `json:"valid_to,omitempty"`
}

// UnmarshalJSON tolerates the flyer field arriving as something other
// than an object. A non-object value is treated as absent metadata so
// the caller falls back to its default sale window.
func (w *FlyerWindow) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	type window FlyerWindow
	return json.Unmarshal(trimmed, (*window)(w))
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// ValidateFlyerItemPayload validates one raw item against the embedded
// schema and decodes it into the intermediate shape.
func ValidateFlyerItemPayload(payload json.RawMessage) (*RawFlyerItem, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var item RawFlyerItem
	if err := json.Unmarshal(normalized, &item); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if strings.TrimSpace(item.Name) == "" {
		return nil, fmt.Errorf("name must not be empty")
	}

	return &item, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020

		if err := compiler.AddResource("flyer_item.schema.json", strings.NewReader(flyerItemSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("flyer_item.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}
