package payloadschema

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestValidateFlyerItemPayload_Valid(t *testing.T) {
	payload := json.RawMessage(`{
		"name":"Whole Milk 4L",
		"current_price":"4.99",
		"regular_price":6.49,
		"merchant":{"name":"Metro"},
		"description":"Fresh dairy",
		"flyer":{
			"valid_from":"2026-08-20T00:00:00Z",
			"valid_to":"2026-08-27T00:00:00Z"
		},
		"flyer_item_id":98765,
		"clean_image_url":"https://example.com/milk.jpg"
	}`)

	item, err := ValidateFlyerItemPayload(payload)
	if err != nil {
		t.Fatalf("expected payload to be valid, got error: %v", err)
	}

	if item.Name != "Whole Milk 4L" {
		t.Fatalf("expected name=Whole Milk 4L, got %q", item.Name)
	}
	if item.Flyer == nil || item.Flyer.ValidTo == nil {
		t.Fatalf("expected flyer validity window to survive decoding")
	}
}

func TestValidateFlyerItemPayload_MissingName(t *testing.T) {
	payload := json.RawMessage(`{
		"current_price":"4.99",
		"merchant":"Metro"
	}`)

	_, err := ValidateFlyerItemPayload(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for missing name")
	}
}

func TestValidateFlyerItemPayload_WhitespaceName(t *testing.T) {
	payload := json.RawMessage(`{
		"name":"   ",
		"current_price":3.49
	}`)

	_, err := ValidateFlyerItemPayload(payload)
	if err == nil {
		t.Fatalf("expected validation to fail for whitespace-only name")
	}
	if !strings.Contains(err.Error(), "name must not be empty") {
		t.Fatalf("expected name semantic error, got: %v", err)
	}
}

func TestValidateFlyerItemPayload_PriceMustBeScalar(t *testing.T) {
	payload := json.RawMessage(`{
		"name":"Butter 454g",
		"current_price":{"amount":5.49}
	}`)

	_, err := ValidateFlyerItemPayload(payload)
	if err == nil {
		t.Fatalf("expected validation to fail when current_price is an object")
	}
}

func TestValidateFlyerItemPayload_MerchantObjectOrString(t *testing.T) {
	stringMerchant := json.RawMessage(`{"name":"Eggs","merchant":"Food Basics"}`)
	if _, err := ValidateFlyerItemPayload(stringMerchant); err != nil {
		t.Fatalf("expected string merchant to be valid, got error: %v", err)
	}

	nullMerchant := json.RawMessage(`{"name":"Eggs","merchant":null}`)
	if _, err := ValidateFlyerItemPayload(nullMerchant); err != nil {
		t.Fatalf("expected null merchant to be valid, got error: %v", err)
	}

	numberMerchant := json.RawMessage(`{"name":"Eggs","merchant":42}`)
	if _, err := ValidateFlyerItemPayload(numberMerchant); err == nil {
		t.Fatalf("expected validation to fail when merchant is a number")
	}
}

func TestValidateFlyerItemPayload_FlyerToleratesNonObject(t *testing.T) {
	nullFlyer := json.RawMessage(`{"name":"Eggs","flyer":null}`)
	item, err := ValidateFlyerItemPayload(nullFlyer)
	if err != nil {
		t.Fatalf("expected null flyer to be valid, got error: %v", err)
	}
	if item.Flyer != nil {
		t.Fatalf("expected null flyer to decode as absent, got %+v", item.Flyer)
	}

	stringFlyer := json.RawMessage(`{"name":"Eggs","flyer":"week 34"}`)
	item, err = ValidateFlyerItemPayload(stringFlyer)
	if err != nil {
		t.Fatalf("expected string flyer to be valid, got error: %v", err)
	}
	if item.Flyer != nil && (item.Flyer.ValidFrom != nil || item.Flyer.ValidTo != nil) {
		t.Fatalf("expected string flyer to carry no validity window, got %+v", item.Flyer)
	}
}

func TestValidateFlyerItemPayload_MalformedJSON(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty", ""},
		{"truncated", `{"name":"Milk"`},
		{"trailing content", `{"name":"Milk"} garbage`},
	}
	for _, tt := range tests {
		if _, err := ValidateFlyerItemPayload(json.RawMessage(tt.payload)); err == nil {
			t.Errorf("expected %s payload to be rejected", tt.name)
		}
	}
}
