package normalize

import (
	"reflect"
	"testing"

	"github.com/propstream/listing-scrape-worker/internal/model"
)

func TestAliasPrecedence(t *testing.T) {
	raw := model.RawRecord{
		"priceText":      "£450,000",
		"displayPrice":   "should not win",
		"displayAddress": "10 Downing Street, London",
		"id":             "123456",
		"beds":           float64(3),
	}
	l, ok := Normalize(raw, model.ForSale, "london", "https://portal.example/find")
	if !ok {
		t.Fatal("expected a listing")
	}
	if l.Price != "£450,000" {
		t.Errorf("expected the first matching alias to win, got %q", l.Price)
	}
	if l.Address != "10 Downing Street, London" {
		t.Errorf("unexpected address %q", l.Address)
	}
	if l.Bedrooms != 3 {
		t.Errorf("unexpected bedrooms %d", l.Bedrooms)
	}
	if l.PriceValue != 450000 {
		t.Errorf("unexpected numeric price %g", l.PriceValue)
	}
	if l.Category != model.ForSale || l.SearchLocation != "london" {
		t.Errorf("category/location not carried: %+v", l)
	}
}

func TestDropsRecordWithoutIdentifierAndURL(t *testing.T) {
	raw := model.RawRecord{"title": "orphan record", "price": "£1"}
	if _, ok := Normalize(raw, model.ForSale, "london", ""); ok {
		t.Error("a record lacking both identifier and url must be dropped")
	}
}

func TestIdentifierDerivedFromURL(t *testing.T) {
	raw := model.RawRecord{"propertyUrl": "/properties/987654321#details"}
	l, ok := Normalize(raw, model.ToRent, "leeds", "https://portal.example/find?page=1")
	if !ok {
		t.Fatal("expected a listing")
	}
	if l.ID != "987654321" {
		t.Errorf("expected id from url, got %q", l.ID)
	}
	if l.URL != "https://portal.example/properties/987654321#details" {
		t.Errorf("expected the relative url to be resolved, got %q", l.URL)
	}
}

func TestImageAndFeatureAccumulation(t *testing.T) {
	raw := model.RawRecord{
		"id": "1",
		"propertyImages": map[string]any{
			"images": []any{
				map[string]any{"srcUrl": "https://img.example/1.jpg"},
				map[string]any{"srcUrl": "https://img.example/2.jpg"},
				map[string]any{"srcUrl": "https://img.example/1.jpg"}, // duplicate
			},
		},
		"keyFeatures": []any{"Garden", " Garage ", ""},
	}
	l, ok := Normalize(raw, model.ForSale, "york", "")
	if !ok {
		t.Fatal("expected a listing")
	}
	want := []string{"https://img.example/1.jpg", "https://img.example/2.jpg"}
	if !reflect.DeepEqual(l.Images, want) {
		t.Errorf("unexpected images %v", l.Images)
	}
	if !reflect.DeepEqual(l.Features, []string{"Garden", "Garage"}) {
		t.Errorf("unexpected features %v", l.Features)
	}
}

func TestNestedCoordinateShapes(t *testing.T) {
	raw := model.RawRecord{
		"id":       "1",
		"location": map[string]any{"latitude": 51.5072, "longitude": -0.1276},
	}
	l, ok := Normalize(raw, model.ForSale, "london", "")
	if !ok {
		t.Fatal("expected a listing")
	}
	if l.Latitude != 51.5072 || l.Longitude != -0.1276 {
		t.Errorf("unexpected coordinates %g,%g", l.Latitude, l.Longitude)
	}

	raw = model.RawRecord{
		"id":      "2",
		"latLong": map[string]any{"lat": 53.4808, "lon": -2.2426},
	}
	l, ok = Normalize(raw, model.ForSale, "manchester", "")
	if !ok {
		t.Fatal("expected a listing")
	}
	if l.Latitude != 53.4808 || l.Longitude != -2.2426 {
		t.Errorf("unexpected coordinates %g,%g", l.Latitude, l.Longitude)
	}
}

func TestStripIsIdempotent(t *testing.T) {
	raw := model.RawRecord{
		"id":          "42",
		"title":       "  2 bed flat  ",
		"description": "   ",
		"keyFeatures": []any{"  ", "Garden"},
	}
	l, ok := Normalize(raw, model.ForSale, "london", "")
	if !ok {
		t.Fatal("expected a listing")
	}
	if l.Title != "2 bed flat" {
		t.Errorf("expected trimmed title, got %q", l.Title)
	}
	if l.Description != "" {
		t.Errorf("blank-after-trim field must be empty, got %q", l.Description)
	}

	before := cloneListing(l)
	l.Strip()
	if !reflect.DeepEqual(before, cloneListing(l)) {
		t.Errorf("second strip changed the listing:\n%+v\n%+v", before, *l)
	}
}

func cloneListing(l *model.Listing) model.Listing {
	c := *l
	c.Images = append([]string(nil), l.Images...)
	c.Features = append([]string(nil), l.Features...)
	return c
}

func TestPriceValueParsing(t *testing.T) {
	tests := []struct {
		price string
		want  float64
	}{
		{"£500,000", 500000},
		{"£1,200 pcm", 1200},
		{"Offers in excess of £750,000", 750000},
		{"POA", 0},
		{"", 0},
	}
	for _, tc := range tests {
		if got := priceValue(tc.price); got != tc.want {
			t.Errorf("priceValue(%q) = %g, want %g", tc.price, got, tc.want)
		}
	}
}

func TestDottedAliasWithArrayIndex(t *testing.T) {
	raw := model.RawRecord{
		"id": "9",
		"price": map[string]any{
			"displayPrices": []any{
				map[string]any{"displayPrice": "£425,000"},
			},
		},
	}
	l, ok := Normalize(raw, model.ForSale, "bath", "")
	if !ok {
		t.Fatal("expected a listing")
	}
	if l.Price != "£425,000" {
		t.Errorf("unexpected price %q", l.Price)
	}
}
