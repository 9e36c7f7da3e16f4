package normalize

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/propstream/listing-scrape-worker/internal/model"
)

// The upstream site serves the same attribute under different key names
// depending on which variant of the page shipped that week. Each canonical
// field has an ordered alias list; the first present, non-empty alias wins.
// A dotted alias descends into nested maps. These lists absorb schema drift
// and are not expected to be exhaustive.
var (
	idAliases      = []string{"id", "listingId", "propertyId", "listing_id", "adId"}
	titleAliases   = []string{"title", "name", "heading", "propertyTypeFullDescription", "summaryTitle"}
	addressAliases = []string{"address", "displayAddress", "fullAddress", "formattedAddress", "address.displayAddress"}
	priceAliases   = []string{
		"price", "priceText", "formattedPrice", "displayPrice",
		"price.displayPrices.0.displayPrice", "price.amount", "offerPrice",
	}
	propertyTypeAliases = []string{"propertyType", "propertySubType", "homeType", "type"}
	bedroomAliases      = []string{"bedrooms", "beds", "numberOfBedrooms", "numBedrooms", "bedroomCount"}
	bathroomAliases     = []string{"bathrooms", "baths", "numberOfBathrooms", "numBathrooms", "bathroomCount"}
	receptionAliases    = []string{"receptions", "numberOfReceptions", "receptionRooms", "livingRooms"}
	descriptionAliases  = []string{"description", "summary", "text", "propertyDescription"}
	agentNameAliases    = []string{"agentName", "branchDisplayName", "customer.branchDisplayName", "agent.name", "branch.name"}
	agentPhoneAliases   = []string{"agentPhone", "contactTelephone", "customer.contactTelephone", "agent.phone", "branch.phone"}
	tenureAliases       = []string{"tenure", "tenureType", "tenure.tenureType"}
	councilTaxAliases   = []string{"councilTaxBand", "council_tax_band", "councilTax.band"}
	epcAliases          = []string{"epcRating", "epc", "currentEnergyRating", "epc.rating"}
	floorplanAliases    = []string{"floorplanUrl", "floorplan", "floorplans", "floorplans.0.url"}
	urlAliases          = []string{"propertyUrl", "detailUrl", "url", "link", "canonicalUrl"}

	imageAliases   = []string{"images", "propertyImages.images", "propertyImages", "imageUrls", "photos", "image", "media.images"}
	featureAliases = []string{"features", "keyFeatures", "amenities", "bullets", "summaryFeatures"}

	coordinateAliases = [][2]string{
		{"location.latitude", "location.longitude"},
		{"latitude", "longitude"},
		{"coordinates.latitude", "coordinates.longitude"},
		{"latLong.lat", "latLong.lon"},
		{"geo.lat", "geo.lng"},
	}
)

var idFromURLPattern = regexp.MustCompile(`(\d{5,})`)

// Normalize maps a shape-variable raw record onto the canonical listing. A
// record lacking both an identifier and a url is dropped (ok=false); that is
// a silent discard, not an error.
func Normalize(raw model.RawRecord, category model.Category, searchLocation, fallbackURL string) (*model.Listing, bool) {
	l := &model.Listing{
		ID:             lookupString(raw, idAliases),
		Title:          lookupString(raw, titleAliases),
		Address:        lookupString(raw, addressAliases),
		Price:          lookupString(raw, priceAliases),
		PropertyType:   lookupString(raw, propertyTypeAliases),
		Bedrooms:       lookupInt(raw, bedroomAliases),
		Bathrooms:      lookupInt(raw, bathroomAliases),
		Receptions:     lookupInt(raw, receptionAliases),
		Description:    lookupString(raw, descriptionAliases),
		AgentName:      lookupString(raw, agentNameAliases),
		AgentPhone:     lookupString(raw, agentPhoneAliases),
		Tenure:         lookupString(raw, tenureAliases),
		CouncilTaxBand: lookupString(raw, councilTaxAliases),
		EPCRating:      lookupString(raw, epcAliases),
		FloorplanURL:   lookupString(raw, floorplanAliases),
		Images:         lookupList(raw, imageAliases),
		Features:       lookupList(raw, featureAliases),
		Category:       category,
		SearchLocation: searchLocation,
	}

	l.URL = resolveURL(lookupString(raw, urlAliases), fallbackURL)
	if l.ID == "" {
		l.ID = idFromURL(l.URL)
	}
	l.PriceValue = priceValue(l.Price)
	for _, pair := range coordinateAliases {
		lat, latOK := toFloat(lookup(raw, pair[0]))
		lon, lonOK := toFloat(lookup(raw, pair[1]))
		if latOK && lonOK && (lat != 0 || lon != 0) {
			l.Latitude = lat
			l.Longitude = lon
			break
		}
	}

	l.Strip()
	if !l.Valid() {
		return nil, false
	}
	return l, true
}

// lookup resolves a possibly dotted alias against a raw record. A numeric
// path segment indexes into an array.
func lookup(raw model.RawRecord, alias string) any {
	var node any = map[string]any(raw)
	for _, segment := range strings.Split(alias, ".") {
		switch v := node.(type) {
		case map[string]any:
			node = v[segment]
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil
			}
			node = v[idx]
		default:
			return nil
		}
	}
	return node
}

func lookupString(raw model.RawRecord, aliases []string) string {
	for _, alias := range aliases {
		if s := toString(lookup(raw, alias)); s != "" {
			return s
		}
	}
	return ""
}

func lookupInt(raw model.RawRecord, aliases []string) int {
	for _, alias := range aliases {
		if n, ok := toInt(lookup(raw, alias)); ok {
			return n
		}
	}
	return 0
}

// lookupList accumulates entries from every matching alias, preserving source
// order and de-duplicating.
func lookupList(raw model.RawRecord, aliases []string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, alias := range aliases {
		switch v := lookup(raw, alias).(type) {
		case string:
			add(v)
		case []any:
			for _, item := range v {
				switch el := item.(type) {
				case string:
					add(el)
				case map[string]any:
					for _, key := range []string{"url", "srcUrl", "src", "text", "name"} {
						if s, ok := el[key].(string); ok && s != "" {
							add(s)
							break
						}
					}
				}
			}
		}
	}
	return out
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case fmt.Stringer:
		return s.String()
	}
	return ""
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return parsed, true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	}
	return 0, false
}

var priceDigits = regexp.MustCompile(`[\d.]+`)

// priceValue parses the numeric value out of a display price like "£500,000"
// or "£1,200 pcm". Zero means "no numeric price".
func priceValue(price string) float64 {
	cleaned := strings.ReplaceAll(price, ",", "")
	match := priceDigits.FindString(cleaned)
	if match == "" {
		return 0
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0
	}
	return v
}

func resolveURL(href, fallbackURL string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	base, err := url.Parse(fallbackURL)
	if err != nil || base.Host == "" {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func idFromURL(u string) string {
	if u == "" {
		return ""
	}
	parsed, err := url.Parse(u)
	path := u
	if err == nil {
		path = parsed.Path
	}
	return idFromURLPattern.FindString(path)
}
