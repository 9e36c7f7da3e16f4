package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	jsoniter "github.com/json-iterator/go"
	"github.com/propstream/listing-scrape-worker/internal/model"
)

var linkedDataTypes = map[string]bool{
	"Residence":             true,
	"Apartment":             true,
	"House":                 true,
	"SingleFamilyResidence": true,
	"RealEstateListing":     true,
	"Product":               true,
	"Offer":                 true,
	"Accommodation":         true,
}

// fromLinkedData reads the page's ld+json blocks and flattens every
// listing-like entity into a raw record the normalizer understands.
func fromLinkedData(body string) []model.RawRecord {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil
	}

	var records []model.RawRecord
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var root any
		if err := jsoniter.Unmarshal([]byte(s.Text()), &root); err != nil {
			return
		}
		for _, node := range linkedDataNodes(root) {
			if rec := flattenEntity(node); rec != nil {
				records = append(records, rec)
			}
		}
	})

	return records
}

// linkedDataNodes unwraps the usual containers: top-level arrays, @graph
// collections and ItemList elements.
func linkedDataNodes(root any) []map[string]any {
	var nodes []map[string]any
	var walk func(any)
	walk = func(node any) {
		switch v := node.(type) {
		case []any:
			for _, item := range v {
				walk(item)
			}
		case map[string]any:
			if graph, ok := v["@graph"].([]any); ok {
				walk(graph)
				return
			}
			if entityType(v) == "ItemList" {
				if elements, ok := v["itemListElement"].([]any); ok {
					for _, el := range elements {
						if m, ok := el.(map[string]any); ok {
							if item, ok := m["item"].(map[string]any); ok {
								walk(item)
							} else {
								walk(m)
							}
						}
					}
				}
				return
			}
			nodes = append(nodes, v)
		}
	}
	walk(root)
	return nodes
}

func entityType(m map[string]any) string {
	switch t := m["@type"].(type) {
	case string:
		return t
	case []any:
		if len(t) > 0 {
			if s, ok := t[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

// flattenEntity maps a structured entity onto the flat raw-record keys. A
// ListItem that only carries a url is still a usable record.
func flattenEntity(m map[string]any) model.RawRecord {
	t := entityType(m)
	if t != "" && t != "ListItem" && !linkedDataTypes[t] {
		return nil
	}

	rec := model.RawRecord{}
	if name, ok := m["name"].(string); ok {
		rec["name"] = name
	}
	if u, ok := m["url"].(string); ok {
		rec["url"] = u
	}
	if desc, ok := m["description"].(string); ok {
		rec["description"] = desc
	}
	if img := m["image"]; img != nil {
		rec["image"] = img
	}
	if addr, ok := m["address"].(map[string]any); ok {
		rec["address"] = joinAddress(addr)
	} else if addr, ok := m["address"].(string); ok {
		rec["address"] = addr
	}
	if offers, ok := m["offers"].(map[string]any); ok {
		if price := offers["price"]; price != nil {
			rec["price"] = price
		}
	} else if price := m["price"]; price != nil {
		rec["price"] = price
	}
	if geo, ok := m["geo"].(map[string]any); ok {
		rec["latitude"] = geo["latitude"]
		rec["longitude"] = geo["longitude"]
	}
	if rooms := m["numberOfRooms"]; rooms != nil {
		rec["bedrooms"] = rooms
	}
	if len(rec) == 0 {
		return nil
	}

	return rec
}

func joinAddress(addr map[string]any) string {
	parts := make([]string, 0, 4)
	for _, key := range []string{"streetAddress", "addressLocality", "addressRegion", "postalCode"} {
		if v, ok := addr[key].(string); ok && v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ", ")
}
