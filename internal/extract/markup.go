package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/propstream/listing-scrape-worker/internal/model"
)

// Card containers tried in order; the first selector with any matches wins.
var cardSelectors = []string{
	`[data-testid*="search-result"]`,
	`div.propertyCard`,
	`div.l-searchResult`,
	`article[data-test*="result"]`,
	`li.searchResult`,
	`div.listing-result`,
}

// fromMarkup is the last resort: best-effort title/price/address out of
// list-item-like containers. An empty result here is legitimate.
func fromMarkup(body string) []model.RawRecord {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil
	}

	var cards *goquery.Selection
	for _, selector := range cardSelectors {
		if sel := doc.Find(selector); sel.Length() > 0 {
			cards = sel
			break
		}
	}
	if cards == nil {
		return nil
	}

	var records []model.RawRecord
	cards.Each(func(_ int, card *goquery.Selection) {
		rec := model.RawRecord{}
		if href := cardLink(card); href != "" {
			rec["url"] = href
		}
		if title := firstText(card, "h2", "h3", `[class*="title"]`); title != "" {
			rec["title"] = title
		}
		if price := firstText(card, `[data-testid*="price"]`, `[class*="price"]`); price != "" {
			rec["price"] = price
		}
		if address := firstText(card, "address", `[class*="address"]`); address != "" {
			rec["address"] = address
		}
		if src, ok := card.Find("img").First().Attr("src"); ok && src != "" {
			rec["image"] = src
		}
		if _, hasURL := rec["url"]; hasURL || len(rec) > 1 {
			records = append(records, rec)
		}
	})

	return records
}

func cardLink(card *goquery.Selection) string {
	href := ""
	card.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		h, _ := a.Attr("href")
		if strings.Contains(h, "/propert") || strings.Contains(h, "/details") || strings.Contains(h, "/homes") {
			href = h
			return false
		}
		if href == "" {
			href = h
		}
		return true
	})
	return href
}

func firstText(card *goquery.Selection, selectors ...string) string {
	for _, selector := range selectors {
		if text := strings.TrimSpace(card.Find(selector).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

// nextFromMarkup resolves a next-page link out of the document: rel=next
// first, then anchors whose aria-label or visible text indicate "next".
func nextFromMarkup(body string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return ""
	}

	if href, ok := doc.Find(`link[rel="next"]`).Attr("href"); ok && href != "" {
		return href
	}
	if href, ok := doc.Find(`a[rel="next"]`).Attr("href"); ok && href != "" {
		return href
	}

	next := ""
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		label, _ := a.Attr("aria-label")
		text := strings.TrimSpace(a.Text())
		if strings.Contains(strings.ToLower(label), "next") || strings.EqualFold(text, "next") ||
			strings.EqualFold(text, "next page") {
			if href, ok := a.Attr("href"); ok && href != "" {
				next = href
				return false
			}
		}
		return true
	})

	return next
}
