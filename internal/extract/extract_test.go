package extract

import (
	"testing"
)

const embeddedPage = `<html><head></head><body>
<script id="__NEXT_DATA__" type="application/json">
{"props":{"pageProps":{"searchResults":{
  "listings":[
    {"id":"123","displayAddress":"A St","price":"£500,000"},
    {"id":"124","displayAddress":"B Rd","price":"£600,000"}
  ],
  "pagination":{"nextPageUrl":"/find?location=london&page=2"}
}}}}
</script>
<script type="application/ld+json">
{"@type":"ItemList","itemListElement":[{"@type":"ListItem","item":{"@type":"Residence","name":"Should not win","url":"https://portal.example/properties/999"}}]}
</script>
<div class="propertyCard"><a href="/properties/777">markup item</a></div>
</body></html>`

const linkedDataPage = `<html><body>
<script id="__NEXT_DATA__" type="application/json">{"broken":</script>
<script type="application/ld+json">
{"@type":"ItemList","itemListElement":[
  {"@type":"ListItem","item":{"@type":"Residence","name":"Garden Flat","url":"https://portal.example/properties/98765"}}
]}
</script>
</body></html>`

const markupPage = `<html><body>
<div class="propertyCard">
  <a href="/properties/555111">card</a>
  <h2>2 bed flat</h2>
  <span class="propertyCard-priceValue">£300,000</span>
  <address>1 High Street, London</address>
</div>
<a href="/find?page=2" aria-label="Next page">&gt;</a>
</body></html>`

func TestEmbeddedTierWins(t *testing.T) {
	e := NewExtractor("page")
	result := e.Extract(embeddedPage, "https://portal.example/find?location=london&page=1")

	if result.Tier != TierEmbedded {
		t.Fatalf("expected embedded tier, got %s", result.Tier)
	}
	if len(result.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(result.Records))
	}
	if result.Records[0]["id"] != "123" {
		t.Errorf("unexpected first record: %v", result.Records[0])
	}
	if result.NextPageURL != "https://portal.example/find?location=london&page=2" {
		t.Errorf("unexpected next page url %q", result.NextPageURL)
	}
}

func TestLinkedDataFallback(t *testing.T) {
	e := NewExtractor("page")
	result := e.Extract(linkedDataPage, "https://portal.example/find")

	if result.Tier != TierLinkedData {
		t.Fatalf("expected linked-data tier, got %s", result.Tier)
	}
	if len(result.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(result.Records))
	}
	if result.Records[0]["name"] != "Garden Flat" {
		t.Errorf("unexpected record: %v", result.Records[0])
	}
	if result.Records[0]["url"] != "https://portal.example/properties/98765" {
		t.Errorf("unexpected url in record: %v", result.Records[0])
	}
}

func TestMarkupFallback(t *testing.T) {
	e := NewExtractor("page")
	result := e.Extract(markupPage, "https://portal.example/find?page=1")

	if result.Tier != TierMarkup {
		t.Fatalf("expected markup tier, got %s", result.Tier)
	}
	if len(result.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(result.Records))
	}
	rec := result.Records[0]
	if rec["url"] != "/properties/555111" {
		t.Errorf("unexpected url %v", rec["url"])
	}
	if rec["title"] != "2 bed flat" {
		t.Errorf("unexpected title %v", rec["title"])
	}
	if rec["price"] != "£300,000" {
		t.Errorf("unexpected price %v", rec["price"])
	}
	if rec["address"] != "1 High Street, London" {
		t.Errorf("unexpected address %v", rec["address"])
	}
	if result.NextPageURL != "https://portal.example/find?page=2" {
		t.Errorf("expected the aria-label anchor to resolve the next page, got %q", result.NextPageURL)
	}
}

func TestMarkupMayBeEmpty(t *testing.T) {
	e := NewExtractor("page")
	result := e.Extract("<html><body><p>nothing here</p></body></html>", "https://portal.example/find")

	if result.Tier != TierMarkup {
		t.Fatalf("expected markup tier, got %s", result.Tier)
	}
	if len(result.Records) != 0 {
		t.Fatalf("expected no records, got %d", len(result.Records))
	}
	if result.NextPageURL != "" {
		t.Errorf("expected no next page, got %q", result.NextPageURL)
	}
}

func TestNumericNextPageCombinesWithPageParam(t *testing.T) {
	body := `<script id="__NEXT_DATA__" type="application/json">
	{"results":[{"id":"1","displayAddress":"X"}],"pagination":{"nextPage":3}}
	</script>`
	e := NewExtractor("pn")
	result := e.Extract(body, "https://portal.example/find?location=london&pn=2")

	if result.NextPageURL != "https://portal.example/find?location=london&pn=3" {
		t.Errorf("unexpected next page url %q", result.NextPageURL)
	}
}

func TestRelNextLink(t *testing.T) {
	body := `<html><head><link rel="next" href="/find?page=5"></head><body>
	<div class="propertyCard"><a href="/properties/42">x</a></div></body></html>`
	e := NewExtractor("page")
	result := e.Extract(body, "https://portal.example/find?page=4")

	if result.NextPageURL != "https://portal.example/find?page=5" {
		t.Errorf("unexpected next page url %q", result.NextPageURL)
	}
}

func TestExtractDetailIgnoresMarkup(t *testing.T) {
	e := NewExtractor("page")
	if rec := e.ExtractDetail(markupPage); rec != nil {
		t.Errorf("detail extraction must not use the markup tier, got %v", rec)
	}

	detail := `<script id="__NEXT_DATA__" type="application/json">
	{"propertyData":[{"id":"123","description":"Bright two bed","tenure":"Leasehold"}]}
	</script>`
	rec := e.ExtractDetail(detail)
	if rec == nil {
		t.Fatal("expected a detail record")
	}
	if rec["tenure"] != "Leasehold" {
		t.Errorf("unexpected detail record: %v", rec)
	}
}

func TestEmbeddedSearchIsDeterministic(t *testing.T) {
	// Two listing-like arrays in one blob: the walk must pick the same one on
	// every run regardless of map iteration order.
	body := `<script id="__NEXT_DATA__" type="application/json">
	{"featured":[{"id":"featured-1","displayAddress":"F St"}],
	 "results":[{"id":"result-1","displayAddress":"R Rd"}]}
	</script>`
	e := NewExtractor("page")

	for i := 0; i < 25; i++ {
		result := e.Extract(body, "https://portal.example/find")
		if len(result.Records) != 1 {
			t.Fatalf("expected 1 record, got %d", len(result.Records))
		}
		if result.Records[0]["id"] != "featured-1" {
			t.Fatalf("run %d picked a different array: %v", i, result.Records[0])
		}
	}
}
