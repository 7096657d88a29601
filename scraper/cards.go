package scraper

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-auction-deals/models"
	"github.com/aluiziolira/go-auction-deals/parser"
)

// Selectors locate auction cards and their fields in a results page. Every
// selector may list alternatives separated by commas; the first match inside
// the card is used.
type Selectors struct {
	Card      string
	Title     string
	Subtitle  string
	Bid       string
	BidCount  string
	TimeLeft  string
	Location  string
	Mileage   string
	Link      string
	Image     string
	NoReserve string
	Next      string
}

// DefaultSelectors match the auction grid markup of the default target.
func DefaultSelectors() Selectors {
	return Selectors{
		Card:      "ul.auctions-list > li, li.auction-item, div.auction-card, [data-auction-id]",
		Title:     ".auction-title, h3, h2",
		Subtitle:  ".auction-subtitle, p.subtitle",
		Bid:       ".bid-value, .current-bid, [data-bid]",
		BidCount:  ".bid-count, .bids",
		TimeLeft:  ".time-left, .countdown, .ends-in",
		Location:  ".auction-location, .location",
		Mileage:   ".mileage",
		Link:      "a[href*='/auctions/'], a[href]",
		Image:     "img",
		NoReserve: ".no-reserve, .badge",
		Next:      "a[rel='next'], li.next a, .pagination a.next",
	}
}

// ParseCards extracts one raw record per card under root. Relative links are
// resolved against base when it is set.
func ParseCards(root *goquery.Selection, base *url.URL, sel Selectors) []models.RawRecord {
	resolve := func(ref string) string {
		if ref == "" || base == nil {
			return ref
		}
		parsed, err := url.Parse(ref)
		if err != nil {
			return ref
		}
		return base.ResolveReference(parsed).String()
	}

	var records []models.RawRecord
	root.Find(sel.Card).Each(func(_ int, card *goquery.Selection) {
		if rec := parseCard(card, sel, resolve); rec != nil {
			records = append(records, rec)
		}
	})
	return records
}

// parseCard returns nil for cards without a title or link, which are
// placeholders and ads rather than auctions.
func parseCard(card *goquery.Selection, sel Selectors, resolve func(string) string) models.RawRecord {
	rec := models.RawRecord{}

	setText := func(key, selector string) {
		if selector == "" {
			return
		}
		if text := parser.NormalizeText(card.Find(selector).First().Text()); text != "" {
			rec[key] = text
		}
	}

	setText("title", sel.Title)
	setText("subtitle", sel.Subtitle)
	setText("bid", sel.Bid)
	setText("bidCount", sel.BidCount)
	setText("timeLeft", sel.TimeLeft)
	setText("location", sel.Location)
	setText("mileage", sel.Mileage)
	setText("badge", sel.NoReserve)

	if href, ok := card.Find(sel.Link).First().Attr("href"); ok && strings.TrimSpace(href) != "" {
		rec["url"] = resolve(strings.TrimSpace(href))
	}
	if img := card.Find(sel.Image).First(); img.Length() > 0 {
		src := img.AttrOr("src", "")
		if src == "" {
			src = img.AttrOr("data-src", "")
		}
		if src != "" {
			rec["image"] = resolve(src)
		}
	}

	// Structured attributes beat the visible text.
	if end, ok := card.Attr("data-end-time"); ok && end != "" {
		rec["endTime"] = end
	}
	if bid, ok := card.Attr("data-current-bid"); ok && bid != "" {
		rec["currentBid"] = bid
	}
	if slug, ok := card.Attr("data-auction-id"); ok && slug != "" {
		rec["slug"] = slug
	}

	if _, ok := rec["title"]; !ok {
		return nil
	}
	if _, ok := rec["url"]; !ok {
		if _, ok := rec["slug"]; !ok {
			return nil
		}
	}
	return rec
}
