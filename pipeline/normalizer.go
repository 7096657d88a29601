package pipeline

import (
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/go-auction-deals/models"
	"github.com/aluiziolira/go-auction-deals/parser"
	"github.com/aluiziolira/go-auction-deals/valuation"
)

// Field precedence. The first rule that yields a value wins.
var (
	titleField = Field[string]{Name: "title", Rules: textsAt("title", "name", "heading")}

	yearField  = Field[int]{Name: "year", Rules: []Rule[int]{yearAt("year"), yearAt("modelYear")}}
	makeField  = Field[string]{Name: "make", Rules: textsAt("make", "manufacturer")}
	modelField = Field[string]{Name: "model", Rules: textsAt("model")}
	trimField  = Field[string]{Name: "trim", Rules: textsAt("trim", "variant")}

	bidField      = Field[int]{Name: "currentBid", Rules: dollarsIn("currentBid", "bid", "price", "current_bid", "highBid")}
	bidCountField = Field[int]{Name: "bidCount", Rules: countsIn("bidCount", "bids", "numBids", "bid_count")}
	mileageField  = Field[int]{Name: "mileage", Rules: countsIn("mileage", "miles", "odometer")}

	noReserveField = Field[bool]{Name: "noReserve", Rules: []Rule[bool]{
		flagAt("noReserve"),
		flagAt("no_reserve"),
		negatedFlagAt("hasReserve"),
		negatedFlagAt("reserve"),
		mentionsNoReserve("reserve"),
		mentionsNoReserve("reserveStatus"),
		mentionsNoReserve("badge"),
		mentionsNoReserve("title"),
		mentionsNoReserve("subtitle"),
	}}

	endTimeField  = Field[time.Time]{Name: "endTime", Rules: timesIn("endTime", "endsAt", "end_time", "auctionEnd", "endDate")}
	timeLeftField = Field[string]{Name: "timeLeft", Rules: textsAt("timeLeft", "timeRemaining", "time_left", "countdown", "endsIn")}

	locationField = Field[string]{Name: "location", Rules: textsAt("location", "city", "region"), Default: models.DefaultLocation}
	imageField    = Field[string]{Name: "image", Rules: textsAt("image", "imageUrl", "img", "thumbnail", "photo")}
	urlField      = Field[string]{Name: "url", Rules: textsAt("url", "link", "href")}
	slugField     = Field[string]{Name: "slug", Rules: textsAt("slug", "id")}
)

// Normalizer maps raw records onto the canonical Listing shape.
type Normalizer struct {
	base *url.URL
}

// NewNormalizer resolves relative links and slugs against baseURL.
func NewNormalizer(baseURL string) *Normalizer {
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		base = nil
	}
	return &Normalizer{base: base}
}

// Normalize builds a Listing from rec. index is the record's position in the
// extraction and now is the normalization timestamp. It never fails; missing
// fields fall back to their defaults.
func (n *Normalizer) Normalize(rec models.RawRecord, index int, now time.Time) *models.Listing {
	title := titleField.Resolve(rec)
	vehicle := n.vehicle(rec, title)

	bid := bidField.Resolve(rec)
	bidCount := bidCountField.Resolve(rec)
	noReserve := noReserveField.Resolve(rec)
	hoursLeft := n.hoursLeft(rec, now)

	marketValue := valuation.EstimateMarketValue(vehicle.Year, vehicle.Make, vehicle.Model, bid)
	discount := valuation.DiscountPct(marketValue, bid)

	return &models.Listing{
		ID:          lotID(index),
		Title:       title,
		Year:        vehicle.Year,
		Make:        vehicle.Make,
		Model:       vehicle.Model,
		Trim:        vehicle.Trim,
		CurrentBid:  bid,
		MarketValue: marketValue,
		DiscountPct: discount,
		HoursLeft:   hoursLeft,
		BidCount:    bidCount,
		NoReserve:   noReserve,
		DealScore:   valuation.DealScore(discount, hoursLeft, bidCount, noReserve),
		Mileage:     mileageField.Resolve(rec),
		URL:         n.link(rec),
		Image:       n.resolve(imageField.Resolve(rec)),
		Location:    locationField.Resolve(rec),
		ScrapedAt:   now,
	}
}

// Bid returns the current bid the normalizer would assign to rec.
func (n *Normalizer) Bid(rec models.RawRecord) (int, bool) {
	return bidField.Lookup(rec)
}

func (n *Normalizer) vehicle(rec models.RawRecord, title string) models.Vehicle {
	if yearField.Has(rec) || makeField.Has(rec) || modelField.Has(rec) {
		return models.Vehicle{
			Year:  yearField.Resolve(rec),
			Make:  makeField.Resolve(rec),
			Model: modelField.Resolve(rec),
			Trim:  trimField.Resolve(rec),
		}
	}
	vehicle := parser.ParseTitle(title)
	if trim := trimField.Resolve(rec); trim != "" && vehicle.Trim == "" {
		vehicle.Trim = trim
	}
	return vehicle
}

func (n *Normalizer) hoursLeft(rec models.RawRecord, now time.Time) float64 {
	if end, ok := endTimeField.Lookup(rec); ok {
		return math.Max(0, end.Sub(now).Hours())
	}
	return math.Max(0, parser.ParseTimeLeft(timeLeftField.Resolve(rec)))
}

func (n *Normalizer) link(rec models.RawRecord) string {
	if u := urlField.Resolve(rec); u != "" {
		return n.resolve(u)
	}
	slug := strings.Trim(slugField.Resolve(rec), "/")
	if slug == "" || n.base == nil {
		return ""
	}
	return n.base.JoinPath("auctions", slug).String()
}

func (n *Normalizer) resolve(ref string) string {
	if ref == "" || n.base == nil {
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return n.base.ResolveReference(parsed).String()
}

const lotPrefix = "lot-"

func lotID(index int) string {
	return lotPrefix + strconv.Itoa(index+1)
}

func lotIndex(id string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(id, lotPrefix))
	if err != nil {
		return math.MaxInt
	}
	return n - 1
}
