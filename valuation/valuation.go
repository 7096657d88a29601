// Package valuation estimates market values and scores auction deals.
//
// The market value is a heuristic: the current bid scaled by a desirability
// premium and an age bonus. It is meant for ranking, not appraisal.
package valuation

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

type premium struct {
	pattern    *regexp.Regexp
	multiplier decimal.Decimal
}

func p(pattern string, multiplier float64) premium {
	return premium{
		pattern:    regexp.MustCompile(pattern),
		multiplier: decimal.NewFromFloat(multiplier),
	}
}

// premiums is matched against lowercased "make model". The first match wins,
// so specific models must stay ahead of marque-wide entries.
var premiums = []premium{
	p(`ferrari (f40|f50|enzo|laferrari)`, 3.0),
	p(`mercedes.* 300sl`, 3.0),
	p(`porsche (959|carrera gt)`, 3.0),
	p(`lexus lfa`, 3.0),
	p(`lamborghini (miura|countach)`, 2.8),
	p(`bmw m1\b`, 2.8),
	p(`toyota 2000gt`, 2.8),
	p(`ford gt\d*\b`, 2.5),
	p(`jaguar (e-type|xke)`, 2.2),
	p(`shelby`, 2.2),
	p(`porsche (911|356|550)`, 2.0),
	p(`(acura|honda) nsx`, 2.0),
	p(`toyota (supra|land)`, 1.9),
	p(`nissan (skyline|gt-?r)`, 1.9),
	p(`bmw (m2|m3|m5|m6|z8)\b`, 1.8),
	p(`plymouth (barracuda|cuda|road)`, 1.8),
	p(`ferrari`, 1.7),
	p(`mazda rx-?7`, 1.7),
	p(`lamborghini`, 1.6),
	p(`aston martin`, 1.6),
	p(`ford bronco`, 1.6),
	p(`porsche`, 1.5),
	p(`mercedes.* (amg|190e|g\d*|sl\d*)\b`, 1.5),
	p(`land rover`, 1.5),
	p(`alfa romeo`, 1.5),
	p(`chevrolet (corvette|camaro|chevelle|c10)`, 1.5),
	p(`dodge (viper|challenger|charger)`, 1.5),
	p(`pontiac (gto|firebird|trans)`, 1.5),
	p(`ford mustang`, 1.5),
	p(`lotus`, 1.4),
	p(`audi (quattro|r8|rs\d*)\b`, 1.4),
	p(`jeep (wrangler|cj\d*|wagoneer)`, 1.4),
	p(`toyota (4runner|fj|tacoma)`, 1.4),
	p(`(volkswagen|vw) (bus|beetle|vanagon|type)`, 1.4),
	p(`subaru (wrx|impreza|sti)`, 1.3),
}

var (
	defaultMultiplier  = decimal.NewFromFloat(1.3)
	classicBonus       = decimal.NewFromFloat(1.15)
	modernClassicBonus = decimal.NewFromFloat(1.05)
	hundred            = decimal.NewFromInt(100)
)

// EstimateMarketValue returns the heuristic market value in whole dollars,
// rounded to the nearest 100. It is never negative for a non-negative bid.
func EstimateMarketValue(year int, vehicleMake, model string, currentBid int) int {
	if currentBid <= 0 {
		return 0
	}

	value := decimal.NewFromInt(int64(currentBid)).Mul(premiumFor(vehicleMake, model))

	switch {
	case year >= 1970 && year <= 1985:
		value = value.Mul(classicBonus)
	case year >= 1986 && year <= 1995:
		value = value.Mul(modernClassicBonus)
	}

	return int(value.Div(hundred).Round(0).Mul(hundred).IntPart())
}

func premiumFor(vehicleMake, model string) decimal.Decimal {
	key := strings.ToLower(strings.TrimSpace(vehicleMake + " " + model))
	for _, entry := range premiums {
		if entry.pattern.MatchString(key) {
			return entry.multiplier
		}
	}
	return defaultMultiplier
}

// DiscountPct is the percentage the current bid sits below the market value,
// rounded half away from zero. It is 0 when the market value is unknown.
func DiscountPct(marketValue, currentBid int) int {
	if marketValue <= 0 {
		return 0
	}
	mv := decimal.NewFromInt(int64(marketValue))
	diff := mv.Sub(decimal.NewFromInt(int64(currentBid)))
	return int(diff.Mul(hundred).Div(mv).Round(0).IntPart())
}
