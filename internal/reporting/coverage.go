// Package reporting renders reconciliation reports for people and for other
// tools: a styled console summary, JSON and CSV.
package reporting

import (
	"github.com/shopspring/decimal"

	"github.com/securelens/securelens/internal/domain/elevation"
)

var hundred = decimal.NewFromInt(100)

// Coverage is the share of authorized members who completed at least one
// elevation, as a percentage rounded to one decimal place. ok is false when
// the setting has no authorized members.
func Coverage(res elevation.ApplicationStatisticsResult) (pct decimal.Decimal, ok bool) {
	if res.AuthorizedMembers <= 0 {
		return decimal.Zero, false
	}
	return decimal.NewFromInt(int64(res.UniqueUserCount)).
		Div(decimal.NewFromInt(int64(res.AuthorizedMembers))).
		Mul(hundred).
		Round(1), true
}

// FormatCoverage renders Coverage as "62.5%" or "n/a".
func FormatCoverage(res elevation.ApplicationStatisticsResult) string {
	pct, ok := Coverage(res)
	if !ok {
		return "n/a"
	}
	return pct.StringFixed(1) + "%"
}
