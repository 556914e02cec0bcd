// Package results reads simulation outputs back out of the engine database:
// per-year workforce and DC plan aggregates for one scenario, and deltas
// across scenarios against a chosen baseline.
package results

import "math"

// WorkforceYear is one year of workforce progression.
type WorkforceYear struct {
	Year                  int     `json:"year"`
	Headcount             int     `json:"headcount"`
	AvgCompensation       float64 `json:"avg_compensation"`
	TotalCompensation     float64 `json:"total_compensation"`
	ActiveAvgCompensation float64 `json:"active_avg_compensation"`
}

// CompensationBand is the compensation breakdown for one (year, status) cell.
type CompensationBand struct {
	Year               int     `json:"year"`
	DetailedStatusCode string  `json:"detailed_status_code"`
	Count              int     `json:"count"`
	AvgCompensation    float64 `json:"avg_compensation"`
}

// EventTrend counts one event type in one year.
type EventTrend struct {
	EventType string `json:"event_type"`
	Year      int    `json:"year"`
	Count     int    `json:"count"`
}

// DCPlanYear aggregates defined-contribution plan activity for one year.
// Rates are fractions in [0,1], not percentages.
type DCPlanYear struct {
	Year                  int     `json:"year"`
	ParticipationRate     float64 `json:"participation_rate"`
	AvgDeferralRate       float64 `json:"avg_deferral_rate"`
	EmployeeContributions float64 `json:"employee_contributions"`
	EmployerContributions float64 `json:"employer_contributions"`
	EmployerCostRate      float64 `json:"employer_cost_rate"`
}

// ComparisonYear is one scenario's workforce shape in one year, as used by
// the comparison engine.
type ComparisonYear struct {
	Year       int     `json:"year"`
	Headcount  int     `json:"headcount"`
	Active     int     `json:"active"`
	Terminated int     `json:"terminated"`
	NewHires   int     `json:"new_hires"`
	GrowthPct  float64 `json:"growth_pct"`
}

// Delta is a scenario-minus-baseline difference, absolute and relative.
// Pct is zero when the baseline value is zero.
type Delta struct {
	Value float64 `json:"value"`
	Pct   float64 `json:"pct"`
}

// DeltaOf computes scenario − baseline with a zero-safe percentage.
func DeltaOf(scenario, baseline float64) Delta {
	d := Delta{Value: scenario - baseline}
	if baseline != 0 {
		d.Pct = (scenario - baseline) / baseline * 100
	}
	return d
}

// CAGR returns the compound annual growth rate (end/start)^(1/years) − 1.
// Zero or negative endpoints and non-positive spans return 0 rather than NaN.
func CAGR(start, end float64, years int) float64 {
	if years <= 0 || start <= 0 || end <= 0 {
		return 0
	}
	return math.Pow(end/start, 1/float64(years)) - 1
}

// TotalGrowthPct is the linear growth from start to end, in percent.
func TotalGrowthPct(start, end float64) float64 {
	if start == 0 {
		return 0
	}
	return (end - start) / start * 100
}
