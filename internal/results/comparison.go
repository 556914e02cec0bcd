package results

import (
	"math"
	"sort"

	"github.com/crzyc98/planwise-navigator-sub000/internal/faults"
	"github.com/crzyc98/planwise-navigator-sub000/internal/logging"
)

// Event types surfaced by scenario comparisons, in display order.
var comparedEventTypes = []string{"HIRE", "TERMINATION", "PROMOTION", "RAISE"}

// YearMetrics is one scenario's metric set for one year. Rates carry
// percentages rounded to two decimals, not fractions; dollar amounts are raw.
type YearMetrics struct {
	Headcount             int     `json:"headcount"`
	Active                int     `json:"active"`
	Terminated            int     `json:"terminated"`
	NewHires              int     `json:"new_hires"`
	GrowthPct             float64 `json:"growth_pct"`
	ParticipationRate     float64 `json:"participation_rate"`
	AvgDeferralRate       float64 `json:"avg_deferral_rate"`
	EmployeeContributions float64 `json:"employee_contributions"`
	TotalEmployerCost     float64 `json:"total_employer_cost"`
	EmployerCostRate      float64 `json:"employer_cost_rate"`
}

// YearDeltas is scenario − baseline for every YearMetrics field.
type YearDeltas struct {
	Headcount             Delta `json:"headcount"`
	Active                Delta `json:"active"`
	Terminated            Delta `json:"terminated"`
	NewHires              Delta `json:"new_hires"`
	GrowthPct             Delta `json:"growth_pct"`
	ParticipationRate     Delta `json:"participation_rate"`
	AvgDeferralRate       Delta `json:"avg_deferral_rate"`
	EmployeeContributions Delta `json:"employee_contributions"`
	TotalEmployerCost     Delta `json:"total_employer_cost"`
	EmployerCostRate      Delta `json:"employer_cost_rate"`
}

// YearComparison holds every scenario's metrics and baseline deltas for one
// year. Maps are keyed by scenario id; the baseline's deltas are all zero.
type YearComparison struct {
	Year   int                    `json:"year"`
	Values map[string]YearMetrics `json:"values"`
	Deltas map[string]YearDeltas  `json:"deltas"`
}

// EventComparison is one (event type, year) cell across all scenarios.
// Deltas are count differences against the baseline.
type EventComparison struct {
	Year      int            `json:"year"`
	EventType string         `json:"event_type"`
	Counts    map[string]int `json:"counts"`
	Deltas    map[string]int `json:"deltas"`
}

// ScenarioSummary is a scenario's end state: the final simulated year plus
// total growth across the whole horizon.
type ScenarioSummary struct {
	FinalHeadcount         int     `json:"final_headcount"`
	TotalGrowthPct         float64 `json:"total_growth_pct"`
	FinalParticipationRate float64 `json:"final_participation_rate"`
	FinalEmployerCost      float64 `json:"final_employer_cost"`
}

// SummaryDeltas is scenario − baseline over the summary fields.
type SummaryDeltas struct {
	FinalHeadcount         Delta `json:"final_headcount"`
	TotalGrowthPct         Delta `json:"total_growth_pct"`
	FinalParticipationRate Delta `json:"final_participation_rate"`
	FinalEmployerCost      Delta `json:"final_employer_cost"`
}

// Comparison is the full cross-scenario comparison for one workspace.
type Comparison struct {
	WorkspaceID   string                     `json:"workspace_id"`
	BaselineID    string                     `json:"baseline_id"`
	ScenarioIDs   []string                   `json:"scenario_ids"`
	Names         map[string]string          `json:"names"`
	Years         []YearComparison           `json:"years"`
	Events        []EventComparison          `json:"events"`
	Summary       map[string]ScenarioSummary `json:"summary"`
	SummaryDeltas map[string]SummaryDeltas   `json:"summary_deltas"`
}

// scenarioData is everything Compare reads out of one scenario's database.
type scenarioData struct {
	years  map[int]YearMetrics
	events map[int]map[string]int
	sum    ScenarioSummary
}

// Compare builds a baseline-relative comparison across scenarios of one
// workspace. The baseline is added to the set when absent; the expanded set
// must hold at least two scenarios, each with a readable results database.
func (r *Reader) Compare(workspaceID, baselineID string, scenarioIDs []string) (*Comparison, error) {
	timer := logging.StartTimer(logging.CategoryResults, "compare "+workspaceID)
	defer timer.Stop()

	if baselineID == "" {
		return nil, faults.New(faults.Validation, "comparison needs a baseline scenario id")
	}
	ids := normalizeScenarioSet(baselineID, scenarioIDs)
	if len(ids) < 2 {
		return nil, faults.New(faults.Validation, "comparison needs at least two scenarios, got %d", len(ids))
	}

	cmp := &Comparison{
		WorkspaceID:   workspaceID,
		BaselineID:    baselineID,
		ScenarioIDs:   ids,
		Names:         make(map[string]string, len(ids)),
		Summary:       make(map[string]ScenarioSummary, len(ids)),
		SummaryDeltas: make(map[string]SummaryDeltas, len(ids)),
	}

	data := make(map[string]*scenarioData, len(ids))
	for _, id := range ids {
		sc, ok, err := r.store.GetScenario(workspaceID, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, faults.New(faults.NotFound, "scenario %s not found in workspace %s", id, workspaceID)
		}
		cmp.Names[id] = sc.Name

		d, err := r.readScenarioData(workspaceID, id)
		if err != nil {
			return nil, err
		}
		data[id] = d
		cmp.Summary[id] = d.sum
	}

	base := data[baselineID]
	for _, year := range unionYears(data) {
		yc := YearComparison{
			Year:   year,
			Values: make(map[string]YearMetrics, len(ids)),
			Deltas: make(map[string]YearDeltas, len(ids)),
		}
		baseline := base.years[year]
		for _, id := range ids {
			m := data[id].years[year]
			yc.Values[id] = m
			yc.Deltas[id] = deltasOf(m, baseline)
		}
		cmp.Years = append(cmp.Years, yc)

		for _, et := range comparedEventTypes {
			ec := EventComparison{
				Year:      year,
				EventType: et,
				Counts:    make(map[string]int, len(ids)),
				Deltas:    make(map[string]int, len(ids)),
			}
			baseCount := base.events[year][et]
			for _, id := range ids {
				n := data[id].events[year][et]
				ec.Counts[id] = n
				ec.Deltas[id] = n - baseCount
			}
			cmp.Events = append(cmp.Events, ec)
		}
	}

	for _, id := range ids {
		s := data[id].sum
		cmp.SummaryDeltas[id] = SummaryDeltas{
			FinalHeadcount:         DeltaOf(float64(s.FinalHeadcount), float64(base.sum.FinalHeadcount)),
			TotalGrowthPct:         DeltaOf(s.TotalGrowthPct, base.sum.TotalGrowthPct),
			FinalParticipationRate: DeltaOf(s.FinalParticipationRate, base.sum.FinalParticipationRate),
			FinalEmployerCost:      DeltaOf(s.FinalEmployerCost, base.sum.FinalEmployerCost),
		}
	}

	logging.Results("compared %d scenarios in %s over %d years (baseline %s)",
		len(ids), workspaceID, len(cmp.Years), baselineID)
	return cmp, nil
}

// readScenarioData opens one scenario's results and collapses them into
// per-year metrics, event counts and the end-state summary.
func (r *Reader) readScenarioData(workspaceID, scenarioID string) (*scenarioData, error) {
	res, err := r.Open(workspaceID, scenarioID)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	years, err := res.comparisonYears()
	if err != nil {
		return nil, err
	}
	plans, err := res.DCPlanAggregates()
	if err != nil {
		return nil, err
	}
	trends, err := res.EventTrends()
	if err != nil {
		return nil, err
	}

	d := &scenarioData{
		years:  make(map[int]YearMetrics, len(years)),
		events: make(map[int]map[string]int),
	}
	for _, y := range years {
		d.years[y.Year] = YearMetrics{
			Headcount:  y.Headcount,
			Active:     y.Active,
			Terminated: y.Terminated,
			NewHires:   y.NewHires,
			GrowthPct:  round2(y.GrowthPct),
		}
	}
	for _, p := range plans {
		m := d.years[p.Year]
		m.ParticipationRate = round2(p.ParticipationRate * 100)
		m.AvgDeferralRate = round2(p.AvgDeferralRate * 100)
		m.EmployeeContributions = p.EmployeeContributions
		m.TotalEmployerCost = p.EmployerContributions
		m.EmployerCostRate = round2(p.EmployerCostRate * 100)
		d.years[p.Year] = m
	}
	for _, t := range trends {
		if d.events[t.Year] == nil {
			d.events[t.Year] = make(map[string]int)
		}
		d.events[t.Year][t.EventType] = t.Count
	}

	if len(years) > 0 {
		first, last := years[0], years[len(years)-1]
		finalYear := d.years[last.Year]
		d.sum = ScenarioSummary{
			FinalHeadcount:         last.Active,
			TotalGrowthPct:         round2(TotalGrowthPct(float64(first.Active), float64(last.Active))),
			FinalParticipationRate: finalYear.ParticipationRate,
			FinalEmployerCost:      finalYear.TotalEmployerCost,
		}
	}
	return d, nil
}

func deltasOf(m, base YearMetrics) YearDeltas {
	return YearDeltas{
		Headcount:             DeltaOf(float64(m.Headcount), float64(base.Headcount)),
		Active:                DeltaOf(float64(m.Active), float64(base.Active)),
		Terminated:            DeltaOf(float64(m.Terminated), float64(base.Terminated)),
		NewHires:              DeltaOf(float64(m.NewHires), float64(base.NewHires)),
		GrowthPct:             DeltaOf(m.GrowthPct, base.GrowthPct),
		ParticipationRate:     DeltaOf(m.ParticipationRate, base.ParticipationRate),
		AvgDeferralRate:       DeltaOf(m.AvgDeferralRate, base.AvgDeferralRate),
		EmployeeContributions: DeltaOf(m.EmployeeContributions, base.EmployeeContributions),
		TotalEmployerCost:     DeltaOf(m.TotalEmployerCost, base.TotalEmployerCost),
		EmployerCostRate:      DeltaOf(m.EmployerCostRate, base.EmployerCostRate),
	}
}

// normalizeScenarioSet prepends the baseline when missing and drops
// duplicates while keeping the caller's order.
func normalizeScenarioSet(baselineID string, scenarioIDs []string) []string {
	out := make([]string, 0, len(scenarioIDs)+1)
	seen := map[string]bool{}
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	add(baselineID)
	for _, id := range scenarioIDs {
		add(id)
	}
	return out
}

func unionYears(data map[string]*scenarioData) []int {
	seen := map[int]bool{}
	for _, d := range data {
		for y := range d.years {
			seen[y] = true
		}
		for y := range d.events {
			seen[y] = true
		}
	}
	years := make([]int, 0, len(seen))
	for y := range seen {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
