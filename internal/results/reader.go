package results

import (
	"database/sql"

	sqrl "github.com/Masterminds/squirrel"

	"github.com/crzyc98/planwise-navigator-sub000/internal/config"
	"github.com/crzyc98/planwise-navigator-sub000/internal/faults"
	"github.com/crzyc98/planwise-navigator-sub000/internal/logging"
	"github.com/crzyc98/planwise-navigator-sub000/internal/workspace"
)

// Engine result tables. Only these two are contractual.
const (
	tableWorkforce = "fct_workforce_snapshot"
	tableEvents    = "fct_yearly_events"
)

// Reader opens scenario result databases and answers the standard queries.
type Reader struct {
	store    *workspace.Store
	settings *config.Settings
}

// NewReader creates a reader over the store.
func NewReader(store *workspace.Store, settings *config.Settings) *Reader {
	return &Reader{store: store, settings: settings}
}

// ScenarioResults is one scenario's opened result database, filtered to the
// scenario's configured year range.
type ScenarioResults struct {
	db        *sql.DB
	Location  Location
	StartYear int
	EndYear   int
}

// Open resolves and opens the results database for a scenario. It refuses
// while the scenario is mid-simulation: the engine holds the database
// read-write for the duration of a run.
func (r *Reader) Open(workspaceID, scenarioID string) (*ScenarioResults, error) {
	sc, ok, err := r.store.GetScenario(workspaceID, scenarioID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, faults.New(faults.NotFound, "scenario %s not found in workspace %s", scenarioID, workspaceID)
	}
	if sc.Status == workspace.ScenarioRunning || sc.Status == workspace.ScenarioQueued {
		return nil, faults.New(faults.Conflict, "scenario %q is running; results are unavailable until it finishes", sc.Name)
	}

	loc := Resolve(r.store, r.settings, workspaceID, scenarioID)
	if loc.Source == SourceAbsent {
		return nil, faults.New(faults.NotFound, "no results database for scenario %q; run a simulation first", sc.Name)
	}

	cfg, err := r.store.MergedConfig(workspaceID, scenarioID)
	if err != nil {
		return nil, err
	}
	startYear, _ := workspace.GetInt(cfg, "simulation", "start_year")
	endYear, _ := workspace.GetInt(cfg, "simulation", "end_year")

	dsn := loc.Path
	if r.settings.Engine.DriverName == "duckdb" {
		dsn += "?access_mode=read_only"
	}
	db, err := sql.Open(r.settings.Engine.DriverName, dsn)
	if err != nil {
		return nil, faults.Wrap(faults.IO, err, "failed to open results database")
	}

	logging.ResultsDebug("opened %s (%s) years %d-%d", loc.Path, loc.Source, startYear, endYear)
	return &ScenarioResults{db: db, Location: loc, StartYear: startYear, EndYear: endYear}, nil
}

// Close releases the underlying database handle.
func (s *ScenarioResults) Close() error {
	return s.db.Close()
}

// hasTable probes for a table. Result databases from older engine versions
// may lack some tables; queries over those return empty sections.
func (s *ScenarioResults) hasTable(name string) bool {
	rows, err := s.db.Query("SELECT * FROM " + name + " WHERE 1=0")
	if err != nil {
		return false
	}
	rows.Close()
	return true
}

func (s *ScenarioResults) yearRange() sqrl.Sqlizer {
	return sqrl.And{
		sqrl.GtOrEq{"simulation_year": s.StartYear},
		sqrl.LtOrEq{"simulation_year": s.EndYear},
	}
}

// WorkforceProgression returns per-year headcount and compensation. The
// headcount counts active employees; compensation aggregates cover everyone
// on the snapshot, with active_avg broken out.
func (s *ScenarioResults) WorkforceProgression() ([]WorkforceYear, error) {
	if !s.hasTable(tableWorkforce) {
		return []WorkforceYear{}, nil
	}

	query, args, err := sqrl.Select(
		"simulation_year",
		"SUM(CASE WHEN employment_status = 'active' THEN 1 ELSE 0 END)",
		"AVG(prorated_annual_compensation)",
		"SUM(prorated_annual_compensation)",
		"AVG(CASE WHEN employment_status = 'active' THEN prorated_annual_compensation END)",
	).From(tableWorkforce).
		Where(s.yearRange()).
		GroupBy("simulation_year").
		OrderBy("simulation_year").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, faults.Wrap(faults.IO, err, "workforce progression query failed")
	}
	defer rows.Close()

	out := []WorkforceYear{}
	for rows.Next() {
		var (
			y                WorkforceYear
			headcount        sql.NullInt64
			avg, sum, active sql.NullFloat64
		)
		if err := rows.Scan(&y.Year, &headcount, &avg, &sum, &active); err != nil {
			return nil, err
		}
		y.Headcount = int(headcount.Int64)
		y.AvgCompensation = avg.Float64
		y.TotalCompensation = sum.Float64
		y.ActiveAvgCompensation = active.Float64
		out = append(out, y)
	}
	return out, rows.Err()
}

// CompensationByStatus breaks compensation down by detailed status per year.
func (s *ScenarioResults) CompensationByStatus() ([]CompensationBand, error) {
	if !s.hasTable(tableWorkforce) {
		return []CompensationBand{}, nil
	}

	query, args, err := sqrl.Select(
		"simulation_year",
		"detailed_status_code",
		"COUNT(*)",
		"AVG(prorated_annual_compensation)",
	).From(tableWorkforce).
		Where(s.yearRange()).
		GroupBy("simulation_year", "detailed_status_code").
		OrderBy("simulation_year", "detailed_status_code").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, faults.Wrap(faults.IO, err, "compensation query failed")
	}
	defer rows.Close()

	out := []CompensationBand{}
	for rows.Next() {
		var (
			b      CompensationBand
			status sql.NullString
			avg    sql.NullFloat64
		)
		if err := rows.Scan(&b.Year, &status, &b.Count, &avg); err != nil {
			return nil, err
		}
		b.DetailedStatusCode = status.String
		b.AvgCompensation = avg.Float64
		out = append(out, b)
	}
	return out, rows.Err()
}

// EventTrends counts events per (event_type, year).
func (s *ScenarioResults) EventTrends() ([]EventTrend, error) {
	if !s.hasTable(tableEvents) {
		return []EventTrend{}, nil
	}

	query, args, err := sqrl.Select("event_type", "simulation_year", "COUNT(*)").
		From(tableEvents).
		Where(s.yearRange()).
		GroupBy("event_type", "simulation_year").
		OrderBy("simulation_year", "event_type").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, faults.Wrap(faults.IO, err, "event trends query failed")
	}
	defer rows.Close()

	out := []EventTrend{}
	for rows.Next() {
		var t EventTrend
		if err := rows.Scan(&t.EventType, &t.Year, &t.Count); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ParticipationFinalYear is the enrolled share of active employees in the
// last simulated year, as a fraction.
func (s *ScenarioResults) ParticipationFinalYear() (float64, error) {
	plans, err := s.DCPlanAggregates()
	if err != nil {
		return 0, err
	}
	for _, p := range plans {
		if p.Year == s.EndYear {
			return p.ParticipationRate, nil
		}
	}
	if len(plans) > 0 {
		return plans[len(plans)-1].ParticipationRate, nil
	}
	return 0, nil
}

// DCPlanAggregates returns per-year retirement plan aggregates. Rates are
// derived in code so a year with no active employees reads as zero instead
// of NULL or a division error.
func (s *ScenarioResults) DCPlanAggregates() ([]DCPlanYear, error) {
	if !s.hasTable(tableWorkforce) {
		return []DCPlanYear{}, nil
	}

	query, args, err := sqrl.Select(
		"simulation_year",
		"SUM(CASE WHEN employment_status = 'active' THEN 1 ELSE 0 END)",
		"SUM(CASE WHEN employment_status = 'active' AND is_enrolled_flag THEN 1 ELSE 0 END)",
		"SUM(CASE WHEN is_enrolled_flag THEN current_deferral_rate ELSE 0 END)",
		"SUM(CASE WHEN is_enrolled_flag THEN 1 ELSE 0 END)",
		"SUM(prorated_annual_contributions)",
		"SUM(COALESCE(employer_match_amount, 0) + COALESCE(employer_core_amount, 0))",
		"SUM(prorated_annual_compensation)",
	).From(tableWorkforce).
		Where(s.yearRange()).
		GroupBy("simulation_year").
		OrderBy("simulation_year").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, faults.Wrap(faults.IO, err, "dc plan query failed")
	}
	defer rows.Close()

	out := []DCPlanYear{}
	for rows.Next() {
		var (
			year                             int
			active, activeEnrolled, enrolled sql.NullInt64
			deferralSum                      sql.NullFloat64
			employeeContrib, employerContrib sql.NullFloat64
			totalComp                        sql.NullFloat64
		)
		if err := rows.Scan(&year, &active, &activeEnrolled, &deferralSum, &enrolled,
			&employeeContrib, &employerContrib, &totalComp); err != nil {
			return nil, err
		}

		p := DCPlanYear{
			Year:                  year,
			EmployeeContributions: employeeContrib.Float64,
			EmployerContributions: employerContrib.Float64,
		}
		if active.Int64 > 0 {
			p.ParticipationRate = float64(activeEnrolled.Int64) / float64(active.Int64)
		}
		if enrolled.Int64 > 0 {
			p.AvgDeferralRate = deferralSum.Float64 / float64(enrolled.Int64)
		}
		if totalComp.Float64 > 0 {
			p.EmployerCostRate = employerContrib.Float64 / totalComp.Float64
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// comparisonYears returns the workforce shape used by the comparison engine.
// New-hire counts come from the events table when it exists.
func (s *ScenarioResults) comparisonYears() ([]ComparisonYear, error) {
	if !s.hasTable(tableWorkforce) {
		return []ComparisonYear{}, nil
	}

	query, args, err := sqrl.Select(
		"simulation_year",
		"COUNT(*)",
		"SUM(CASE WHEN employment_status = 'active' THEN 1 ELSE 0 END)",
		"SUM(CASE WHEN employment_status = 'terminated' THEN 1 ELSE 0 END)",
	).From(tableWorkforce).
		Where(s.yearRange()).
		GroupBy("simulation_year").
		OrderBy("simulation_year").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, faults.Wrap(faults.IO, err, "comparison workforce query failed")
	}
	defer rows.Close()

	out := []ComparisonYear{}
	for rows.Next() {
		var (
			y                   ComparisonYear
			total, active, term sql.NullInt64
		)
		if err := rows.Scan(&y.Year, &total, &active, &term); err != nil {
			return nil, err
		}
		y.Headcount = int(total.Int64)
		y.Active = int(active.Int64)
		y.Terminated = int(term.Int64)
		out = append(out, y)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// New hires per year, then year-over-year growth of the active count.
	hires := map[int]int{}
	trends, err := s.EventTrends()
	if err != nil {
		return nil, err
	}
	for _, t := range trends {
		if t.EventType == "HIRE" {
			hires[t.Year] = t.Count
		}
	}
	for i := range out {
		out[i].NewHires = hires[out[i].Year]
		if i > 0 && out[i-1].Active > 0 {
			out[i].GrowthPct = TotalGrowthPct(float64(out[i-1].Active), float64(out[i].Active))
		}
	}
	return out, nil
}
