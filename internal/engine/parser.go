// Package engine launches the external workforce simulator and turns its
// merged stdout/stderr stream into structured progress state. The parser is
// deliberately forgiving: simulator output is free-form text and a line that
// matches nothing must leave state untouched.
package engine

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/crzyc98/planwise-navigator-sub000/internal/telemetry"
)

// Simulation stages in pipeline order. COMPLETED and FAILED are terminal
// markers set by the executor, never matched from output.
const (
	StageInitialization    = "INITIALIZATION"
	StageFoundation        = "FOUNDATION"
	StageEventGeneration   = "EVENT_GENERATION"
	StageStateAccumulation = "STATE_ACCUMULATION"
	StageValidation        = "VALIDATION"
	StageReporting         = "REPORTING"
	StageCompleted         = "COMPLETED"
	StageFailed            = "FAILED"
)

// DefaultRecentEvents bounds the parser's newest-first event ring.
const DefaultRecentEvents = 20

var (
	yearAfterRe  = regexp.MustCompile(`(?i)\byear\D{0,5}(\d{4})\b`)
	yearBeforeRe = regexp.MustCompile(`(?i)\b(\d{4})\D{0,5}year`)
	eventCountRe = regexp.MustCompile(`(?i)\b(\d+)\s+events?\b`)
	eventLineRe  = regexp.MustCompile(`\b(HIRE|TERMINATION|PROMOTION|RAISE|ENROLLMENT)[:\s]+(\S+)`)
)

// stagePatterns map output phrasing to a stage. Checked in pipeline order;
// the first match wins.
var stagePatterns = []struct {
	stage string
	re    *regexp.Regexp
}{
	{StageInitialization, regexp.MustCompile(`(?i)initializ|loading config|starting setup`)},
	{StageFoundation, regexp.MustCompile(`(?i)foundation|baseline workforce|census`)},
	// Event tokens stay case-sensitive: a traceback's "raise" must not
	// read as stage activity.
	{StageEventGeneration, regexp.MustCompile(`(?i:event[_ ]generation|generating)|\b(?:HIRE|TERMINATION|PROMOTION|RAISE|ENROLLMENT)\b`)},
	{StageStateAccumulation, regexp.MustCompile(`(?i)state[_ ]accumulation|accumulat|workforce snapshot`)},
	{StageValidation, regexp.MustCompile(`(?i)validat|data quality`)},
	{StageReporting, regexp.MustCompile(`(?i)report`)},
}

// stageTitle renders EVENT_GENERATION as "Event Generation" for event text.
func stageTitle(stage string) string {
	words := strings.Split(strings.ToLower(stage), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// Severity of one output line, used for log routing.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityDebug   Severity = "debug"
)

// ClassifyLine routes a raw output line to a log level by substring.
func ClassifyLine(line string) Severity {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "error"),
		strings.Contains(lower, "exception"),
		strings.Contains(lower, "traceback"),
		strings.Contains(lower, "fatal"):
		return SeverityError
	case strings.Contains(lower, "warn"):
		return SeverityWarning
	default:
		return SeverityDebug
	}
}

// Parser accumulates run progress from simulator output, one line at a time.
// It is single-threaded per run; the executor owns it exclusively.
type Parser struct {
	startYear   int
	totalYears  int
	recentLimit int

	currentYear     int
	currentStage    string
	eventsGenerated int
	recentEvents    []telemetry.RecentEvent
}

// NewParser creates a parser for a run spanning [startYear, endYear].
// recentLimit <= 0 selects DefaultRecentEvents.
func NewParser(startYear, endYear, recentLimit int) *Parser {
	total := endYear - startYear + 1
	if total < 1 {
		total = 1
	}
	if recentLimit <= 0 {
		recentLimit = DefaultRecentEvents
	}
	return &Parser{
		startYear:   startYear,
		totalYears:  total,
		recentLimit: recentLimit,
	}
}

// ParseLine folds one output line into the parser state and reports whether
// anything changed. It never fails: unrecognized input is a no-op.
func (p *Parser) ParseLine(line string) bool {
	if line == "" {
		return false
	}
	changed := false

	if year, ok := p.matchYear(line); ok && year != p.currentYear {
		p.currentYear = year
		p.pushEvent("INFO", "Processing year "+strconv.Itoa(year))
		changed = true
	}

	for _, sp := range stagePatterns {
		if sp.re.MatchString(line) {
			if sp.stage != p.currentStage {
				p.currentStage = sp.stage
				p.pushEvent("STAGE", "Entering "+stageTitle(sp.stage))
				changed = true
			}
			break
		}
	}

	if m := eventCountRe.FindStringSubmatch(line); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n != p.eventsGenerated {
			// The engine reports running totals, so set rather than add.
			p.eventsGenerated = n
			changed = true
		}
	}

	if m := eventLineRe.FindStringSubmatch(line); m != nil {
		p.pushEvent(m[1], m[1]+": "+m[2])
		changed = true
	}

	return changed
}

// matchYear extracts a four-digit year adjacent to the word "year". Years
// outside the configured range are ignored so noise like port numbers or
// row counts cannot move the clock.
func (p *Parser) matchYear(line string) (int, bool) {
	m := yearAfterRe.FindStringSubmatch(line)
	if m == nil {
		m = yearBeforeRe.FindStringSubmatch(line)
	}
	if m == nil {
		return 0, false
	}
	year, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	if p.startYear > 0 {
		if year < p.startYear || year > p.startYear+p.totalYears-1 {
			return 0, false
		}
	}
	return year, true
}

func (p *Parser) pushEvent(eventType, description string) {
	ev := telemetry.RecentEvent{
		EventType:   eventType,
		Description: description,
		Timestamp:   time.Now().UTC(),
	}
	p.recentEvents = append([]telemetry.RecentEvent{ev}, p.recentEvents...)
	if len(p.recentEvents) > p.recentLimit {
		p.recentEvents = p.recentEvents[:p.recentLimit]
	}
}

// Progress derives completion percent in [0, 99]. The executor publishes 100
// only on its terminal snapshot.
func (p *Parser) Progress() int {
	year := p.currentYear
	if year == 0 {
		year = p.startYear
	}
	frac := float64(year-p.startYear) / float64(p.totalYears)
	progress := int(math.Round(frac*100 + 10))
	if progress < 0 {
		return 0
	}
	if progress > 99 {
		return 99
	}
	return progress
}

// CurrentYear returns the simulation year last seen, 0 before the first.
func (p *Parser) CurrentYear() int { return p.currentYear }

// CurrentStage returns the pipeline stage last seen, "" before the first.
func (p *Parser) CurrentStage() string { return p.currentStage }

// EventsGenerated returns the engine's last reported running total.
func (p *Parser) EventsGenerated() int { return p.eventsGenerated }

// StartYear returns the configured first simulation year.
func (p *Parser) StartYear() int { return p.startYear }

// TotalYears returns the configured span length.
func (p *Parser) TotalYears() int { return p.totalYears }

// RecentEvents returns a copy of the bounded ring, newest first.
func (p *Parser) RecentEvents() []telemetry.RecentEvent {
	out := make([]telemetry.RecentEvent, len(p.recentEvents))
	copy(out, p.recentEvents)
	return out
}
