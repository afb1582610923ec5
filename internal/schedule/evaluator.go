// Package schedule places scan times relative to a course's timetable.
package schedule

import (
	"strings"
	"time"

	"github.com/Proged2021/Time-card-app-V2/internal/model"
)

// DefaultActiveWindow applies when a course does not set one.
const DefaultActiveWindow = 90

// Evaluator does all calendar arithmetic in a single reference zone. The
// ledger uses the same zone so "today" means the same thing on both sides.
type Evaluator struct {
	Location *time.Location
}

// NewEvaluator returns an evaluator for loc (UTC when nil).
func NewEvaluator(loc *time.Location) Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	return Evaluator{Location: loc}
}

func (e Evaluator) loc() *time.Location {
	if e.Location == nil {
		return time.UTC
	}
	return e.Location
}

// Local converts t into the reference zone.
func (e Evaluator) Local(t time.Time) time.Time {
	return t.In(e.loc())
}

// StartOfDay returns local midnight of t's calendar day.
func (e Evaluator) StartOfDay(t time.Time) time.Time {
	y, m, d := t.In(e.loc()).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, e.loc())
}

// Date formats t's calendar day as YYYY-MM-DD.
func (e Evaluator) Date(t time.Time) string {
	return t.In(e.loc()).Format("2006-01-02")
}

// ParseDate reads a YYYY-MM-DD day as local midnight.
func (e Evaluator) ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", s, e.loc())
}

// CourseStart is the course's start on t's day.
func (e Evaluator) CourseStart(c model.Course, t time.Time) time.Time {
	start := e.StartOfDay(t)
	return time.Date(start.Year(), start.Month(), start.Day(), 0, int(c.StartTime), 0, 0, e.loc())
}

func activeWindow(c model.Course) time.Duration {
	if c.ActiveWindowMinutes <= 0 {
		return DefaultActiveWindow * time.Minute
	}
	return time.Duration(c.ActiveWindowMinutes) * time.Minute
}

// IsWindowOpen reports start <= now <= start+activeWindow, both ends inclusive.
func (e Evaluator) IsWindowOpen(c model.Course, now time.Time) bool {
	start := e.CourseStart(c, now)
	end := start.Add(activeWindow(c))
	return !now.Before(start) && !now.After(end)
}

// Classify compares the scan with the start. A scan before the start is on time.
func (e Evaluator) Classify(c model.Course, scanTime time.Time) model.Classification {
	delta := scanTime.Sub(e.CourseStart(c, scanTime)).Minutes()
	if delta <= float64(c.ToleranceMinutes) {
		return model.OnTime
	}
	return model.Late
}

// IsEligible is true when the course has no audience restriction or the
// student shares at least one group with it.
func (e Evaluator) IsEligible(c model.Course, s model.Student) bool {
	if len(c.EligibleGroups) == 0 {
		return true
	}
	allowed := make(map[string]struct{}, len(c.EligibleGroups))
	for _, g := range c.EligibleGroups {
		allowed[normalizeGroup(g)] = struct{}{}
	}
	for _, g := range s.GroupTags {
		if _, ok := allowed[normalizeGroup(g)]; ok {
			return true
		}
	}
	return false
}

func normalizeGroup(g string) string {
	return strings.ToLower(strings.TrimSpace(g))
}
