package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proged2021/Time-card-app-V2/internal/model"
)

var jst = time.FixedZone("JST", 9*60*60)

func at(hour, min int) time.Time {
	return time.Date(2026, 10, 19, hour, min, 0, 0, jst)
}

func nineOClock() model.Course {
	return model.Course{ID: "c1", StartTime: 9 * 60, ToleranceMinutes: 15, ActiveWindowMinutes: 90}
}

func TestClassify(t *testing.T) {
	e := NewEvaluator(jst)
	c := nineOClock()

	cases := []struct {
		name string
		at   time.Time
		want model.Classification
	}{
		{"before start", at(8, 58), model.OnTime},
		{"at start", at(9, 0), model.OnTime},
		{"at tolerance", at(9, 15), model.OnTime},
		{"just past tolerance", at(9, 15).Add(time.Second), model.Late},
		{"late", at(9, 16), model.Late},
		{"end of window", at(10, 30), model.Late},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, e.Classify(c, tc.at))
		})
	}
}

func TestClassifyZeroTolerance(t *testing.T) {
	e := NewEvaluator(jst)
	c := nineOClock()
	c.ToleranceMinutes = 0
	assert.Equal(t, model.OnTime, e.Classify(c, at(9, 0)))
	assert.Equal(t, model.Late, e.Classify(c, at(9, 1)))
}

func TestIsWindowOpen(t *testing.T) {
	e := NewEvaluator(jst)
	c := nineOClock()

	assert.False(t, e.IsWindowOpen(c, at(8, 59)))
	assert.True(t, e.IsWindowOpen(c, at(9, 0)))
	assert.True(t, e.IsWindowOpen(c, at(10, 29)))
	assert.True(t, e.IsWindowOpen(c, at(10, 30)))
	assert.False(t, e.IsWindowOpen(c, at(10, 31)))
}

func TestIsWindowOpenUsesReferenceZone(t *testing.T) {
	e := NewEvaluator(jst)
	c := nineOClock()
	// 00:30 UTC is 09:30 in Tokyo.
	assert.True(t, e.IsWindowOpen(c, time.Date(2026, 10, 19, 0, 30, 0, 0, time.UTC)))
	// 09:30 UTC is 18:30 in Tokyo.
	assert.False(t, e.IsWindowOpen(c, time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)))
}

func TestIsWindowOpenDefaultsWindow(t *testing.T) {
	e := NewEvaluator(jst)
	c := nineOClock()
	c.ActiveWindowMinutes = 0
	assert.True(t, e.IsWindowOpen(c, at(10, 30)))
	assert.False(t, e.IsWindowOpen(c, at(10, 31)))
}

func TestIsEligible(t *testing.T) {
	e := NewEvaluator(jst)
	c := nineOClock()

	s := model.Student{SubjectID: "S1", GroupTags: []string{"H"}}
	assert.True(t, e.IsEligible(c, s), "unrestricted course")

	c.EligibleGroups = []string{"U", "P"}
	assert.False(t, e.IsEligible(c, s))

	s.GroupTags = []string{"H", " u "}
	assert.True(t, e.IsEligible(c, s))

	s.GroupTags = nil
	assert.False(t, e.IsEligible(c, s))
}

func TestDateHelpers(t *testing.T) {
	e := NewEvaluator(jst)
	late := time.Date(2026, 10, 18, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-10-19", e.Date(late))
	assert.Equal(t, time.Date(2026, 10, 19, 0, 0, 0, 0, jst), e.StartOfDay(late))

	d, err := e.ParseDate("2026-10-19")
	require.NoError(t, err)
	assert.True(t, d.Equal(e.StartOfDay(late)))
}

func TestFixedClock(t *testing.T) {
	now := at(9, 0)
	var c Clock = FixedClock(now)
	assert.True(t, c.Now().Equal(now))
	assert.False(t, SystemClock{}.Now().IsZero())
}
