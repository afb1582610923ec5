package attendance

import (
	"context"
	"time"

	"github.com/Proged2021/Time-card-app-V2/internal/model"
	"github.com/Proged2021/Time-card-app-V2/internal/schedule"
)

// ReportStore is the read side used by reports.
type ReportStore interface {
	CourseStore
	ListStudents(ctx context.Context) ([]model.Student, error)
	ListRecords(ctx context.Context, courseID string, from, to time.Time) ([]model.AttendanceRecord, error)
}

// ReportLine is one eligible student's status for the day.
type ReportLine struct {
	SubjectID   string               `json:"subject_id"`
	DisplayName string               `json:"display_name"`
	Status      model.Classification `json:"status"`
	ScanTime    *time.Time           `json:"scan_time,omitempty"`
}

// Report summarises a course's attendance on one day.
type Report struct {
	Course model.Course `json:"course"`
	Date   string       `json:"date"`
	Lines  []ReportLine `json:"lines"`
	Total  int          `json:"total"`
	OnTime int          `json:"on_time"`
	Late   int          `json:"late"`
	Absent int          `json:"absent"`
}

// Reporter builds daily reports.
type Reporter struct {
	store   ReportStore
	eval    schedule.Evaluator
	timeout time.Duration
}

// NewReporter uses eval's zone for day boundaries.
func NewReporter(store ReportStore, eval schedule.Evaluator, timeout time.Duration) *Reporter {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return &Reporter{store: store, eval: eval, timeout: timeout}
}

// Daily lists every student eligible for the course on day together with
// their recorded status; students without a record are absent. A nil
// report with a nil error means the course does not exist.
func (r *Reporter) Daily(ctx context.Context, courseID string, day time.Time) (*Report, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	course, err := r.store.GetCourse(ctx, courseID)
	if err != nil {
		return nil, storageError("load course", err)
	}
	if course == nil {
		return nil, nil
	}
	students, err := r.store.ListStudents(ctx)
	if err != nil {
		return nil, storageError("list students", err)
	}
	from := r.eval.StartOfDay(day)
	records, err := r.store.ListRecords(ctx, courseID, from, from.AddDate(0, 0, 1))
	if err != nil {
		return nil, storageError("list records", err)
	}

	byStudent := make(map[string]model.AttendanceRecord, len(records))
	for _, rec := range records {
		byStudent[rec.StudentID] = rec
	}

	rep := &Report{Course: *course, Date: r.eval.Date(day), Lines: []ReportLine{}}
	for _, s := range students {
		rec, scanned := byStudent[s.ID]
		if !scanned && !r.eval.IsEligible(*course, s) {
			continue
		}
		line := ReportLine{SubjectID: s.SubjectID, DisplayName: s.DisplayName, Status: model.Absent}
		if scanned {
			t := r.eval.Local(rec.ScanTime)
			line.Status = rec.Classification
			line.ScanTime = &t
		}
		switch line.Status {
		case model.OnTime:
			rep.OnTime++
		case model.Late:
			rep.Late++
		default:
			rep.Absent++
		}
		rep.Lines = append(rep.Lines, line)
	}
	rep.Total = len(rep.Lines)
	return rep, nil
}
