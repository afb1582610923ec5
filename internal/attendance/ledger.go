package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Proged2021/Time-card-app-V2/internal/model"
	"github.com/Proged2021/Time-card-app-V2/internal/schedule"
)

// DefaultStoreTimeout bounds every storage call made by the core.
const DefaultStoreTimeout = 3 * time.Second

// Ledger owns the creation path of attendance records and the
// one-record-per-student-per-course-per-day rule.
type Ledger struct {
	store   RecordStore
	eval    schedule.Evaluator
	timeout time.Duration
}

// NewLedger uses eval's zone for day boundaries.
func NewLedger(store RecordStore, eval schedule.Evaluator, timeout time.Duration) *Ledger {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return &Ledger{store: store, eval: eval, timeout: timeout}
}

// HasRecordToday looks for a record whose scan time falls on today's
// calendar day in the reference zone.
func (l *Ledger) HasRecordToday(ctx context.Context, studentID, courseID string, today time.Time) (bool, error) {
	from := l.eval.StartOfDay(today)
	to := from.AddDate(0, 0, 1)

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	exists, err := l.store.HasRecord(ctx, studentID, courseID, from, to)
	if err != nil {
		return false, storageError("check existing record", err)
	}
	return exists, nil
}

// Record inserts a new record. Losing a concurrent race against another
// insert for the same day yields the duplicate_submission rejection.
func (l *Ledger) Record(ctx context.Context, studentID, courseID string, scanTime time.Time, c model.Classification) (model.AttendanceRecord, error) {
	if !c.Valid() {
		return model.AttendanceRecord{}, fmt.Errorf("record attendance: invalid classification %q", c)
	}
	rec := model.AttendanceRecord{
		ID:             uuid.NewString(),
		StudentID:      studentID,
		CourseID:       courseID,
		ScanTime:       scanTime,
		ScanDate:       l.eval.Date(scanTime),
		Classification: c,
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if err := l.store.InsertRecord(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicateRecord) {
			return model.AttendanceRecord{}, reject(ReasonDuplicateSubmission, StateClassified)
		}
		return model.AttendanceRecord{}, storageError("insert record", err)
	}
	return rec, nil
}
