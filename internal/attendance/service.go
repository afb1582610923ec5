package attendance

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Proged2021/Time-card-app-V2/internal/model"
	"github.com/Proged2021/Time-card-app-V2/internal/schedule"
	"github.com/Proged2021/Time-card-app-V2/internal/token"
)

// Observer receives the outcome of every scan. metrics.Metrics implements it.
type Observer interface {
	ObserveScan(outcome string, elapsed time.Duration)
}

// Result is a recorded scan.
type Result struct {
	Classification model.Classification
	Record         model.AttendanceRecord
	Student        model.Student
	Course         model.Course
}

// Service verifies identity tokens and turns them into attendance records.
// It holds no per-request state and is safe for concurrent use.
type Service struct {
	courses  CourseStore
	students StudentStore
	ledger   *Ledger
	signer   *token.Signer
	issuer   *token.Issuer
	eval     schedule.Evaluator
	timeout  time.Duration
	log      *zap.Logger
	observer Observer
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Default: no-op.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithObserver reports scan outcomes to o.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithStoreTimeout bounds course and student lookups.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewService wires the scan pipeline. The signer's key is fixed for the
// lifetime of the service.
func NewService(courses CourseStore, students StudentStore, ledger *Ledger, signer *token.Signer, eval schedule.Evaluator, opts ...Option) *Service {
	s := &Service{
		courses:  courses,
		students: students,
		ledger:   ledger,
		signer:   signer,
		issuer:   token.NewIssuer(signer, eval.Location),
		eval:     eval,
		timeout:  DefaultStoreTimeout,
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// IssueToken signs subjectID for the current day.
func (s *Service) IssueToken(subjectID string, now time.Time) (token.IdentityToken, []byte, error) {
	return s.issuer.Issue(subjectID, now)
}

// SubmitScan runs the scan state machine for a raw token payload presented
// to courseID at now. Business failures are *Rejection; infrastructure
// failures wrap ErrStorageUnavailable. Nothing is written before the final
// step.
func (s *Service) SubmitScan(ctx context.Context, courseID string, raw []byte, now time.Time) (res Result, err error) {
	started := time.Now()
	defer func() { s.observe(err, time.Since(started)) }()

	// Received
	tok, err := token.Parse(raw)
	if err != nil {
		return Result{}, reject(ReasonInvalidToken, StateReceived)
	}

	course, err := s.getCourse(ctx, courseID)
	if err != nil {
		return Result{}, err
	}
	if course == nil {
		return Result{}, reject(ReasonUnknownCourse, StateReceived)
	}
	if !s.eval.IsWindowOpen(*course, now) {
		return Result{}, reject(ReasonWindowClosed, StateReceived)
	}

	// WindowChecked
	canonical, err := token.Encode(tok.SubjectID, tok.IssuedDate)
	if err != nil {
		return Result{}, reject(ReasonInvalidToken, StateWindowChecked)
	}
	if !s.signer.Verify(canonical, tok.Signature) {
		return Result{}, reject(ReasonInvalidSignature, StateWindowChecked)
	}
	if tok.IssuedDate != s.eval.Date(now) {
		return Result{}, reject(ReasonTokenExpired, StateWindowChecked)
	}
	student, err := s.getStudent(ctx, tok.SubjectID)
	if err != nil {
		return Result{}, err
	}
	if student == nil {
		return Result{}, reject(ReasonUnknownStudent, StateWindowChecked)
	}

	// IdentityVerified
	if !s.eval.IsEligible(*course, *student) {
		return Result{}, reject(ReasonNotEligible, StateIdentityVerified)
	}

	// EligibilityChecked
	dup, err := s.ledger.HasRecordToday(ctx, student.ID, course.ID, now)
	if err != nil {
		return Result{}, err
	}
	if dup {
		return Result{}, reject(ReasonDuplicateSubmission, StateEligibilityChecked)
	}

	// DuplicateChecked -> Classified
	class := s.eval.Classify(*course, now)

	rec, err := s.ledger.Record(ctx, student.ID, course.ID, now, class)
	if err != nil {
		return Result{}, err
	}

	s.log.Info("attendance recorded",
		zap.String("course_id", course.ID),
		zap.String("subject_id", student.SubjectID),
		zap.String("classification", string(class)),
		zap.String("record_id", rec.ID))
	return Result{Classification: class, Record: rec, Student: *student, Course: *course}, nil
}

func (s *Service) getCourse(ctx context.Context, id string) (*model.Course, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	c, err := s.courses.GetCourse(ctx, id)
	if err != nil {
		return nil, storageError("load course", err)
	}
	return c, nil
}

func (s *Service) getStudent(ctx context.Context, subjectID string) (*model.Student, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	st, err := s.students.GetStudentBySubjectID(ctx, subjectID)
	if err != nil {
		return nil, storageError("load student", err)
	}
	return st, nil
}

// Outcomes reported to the Observer besides "recorded" and rejection reasons.
const (
	OutcomeStorageUnavailable = "storage_unavailable"
	OutcomeError              = "error"
)

func (s *Service) observe(err error, elapsed time.Duration) {
	outcome := StateRecorded.String()
	switch r, ok := AsRejection(err); {
	case ok:
		outcome = string(r.Reason)
		s.log.Debug("scan rejected", zap.String("reason", outcome), zap.Stringer("state", r.State))
	case errors.Is(err, ErrStorageUnavailable):
		outcome = OutcomeStorageUnavailable
		s.log.Warn("scan failed", zap.Error(err))
	case err != nil:
		outcome = OutcomeError
		s.log.Error("scan failed", zap.Error(err))
	}
	if s.observer != nil {
		s.observer.ObserveScan(outcome, elapsed)
	}
}
