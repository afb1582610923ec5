package attendance

import (
	"context"
	"time"

	"github.com/Proged2021/Time-card-app-V2/internal/model"
)

// CourseStore resolves courses. A missing course is (nil, nil).
type CourseStore interface {
	GetCourse(ctx context.Context, id string) (*model.Course, error)
}

// StudentStore resolves students by the subject id carried in tokens.
// A missing student is (nil, nil).
type StudentStore interface {
	GetStudentBySubjectID(ctx context.Context, subjectID string) (*model.Student, error)
}

// RecordStore persists attendance records. InsertRecord must enforce
// uniqueness of (StudentID, CourseID, ScanDate) itself and report a
// violation as ErrDuplicateRecord.
type RecordStore interface {
	HasRecord(ctx context.Context, studentID, courseID string, from, to time.Time) (bool, error)
	InsertRecord(ctx context.Context, rec model.AttendanceRecord) error
}

// Store is everything the service, reports and seeding need. Repository
// (Postgres) and MemoryStore implement it.
type Store interface {
	CourseStore
	StudentStore
	RecordStore

	ListCourses(ctx context.Context, ownerID string) ([]model.Course, error)
	ListStudents(ctx context.Context) ([]model.Student, error)
	ListRecords(ctx context.Context, courseID string, from, to time.Time) ([]model.AttendanceRecord, error)
	GetTeacherByUsername(ctx context.Context, username string) (*model.Teacher, error)

	UpsertTeacher(ctx context.Context, t *model.Teacher) error
	UpsertStudent(ctx context.Context, s *model.Student) error
	UpsertCourse(ctx context.Context, c *model.Course) error

	Ping(ctx context.Context) error
}
