package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Proged2021/Time-card-app-V2/internal/model"
)

// uniqueViolation is the Postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

var _ Store = (*Repository)(nil)

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Ping checks connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	if r == nil || r.db == nil {
		return errors.New("no database")
	}
	return r.db.PingContext(ctx)
}

const courseColumns = `id, owner_id, name, start_minutes, tolerance_minutes, active_window_minutes, eligible_groups`

func scanCourse(row interface{ Scan(...any) error }) (model.Course, error) {
	var c model.Course
	var start int
	var groups string
	if err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &start, &c.ToleranceMinutes, &c.ActiveWindowMinutes, &groups); err != nil {
		return model.Course{}, err
	}
	c.StartTime = model.TimeOfDay(start)
	c.EligibleGroups = model.SplitGroups(groups)
	return c, nil
}

// GetCourse returns a course by id, or nil when absent.
func (r *Repository) GetCourse(ctx context.Context, id string) (*model.Course, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+courseColumns+` FROM courses WHERE id = $1`, id)
	c, err := scanCourse(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// ListCourses returns courses ordered by start time. An empty ownerID lists all.
func (r *Repository) ListCourses(ctx context.Context, ownerID string) ([]model.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses`
	args := []any{}
	if ownerID != "" {
		query += ` WHERE owner_id = $1`
		args = append(args, ownerID)
	}
	query += ` ORDER BY start_minutes, name`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []model.Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

const studentColumns = `id, subject_id, display_name, group_tags, password_hash`

func scanStudent(row interface{ Scan(...any) error }) (model.Student, error) {
	var s model.Student
	var groups string
	if err := row.Scan(&s.ID, &s.SubjectID, &s.DisplayName, &groups, &s.PasswordHash); err != nil {
		return model.Student{}, err
	}
	s.GroupTags = model.SplitGroups(groups)
	return s, nil
}

// GetStudentBySubjectID returns a student or nil when absent.
func (r *Repository) GetStudentBySubjectID(ctx context.Context, subjectID string) (*model.Student, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE subject_id = $1`, subjectID)
	s, err := scanStudent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// ListStudents returns all students ordered by subject id.
func (r *Repository) ListStudents(ctx context.Context) ([]model.Student, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+studentColumns+` FROM students ORDER BY subject_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []model.Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// GetTeacherByUsername returns a teacher or nil when absent.
func (r *Repository) GetTeacherByUsername(ctx context.Context, username string) (*model.Teacher, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, username, name, is_admin, password_hash
		FROM teachers WHERE username = $1
	`, username)
	var t model.Teacher
	if err := row.Scan(&t.ID, &t.Username, &t.Name, &t.IsAdmin, &t.PasswordHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// HasRecord reports whether a record exists with scan_time in [from, to).
func (r *Repository) HasRecord(ctx context.Context, studentID, courseID string, from, to time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attendance_records
			WHERE student_id = $1 AND course_id = $2 AND scan_time >= $3 AND scan_time < $4
		)
	`, studentID, courseID, from, to).Scan(&exists)
	return exists, err
}

// InsertRecord writes a new record. The unique index on
// (student_id, course_id, scan_date) turns a concurrent second insert
// into ErrDuplicateRecord.
func (r *Repository) InsertRecord(ctx context.Context, rec model.AttendanceRecord) error {
	day, err := time.Parse("2006-01-02", rec.ScanDate)
	if err != nil {
		return fmt.Errorf("insert record: scan date: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, student_id, course_id, scan_time, scan_date, classification)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, rec.StudentID, rec.CourseID, rec.ScanTime, day, string(rec.Classification))
	if isUniqueViolation(err) {
		return ErrDuplicateRecord
	}
	return err
}

// ListRecords returns a course's records with scan_time in [from, to).
func (r *Repository) ListRecords(ctx context.Context, courseID string, from, to time.Time) ([]model.AttendanceRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, course_id, scan_time, scan_date, classification
		FROM attendance_records
		WHERE course_id = $1 AND scan_time >= $2 AND scan_time < $3
		ORDER BY scan_time
	`, courseID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []model.AttendanceRecord
	for rows.Next() {
		var rec model.AttendanceRecord
		var day time.Time
		var class string
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.CourseID, &rec.ScanTime, &day, &class); err != nil {
			return nil, err
		}
		rec.ScanDate = day.Format("2006-01-02")
		rec.Classification = model.Classification(class)
		res = append(res, rec)
	}
	return res, rows.Err()
}

// UpsertTeacher creates or updates a teacher keyed by username and fills t.ID.
func (r *Repository) UpsertTeacher(ctx context.Context, t *model.Teacher) error {
	if t.Username == "" {
		return errors.New("teacher username required")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return r.db.QueryRowContext(ctx, `
		INSERT INTO teachers (id, username, name, is_admin, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (username) DO UPDATE SET
			name = EXCLUDED.name,
			is_admin = EXCLUDED.is_admin,
			password_hash = COALESCE(NULLIF(EXCLUDED.password_hash, ''), teachers.password_hash),
			updated_at = NOW()
		RETURNING id
	`, t.ID, t.Username, t.Name, t.IsAdmin, t.PasswordHash).Scan(&t.ID)
}

// UpsertStudent creates or updates a student keyed by subject id and fills s.ID.
func (r *Repository) UpsertStudent(ctx context.Context, s *model.Student) error {
	if s.SubjectID == "" {
		return errors.New("student subject id required")
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return r.db.QueryRowContext(ctx, `
		INSERT INTO students (id, subject_id, display_name, group_tags, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (subject_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			group_tags = EXCLUDED.group_tags,
			password_hash = COALESCE(NULLIF(EXCLUDED.password_hash, ''), students.password_hash),
			updated_at = NOW()
		RETURNING id
	`, s.ID, s.SubjectID, s.DisplayName, model.JoinGroups(s.GroupTags), s.PasswordHash).Scan(&s.ID)
}

// UpsertCourse creates or updates a course keyed by id.
func (r *Repository) UpsertCourse(ctx context.Context, c *model.Course) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO courses (id, owner_id, name, start_minutes, tolerance_minutes, active_window_minutes, eligible_groups)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			name = EXCLUDED.name,
			start_minutes = EXCLUDED.start_minutes,
			tolerance_minutes = EXCLUDED.tolerance_minutes,
			active_window_minutes = EXCLUDED.active_window_minutes,
			eligible_groups = EXCLUDED.eligible_groups,
			updated_at = NOW()
	`, c.ID, c.OwnerID, c.Name, int(c.StartTime), c.ToleranceMinutes, c.ActiveWindowMinutes, model.JoinGroups(c.EligibleGroups))
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
