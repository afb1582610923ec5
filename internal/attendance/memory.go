package attendance

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Proged2021/Time-card-app-V2/internal/model"
)

// MemoryStore is a mutex-guarded Store for development and tests. The
// uniqueness check and the insert happen under one lock, which gives it
// the same single-winner guarantee as the Postgres unique index.
type MemoryStore struct {
	mu       sync.RWMutex
	teachers map[string]model.Teacher // username -> teacher
	students map[string]model.Student // subject id -> student
	courses  map[string]model.Course  // id -> course
	records  []model.AttendanceRecord
	taken    map[recordKey]struct{}
}

type recordKey struct {
	studentID, courseID, date string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		teachers: make(map[string]model.Teacher),
		students: make(map[string]model.Student),
		courses:  make(map[string]model.Course),
		taken:    make(map[recordKey]struct{}),
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (m *MemoryStore) GetCourse(ctx context.Context, id string) (*model.Course, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.courses[id]
	if !ok {
		return nil, nil
	}
	c.EligibleGroups = append([]string(nil), c.EligibleGroups...)
	return &c, nil
}

func (m *MemoryStore) ListCourses(ctx context.Context, ownerID string) ([]model.Course, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []model.Course
	for _, c := range m.courses {
		if ownerID == "" || c.OwnerID == ownerID {
			res = append(res, c)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].StartTime != res[j].StartTime {
			return res[i].StartTime < res[j].StartTime
		}
		return res[i].Name < res[j].Name
	})
	return res, nil
}

func (m *MemoryStore) GetStudentBySubjectID(ctx context.Context, subjectID string) (*model.Student, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.students[subjectID]
	if !ok {
		return nil, nil
	}
	s.GroupTags = append([]string(nil), s.GroupTags...)
	return &s, nil
}

func (m *MemoryStore) ListStudents(ctx context.Context) ([]model.Student, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]model.Student, 0, len(m.students))
	for _, s := range m.students {
		res = append(res, s)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].SubjectID < res[j].SubjectID })
	return res, nil
}

func (m *MemoryStore) GetTeacherByUsername(ctx context.Context, username string) (*model.Teacher, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.teachers[username]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *MemoryStore) HasRecord(ctx context.Context, studentID, courseID string, from, to time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records {
		if r.StudentID == studentID && r.CourseID == courseID && !r.ScanTime.Before(from) && r.ScanTime.Before(to) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) InsertRecord(ctx context.Context, rec model.AttendanceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := recordKey{rec.StudentID, rec.CourseID, rec.ScanDate}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.taken[key]; ok {
		return ErrDuplicateRecord
	}
	m.taken[key] = struct{}{}
	m.records = append(m.records, rec)
	return nil
}

func (m *MemoryStore) ListRecords(ctx context.Context, courseID string, from, to time.Time) ([]model.AttendanceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []model.AttendanceRecord
	for _, r := range m.records {
		if r.CourseID == courseID && !r.ScanTime.Before(from) && r.ScanTime.Before(to) {
			res = append(res, r)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ScanTime.Before(res[j].ScanTime) })
	return res, nil
}

func (m *MemoryStore) UpsertTeacher(ctx context.Context, t *model.Teacher) error {
	if t.Username == "" {
		return errors.New("teacher username required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.teachers[t.Username]; ok {
		t.ID = prev.ID
		if t.PasswordHash == "" {
			t.PasswordHash = prev.PasswordHash
		}
	} else if t.ID == "" {
		t.ID = uuid.NewString()
	}
	m.teachers[t.Username] = *t
	return nil
}

func (m *MemoryStore) UpsertStudent(ctx context.Context, s *model.Student) error {
	if s.SubjectID == "" {
		return errors.New("student subject id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.students[s.SubjectID]; ok {
		s.ID = prev.ID
		if s.PasswordHash == "" {
			s.PasswordHash = prev.PasswordHash
		}
	} else if s.ID == "" {
		s.ID = uuid.NewString()
	}
	stored := *s
	stored.GroupTags = append([]string(nil), s.GroupTags...)
	m.students[s.SubjectID] = stored
	return nil
}

func (m *MemoryStore) UpsertCourse(ctx context.Context, c *model.Course) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *c
	stored.EligibleGroups = append([]string(nil), c.EligibleGroups...)
	m.courses[c.ID] = stored
	return nil
}
