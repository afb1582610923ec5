// Package roster loads teachers, students and courses from a YAML file
// and upserts them into a store.
package roster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Proged2021/Time-card-app-V2/internal/auth"
	"github.com/Proged2021/Time-card-app-V2/internal/model"
	"github.com/Proged2021/Time-card-app-V2/internal/schedule"
)

// Roster is the file layout.
type Roster struct {
	Teachers []Teacher `yaml:"teachers"`
	Students []Student `yaml:"students"`
	Courses  []Course  `yaml:"courses"`
}

type Teacher struct {
	Username string `yaml:"username"`
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
	Admin    bool   `yaml:"admin"`
}

type Student struct {
	SubjectID string   `yaml:"subject_id"`
	Name      string   `yaml:"name"`
	Password  string   `yaml:"password"`
	Groups    []string `yaml:"groups"`
}

type Course struct {
	ID        string          `yaml:"id"`
	Name      string          `yaml:"name"`
	Owner     string          `yaml:"owner"`
	Start     model.TimeOfDay `yaml:"start"`
	Tolerance int             `yaml:"tolerance"`
	Window    int             `yaml:"window"`
	Groups    []string        `yaml:"groups"`
}

// Store is what Apply writes to.
type Store interface {
	GetTeacherByUsername(ctx context.Context, username string) (*model.Teacher, error)
	UpsertTeacher(ctx context.Context, t *model.Teacher) error
	UpsertStudent(ctx context.Context, s *model.Student) error
	UpsertCourse(ctx context.Context, c *model.Course) error
}

// Summary counts what Apply wrote.
type Summary struct {
	Teachers int
	Students int
	Courses  int
}

// Load reads and validates a roster file.
func Load(path string) (*Roster, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	return Parse(b)
}

// Parse decodes and validates roster YAML. Unknown keys are rejected.
func Parse(b []byte) (*Roster, error) {
	var r Roster
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks required fields and references inside the file.
func (r *Roster) Validate() error {
	var errs []error
	for i, t := range r.Teachers {
		if t.Username == "" {
			errs = append(errs, fmt.Errorf("teachers[%d]: username is required", i))
		}
	}
	seen := map[string]bool{}
	for i, s := range r.Students {
		switch {
		case s.SubjectID == "":
			errs = append(errs, fmt.Errorf("students[%d]: subject_id is required", i))
		case seen[s.SubjectID]:
			errs = append(errs, fmt.Errorf("students[%d]: duplicate subject_id %q", i, s.SubjectID))
		}
		seen[s.SubjectID] = true
	}
	for i, c := range r.Courses {
		if c.ID == "" || c.Name == "" || c.Owner == "" {
			errs = append(errs, fmt.Errorf("courses[%d]: id, name and owner are required", i))
		}
		if c.Tolerance < 0 || c.Window < 0 {
			errs = append(errs, fmt.Errorf("courses[%d]: tolerance and window must not be negative", i))
		}
	}
	return errors.Join(errs...)
}

// Apply upserts the roster. Passwords are stored as bcrypt hashes; an
// empty password keeps the stored one. Course owners may be defined in
// the file or already exist in the store.
func (r *Roster) Apply(ctx context.Context, st Store) (Summary, error) {
	var sum Summary
	owners := map[string]string{}

	for _, t := range r.Teachers {
		rec := model.Teacher{Username: t.Username, Name: t.Name, IsAdmin: t.Admin}
		if t.Password != "" {
			hash, err := auth.HashPassword(t.Password)
			if err != nil {
				return sum, fmt.Errorf("teacher %s: %w", t.Username, err)
			}
			rec.PasswordHash = hash
		}
		if err := st.UpsertTeacher(ctx, &rec); err != nil {
			return sum, fmt.Errorf("teacher %s: %w", t.Username, err)
		}
		owners[t.Username] = rec.ID
		sum.Teachers++
	}

	for _, s := range r.Students {
		rec := model.Student{SubjectID: s.SubjectID, DisplayName: s.Name, GroupTags: s.Groups}
		if s.Password != "" {
			hash, err := auth.HashPassword(s.Password)
			if err != nil {
				return sum, fmt.Errorf("student %s: %w", s.SubjectID, err)
			}
			rec.PasswordHash = hash
		}
		if err := st.UpsertStudent(ctx, &rec); err != nil {
			return sum, fmt.Errorf("student %s: %w", s.SubjectID, err)
		}
		sum.Students++
	}

	for _, c := range r.Courses {
		ownerID, ok := owners[c.Owner]
		if !ok {
			t, err := st.GetTeacherByUsername(ctx, c.Owner)
			if err != nil {
				return sum, fmt.Errorf("course %s: %w", c.ID, err)
			}
			if t == nil {
				return sum, fmt.Errorf("course %s: unknown owner %q", c.ID, c.Owner)
			}
			ownerID = t.ID
		}
		window := c.Window
		if window == 0 {
			window = schedule.DefaultActiveWindow
		}
		rec := model.Course{
			ID:                  c.ID,
			OwnerID:             ownerID,
			Name:                c.Name,
			StartTime:           c.Start,
			ToleranceMinutes:    c.Tolerance,
			ActiveWindowMinutes: window,
			EligibleGroups:      c.Groups,
		}
		if err := st.UpsertCourse(ctx, &rec); err != nil {
			return sum, fmt.Errorf("course %s: %w", c.ID, err)
		}
		sum.Courses++
	}
	return sum, nil
}
