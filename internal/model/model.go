package model

import (
	"fmt"
	"strings"
	"time"
)

// Classification is the outcome of an accepted scan.
type Classification string

const (
	OnTime Classification = "on_time"
	Late   Classification = "late"
	// Absent only appears in reports; it is never stored.
	Absent Classification = "absent"
)

// Valid reports whether c can be stored on a record.
func (c Classification) Valid() bool {
	return c == OnTime || c == Late
}

// TimeOfDay is a wall-clock time expressed as minutes since midnight.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

// Duration returns the offset from midnight.
func (t TimeOfDay) Duration() time.Duration {
	return time.Duration(t) * time.Minute
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Course is a scheduled class owned by one teacher.
type Course struct {
	ID                  string    `json:"id"`
	OwnerID             string    `json:"owner_id"`
	Name                string    `json:"name"`
	StartTime           TimeOfDay `json:"start_time"`
	ToleranceMinutes    int       `json:"tolerance_minutes"`
	ActiveWindowMinutes int       `json:"active_window_minutes"`
	EligibleGroups      []string  `json:"eligible_groups"`
}

// Student is someone who presents an identity token.
type Student struct {
	ID           string   `json:"id"`
	SubjectID    string   `json:"subject_id"`
	DisplayName  string   `json:"display_name"`
	GroupTags    []string `json:"group_tags"`
	PasswordHash string   `json:"-"`
}

// Teacher owns courses and operates the scanner.
type Teacher struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Name         string `json:"name"`
	IsAdmin      bool   `json:"is_admin"`
	PasswordHash string `json:"-"`
}

// AttendanceRecord is the single accepted scan of a student for a course on a day.
type AttendanceRecord struct {
	ID             string         `json:"id"`
	StudentID      string         `json:"student_id"`
	CourseID       string         `json:"course_id"`
	ScanTime       time.Time      `json:"scan_time"`
	ScanDate       string         `json:"scan_date"`
	Classification Classification `json:"classification"`
}

// SplitGroups parses a comma separated group list, dropping blanks.
func SplitGroups(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// JoinGroups is the inverse of SplitGroups.
func JoinGroups(groups []string) string {
	return strings.Join(groups, ",")
}
