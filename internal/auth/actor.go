package auth

import "fmt"

// Kind tags an authenticated caller.
type Kind string

const (
	KindTeacher Kind = "teacher"
	KindStudent Kind = "student"
)

// ParseKind accepts the role names used on the wire.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindTeacher, KindStudent:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Actor is the caller resolved once by the auth middleware. For teachers
// ID is the teacher id; for students it is the subject id carried in
// identity tokens.
type Actor struct {
	Kind  Kind
	ID    string
	Admin bool
}

// Teacher returns the teacher id when the actor is a teacher.
func (a Actor) Teacher() (string, bool) {
	if a.Kind != KindTeacher || a.ID == "" {
		return "", false
	}
	return a.ID, true
}

// Student returns the subject id when the actor is a student.
func (a Actor) Student() (string, bool) {
	if a.Kind != KindStudent || a.ID == "" {
		return "", false
	}
	return a.ID, true
}

// CanManage reports whether the actor may operate a course owned by ownerID.
func (a Actor) CanManage(ownerID string) bool {
	id, ok := a.Teacher()
	return ok && (a.Admin || id == ownerID)
}

func (a Actor) String() string {
	return string(a.Kind) + ":" + a.ID
}
