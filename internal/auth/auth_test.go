package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "test-key"
	testIssuer = "attendance-test"
)

func TestIssueParseRoundTrip(t *testing.T) {
	for _, actor := range []Actor{
		{Kind: KindTeacher, ID: "t-1", Admin: true},
		{Kind: KindTeacher, ID: "t-2"},
		{Kind: KindStudent, ID: "S1001"},
	} {
		tok, err := Issue(actor, testIssuer, testKey, time.Minute, time.Now())
		require.NoError(t, err)
		got, err := Parse(tok.Token, testKey, testIssuer, nil)
		require.NoError(t, err)
		assert.Equal(t, actor, got)
	}
}

func TestParseRejects(t *testing.T) {
	student := Actor{Kind: KindStudent, ID: "S1"}

	expired, err := Issue(student, testIssuer, testKey, -time.Minute, time.Now())
	require.NoError(t, err)
	_, err = Parse(expired.Token, testKey, testIssuer, nil)
	assert.Error(t, err)

	good, err := Issue(student, testIssuer, testKey, time.Minute, time.Now())
	require.NoError(t, err)
	_, err = Parse(good.Token, "other-key", testIssuer, nil)
	assert.Error(t, err)
	_, err = Parse(good.Token, testKey, "someone-else", nil)
	assert.Error(t, err)

	bogus, err := Issue(Actor{Kind: "janitor", ID: "x"}, testIssuer, testKey, time.Minute, time.Now())
	require.NoError(t, err)
	_, err = Parse(bogus.Token, testKey, testIssuer, nil)
	assert.Error(t, err)
}

func TestParseChecksExpiryAgainstGivenClock(t *testing.T) {
	issuedAt := time.Date(2026, 10, 19, 9, 5, 0, 0, time.FixedZone("JST", 9*60*60))
	tok, err := Issue(Actor{Kind: KindTeacher, ID: "t-1"}, testIssuer, testKey, time.Hour, issuedAt)
	require.NoError(t, err)

	a, err := Parse(tok.Token, testKey, testIssuer, func() time.Time { return issuedAt.Add(30 * time.Minute) })
	require.NoError(t, err)
	assert.Equal(t, "t-1", a.ID)

	_, err = Parse(tok.Token, testKey, testIssuer, func() time.Time { return issuedAt.Add(2 * time.Hour) })
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestStudentCannotClaimAdmin(t *testing.T) {
	tok, err := Issue(Actor{Kind: KindStudent, ID: "S1", Admin: true}, testIssuer, testKey, time.Minute, time.Now())
	require.NoError(t, err)
	a, err := Parse(tok.Token, testKey, testIssuer, nil)
	require.NoError(t, err)
	assert.False(t, a.Admin)
	assert.False(t, a.CanManage("anyone"))
}

func TestActorAccessors(t *testing.T) {
	teacher := Actor{Kind: KindTeacher, ID: "t-1"}
	id, ok := teacher.Teacher()
	assert.True(t, ok)
	assert.Equal(t, "t-1", id)
	_, ok = teacher.Student()
	assert.False(t, ok)
	assert.True(t, teacher.CanManage("t-1"))
	assert.False(t, teacher.CanManage("t-2"))
	assert.True(t, Actor{Kind: KindTeacher, ID: "root", Admin: true}.CanManage("t-2"))

	_, ok = Actor{}.Teacher()
	assert.False(t, ok)
}

func TestPasswords(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NoError(t, CheckPassword(hash, "hunter2"))
	assert.ErrorIs(t, CheckPassword(hash, "hunter3"), ErrBadCredentials)
	assert.ErrorIs(t, CheckPassword("", ""), ErrBadCredentials)
	_, err = HashPassword("")
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := func() time.Time { return now }
	r := gin.New()
	r.GET("/student", RequireActor(testKey, testIssuer, clock), RequireKind(KindStudent), func(c *gin.Context) {
		a, _ := ActorFrom(c)
		c.String(http.StatusOK, a.ID)
	})

	do := func(header string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/student", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, do("").Code)
	assert.Equal(t, http.StatusUnauthorized, do("Bearer garbage").Code)

	teacher, err := Issue(Actor{Kind: KindTeacher, ID: "t-1"}, testIssuer, testKey, time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, do("Bearer "+teacher.Token).Code)

	student, err := Issue(Actor{Kind: KindStudent, ID: "S1001"}, testIssuer, testKey, time.Minute, now)
	require.NoError(t, err)
	w := do("Bearer " + student.Token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "S1001", w.Body.String())
}
