package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/Proged2021/Time-card-app-V2/internal/attendance"
	"github.com/Proged2021/Time-card-app-V2/internal/auth"
	"github.com/Proged2021/Time-card-app-V2/internal/model"
	"github.com/Proged2021/Time-card-app-V2/internal/tally"
	"github.com/Proged2021/Time-card-app-V2/internal/token"
)

const publishTimeout = 2 * time.Second

var reasonStatus = map[attendance.Reason]int{
	attendance.ReasonInvalidToken:        http.StatusBadRequest,
	attendance.ReasonInvalidSignature:    http.StatusUnauthorized,
	attendance.ReasonTokenExpired:        http.StatusUnauthorized,
	attendance.ReasonUnknownCourse:       http.StatusNotFound,
	attendance.ReasonUnknownStudent:      http.StatusNotFound,
	attendance.ReasonWindowClosed:        http.StatusForbidden,
	attendance.ReasonNotEligible:         http.StatusForbidden,
	attendance.ReasonDuplicateSubmission: http.StatusConflict,
}

func writeRejection(c *gin.Context, reason attendance.Reason) {
	status, ok := reasonStatus[reason]
	if !ok {
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": reason, "message": reason.Message()})
}

func (h *Handler) storageUnavailable(c *gin.Context, op string, err error) {
	h.Logger.Error(op, zap.Error(err))
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage_unavailable", "message": "Attendance storage is unavailable, try again."})
}

// ownedCourse loads the :id course and checks the caller may operate it.
// It writes the error response itself and reports false on failure.
func (h *Handler) ownedCourse(c *gin.Context) (*model.Course, bool) {
	actor, _ := auth.ActorFrom(c)
	id := c.Param("id")
	course, err := lookup(c.Request.Context(), h, func(ctx context.Context) (*model.Course, error) {
		return h.Store.GetCourse(ctx, id)
	})
	if err != nil {
		h.storageUnavailable(c, "course lookup failed", err)
		return nil, false
	}
	if course == nil {
		writeRejection(c, attendance.ReasonUnknownCourse)
		return nil, false
	}
	if !actor.CanManage(course.OwnerID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "This course belongs to another teacher."})
		return nil, false
	}
	return course, true
}

// ListCourses returns the caller's courses by start time; admins see all.
func (h *Handler) ListCourses(c *gin.Context) {
	actor, _ := auth.ActorFrom(c)
	owner, _ := actor.Teacher()
	if actor.Admin {
		owner = ""
	}
	courses, err := lookup(c.Request.Context(), h, func(ctx context.Context) ([]model.Course, error) {
		return h.Store.ListCourses(ctx, owner)
	})
	if err != nil {
		h.storageUnavailable(c, "list courses failed", err)
		return
	}
	if courses == nil {
		courses = []model.Course{}
	}
	c.JSON(http.StatusOK, gin.H{"courses": courses})
}

type scanRequest struct {
	Payload string `json:"payload" binding:"required"`
}

// SubmitScan records the identity token read by the scanner. A malformed
// payload is rejected before the course is looked up. Storage failures are
// retried with exponential backoff; rejections are final.
func (h *Handler) SubmitScan(c *gin.Context) {
	now := h.Clock.Now()
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeRejection(c, attendance.ReasonInvalidToken)
		return
	}
	if _, err := token.Parse([]byte(req.Payload)); err != nil {
		writeRejection(c, attendance.ReasonInvalidToken)
		return
	}
	course, ok := h.ownedCourse(c)
	if !ok {
		return
	}

	res, err := retry.DoValue[attendance.Result](c.Request.Context(), h.backoff(), func(ctx context.Context) (attendance.Result, error) {
		res, err := h.Service.SubmitScan(ctx, course.ID, []byte(req.Payload), now)
		if err != nil && errors.Is(err, attendance.ErrStorageUnavailable) {
			return res, retry.RetryableError(err)
		}
		return res, err
	})
	if err != nil {
		if r, ok := attendance.AsRejection(err); ok {
			writeRejection(c, r.Reason)
			return
		}
		h.storageUnavailable(c, "scan failed", err)
		return
	}

	h.publish(c.Request.Context(), res)
	c.JSON(http.StatusCreated, gin.H{
		"classification": res.Classification,
		"record":         res.Record,
		"student": gin.H{
			"subject_id":   res.Student.SubjectID,
			"display_name": res.Student.DisplayName,
		},
	})
}

func (h *Handler) publish(ctx context.Context, res attendance.Result) {
	if h.Events == nil {
		return
	}
	msg, err := tally.Event{
		RecordID:       res.Record.ID,
		CourseID:       res.Course.ID,
		SubjectID:      res.Student.SubjectID,
		Date:           res.Record.ScanDate,
		Classification: res.Classification,
		ScanTime:       res.Record.ScanTime,
	}.Message()
	if err == nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		err = h.Events.Publish(ctx, msg)
	}
	if err != nil {
		h.Logger.Warn("tally event not queued", zap.String("record_id", res.Record.ID), zap.Error(err))
		if h.Metrics != nil {
			h.Metrics.RecordPublishFailure()
		}
	}
}

// Report lists every eligible student's status on ?date= (default today).
func (h *Handler) Report(c *gin.Context) {
	course, ok := h.ownedCourse(c)
	if !ok {
		return
	}
	day := h.Clock.Now()
	if q := c.Query("date"); q != "" {
		parsed, err := h.Eval.ParseDate(q)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		day = parsed
	}
	rep, err := h.Reporter.Daily(c.Request.Context(), course.ID, day)
	if err != nil {
		h.storageUnavailable(c, "report failed", err)
		return
	}
	if rep == nil {
		writeRejection(c, attendance.ReasonUnknownCourse)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// Live returns today's running counters for the course.
func (h *Handler) Live(c *gin.Context) {
	course, ok := h.ownedCourse(c)
	if !ok {
		return
	}
	if h.Counter == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live counters disabled"})
		return
	}
	date := h.Eval.Date(h.Clock.Now())
	counts, err := h.Counter.Get(c.Request.Context(), course.ID, date)
	if err != nil {
		h.Logger.Error("live counters unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live counters unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"course_id": course.ID,
		"date":      date,
		"on_time":   counts.OnTime,
		"late":      counts.Late,
	})
}
