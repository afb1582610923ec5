package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Proged2021/Time-card-app-V2/internal/auth"
	"github.com/Proged2021/Time-card-app-V2/internal/model"
)

type loginRequest struct {
	Role     string `json:"role" binding:"required"`
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login exchanges a username (teachers) or subject id (students) and
// password for an access token.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role, username and password are required"})
		return
	}
	kind, err := auth.ParseKind(req.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor, err := h.authenticate(c, kind, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrBadCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrBadCredentials.Error()})
			return
		}
		h.Logger.Error("login lookup failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		return
	}

	tok, err := auth.Issue(actor, h.Auth.Issuer, h.Auth.SigningKey, h.Auth.AccessTTL, h.Clock.Now())
	if err != nil {
		h.Logger.Error("token issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": tok.Token,
		"expires_at":   tok.ExpiresAt.Unix(),
		"role":         actor.Kind,
	})
}

func (h *Handler) authenticate(c *gin.Context, kind auth.Kind, username, password string) (auth.Actor, error) {
	ctx := c.Request.Context()
	switch kind {
	case auth.KindTeacher:
		t, err := lookup(ctx, h, func(ctx context.Context) (*model.Teacher, error) {
			return h.Store.GetTeacherByUsername(ctx, username)
		})
		if err != nil {
			return auth.Actor{}, err
		}
		if t == nil {
			return auth.Actor{}, auth.ErrBadCredentials
		}
		if err := auth.CheckPassword(t.PasswordHash, password); err != nil {
			return auth.Actor{}, err
		}
		return auth.Actor{Kind: auth.KindTeacher, ID: t.ID, Admin: t.IsAdmin}, nil
	default:
		s, err := lookup(ctx, h, func(ctx context.Context) (*model.Student, error) {
			return h.Store.GetStudentBySubjectID(ctx, username)
		})
		if err != nil {
			return auth.Actor{}, err
		}
		if s == nil {
			return auth.Actor{}, auth.ErrBadCredentials
		}
		if err := auth.CheckPassword(s.PasswordHash, password); err != nil {
			return auth.Actor{}, err
		}
		return auth.Actor{Kind: auth.KindStudent, ID: s.SubjectID}, nil
	}
}
