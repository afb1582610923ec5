package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/Proged2021/Time-card-app-V2/internal/auth"
	"github.com/Proged2021/Time-card-app-V2/internal/model"
	"github.com/Proged2021/Time-card-app-V2/internal/token"
)

const qrSize = 256

// issueOwnToken signs today's identity token for the calling student.
// It writes the error response itself and reports false on failure.
func (h *Handler) issueOwnToken(c *gin.Context) (token.IdentityToken, []byte, bool) {
	actor, _ := auth.ActorFrom(c)
	subjectID, isStudent := actor.Student()
	if !isStudent {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return token.IdentityToken{}, nil, false
	}
	st, err := lookup(c.Request.Context(), h, func(ctx context.Context) (*model.Student, error) {
		return h.Store.GetStudentBySubjectID(ctx, subjectID)
	})
	if err != nil {
		h.Logger.Error("student lookup failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		return token.IdentityToken{}, nil, false
	}
	if st == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown student"})
		return token.IdentityToken{}, nil, false
	}
	tok, payload, err := h.Service.IssueToken(subjectID, h.Clock.Now())
	if err != nil {
		h.Logger.Error("identity token issue failed", zap.String("subject_id", subjectID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return token.IdentityToken{}, nil, false
	}
	return tok, payload, true
}

// MyToken returns the caller's identity token for today together with
// the exact payload to encode in a QR code.
func (h *Handler) MyToken(c *gin.Context) {
	tok, payload, ok := h.issueOwnToken(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"payload":     string(payload),
		"subject_id":  tok.SubjectID,
		"issued_date": tok.IssuedDate,
		"signature":   tok.Signature,
	})
}

// MyTokenQR renders the caller's identity token as a PNG QR code.
func (h *Handler) MyTokenQR(c *gin.Context) {
	_, payload, ok := h.issueOwnToken(c)
	if !ok {
		return
	}
	png, err := qrcode.Encode(string(payload), qrcode.Medium, qrSize)
	if err != nil {
		h.Logger.Error("qr encode failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "qr encode failed"})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}
