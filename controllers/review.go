package controllers

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"journal-review-api/middleware"
	"journal-review-api/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	msgMissingParameters = "缺少必要参数"
	msgInvalidParameter  = "参数无效"
	msgForbidden         = "权限不足"
	msgServerError       = "服务器错误"
	msgReviewNotFound    = "审稿记录不存在"
	msgArticleNotFound   = "文章不存在"
	msgUserNotFound      = "审稿人不存在"
	msgAlreadyAssigned   = "审稿人已分配"
)

// ReviewController exposes the review workflow over HTTP.
type ReviewController struct {
	workflow *services.ReviewWorkflow
	logger   logrus.FieldLogger
}

func NewReviewController(workflow *services.ReviewWorkflow, logger logrus.FieldLogger) *ReviewController {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ReviewController{workflow: workflow, logger: logger.WithField("component", "review_controller")}
}

// decimalScore matches plain decimal literals only. Exponent and hex forms
// are invalid scores.
var decimalScore = regexp.MustCompile(`^[+-]?[0-9]+(\.[0-9]+)?$`)

// scoreValue accepts a JSON number or a numeric string. Fractions are
// truncated toward zero.
type scoreValue struct {
	value   *int
	invalid bool
}

func (s *scoreValue) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	if bytes.Equal(raw, []byte("null")) {
		return nil
	}

	text := string(raw)
	if len(raw) > 0 && raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return nil
		}
	}

	if !decimalScore.MatchString(text) {
		s.invalid = true
		return nil
	}
	if n, err := strconv.Atoi(text); err == nil {
		s.value = &n
		return nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.Abs(f) > math.MaxInt32 {
		s.invalid = true
		return nil
	}
	n := int(math.Trunc(f))
	s.value = &n
	return nil
}

type submitReviewRequest struct {
	ReviewID             string     `json:"reviewId"`
	Score                scoreValue `json:"score"`
	Recommendation       string     `json:"recommendation"`
	Comments             string     `json:"comments"`
	ConfidentialComments *string    `json:"confidentialComments"`
}

// SubmitReview handles POST /reviews/submit.
func (rc *ReviewController) SubmitReview(c *gin.Context) {
	principal, ok := middleware.CurrentPrincipal(c)
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": msgForbidden})
		return
	}

	var req submitReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgMissingParameters})
		return
	}
	if req.Score.invalid {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidParameter})
		return
	}

	result, err := rc.workflow.SubmitReview(c.Request.Context(), principal, services.SubmitReviewInput{
		ReviewID:             req.ReviewID,
		Score:                req.Score.value,
		Recommendation:       req.Recommendation,
		Comments:             req.Comments,
		ConfidentialComments: req.ConfidentialComments,
	})
	if err != nil {
		rc.respondError(c, err)
		return
	}

	if result.EscalationErr != nil {
		rc.logger.WithError(result.EscalationErr).WithFields(logrus.Fields{
			"request_id": middleware.GetRequestID(c),
			"review_id":  result.Review.ID,
		}).Warn("review stored but next round was not opened")
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "审稿意见提交成功"})
}

type updateStatusRequest struct {
	ReviewID string `json:"reviewId"`
	Status   string `json:"status"`
}

// UpdateReviewStatus handles PATCH /reviews/status.
func (rc *ReviewController) UpdateReviewStatus(c *gin.Context) {
	principal, ok := middleware.CurrentPrincipal(c)
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": msgForbidden})
		return
	}

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgMissingParameters})
		return
	}

	if _, err := rc.workflow.UpdateReviewStatus(c.Request.Context(), principal, req.ReviewID, req.Status); err != nil {
		rc.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "状态更新成功"})
}

type assignReviewerRequest struct {
	ReviewerID string     `json:"reviewerId"`
	Round      int        `json:"round"`
	Deadline   *time.Time `json:"deadline"`
}

// AssignReviewer handles POST /articles/:id/reviewers.
func (rc *ReviewController) AssignReviewer(c *gin.Context) {
	principal, ok := middleware.CurrentPrincipal(c)
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": msgForbidden})
		return
	}

	var req assignReviewerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgMissingParameters})
		return
	}

	review, err := rc.workflow.AssignReviewer(c.Request.Context(), principal, services.AssignReviewerInput{
		ArticleID:  c.Param("id"),
		ReviewerID: req.ReviewerID,
		Round:      req.Round,
		Deadline:   req.Deadline,
	})
	if err != nil {
		rc.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "审稿人分配成功",
		"review":  review,
	})
}

// GetArticleReviewHistory handles GET /articles/:id/review-history.
func (rc *ReviewController) GetArticleReviewHistory(c *gin.Context) {
	principal, ok := middleware.CurrentPrincipal(c)
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": msgForbidden})
		return
	}

	history, err := rc.workflow.ArticleHistory(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		rc.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"history": history,
		"total":   len(history),
	})
}

// GetMyReviews handles GET /reviews/mine.
func (rc *ReviewController) GetMyReviews(c *gin.Context) {
	principal, ok := middleware.CurrentPrincipal(c)
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": msgForbidden})
		return
	}

	reviews, err := rc.workflow.ReviewerQueue(c.Request.Context(), principal)
	if err != nil {
		rc.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"reviews": reviews,
		"total":   len(reviews),
	})
}

func (rc *ReviewController) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrMissingParameters):
		c.JSON(http.StatusBadRequest, gin.H{"error": msgMissingParameters})
	case errors.Is(err, services.ErrInvalidParameter),
		errors.Is(err, services.ErrRoundOutOfRange),
		errors.Is(err, services.ErrNotReviewer):
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidParameter})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": msgForbidden})
	case errors.Is(err, services.ErrReviewNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": msgReviewNotFound})
	case errors.Is(err, services.ErrArticleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": msgArticleNotFound})
	case errors.Is(err, services.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": msgUserNotFound})
	case errors.Is(err, services.ErrAlreadyAssigned):
		c.JSON(http.StatusConflict, gin.H{"error": msgAlreadyAssigned})
	default:
		rc.logger.WithError(err).WithFields(logrus.Fields{
			"request_id": middleware.GetRequestID(c),
			"path":       c.FullPath(),
		}).Error("review request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgServerError})
	}
}
