package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/gin-gonic/gin"

	"newsletter/internal/app"
	"newsletter/internal/apperr"
	"newsletter/internal/models"
)

// APIResponse is the envelope of every /api response.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type addArticleRequest struct {
	URL string `json:"url" binding:"required"`
}

type addArticleResponse struct {
	Article  *models.Article            `json:"article"`
	Keywords []models.KeywordOccurrence `json:"keywords"`
}

type ingestRequest struct {
	URLs []string `json:"urls" binding:"required,min=1"`
}

func ok(c *gin.Context, status int, message string, data any) {
	c.JSON(status, APIResponse{Success: true, Message: message, Data: data})
}

func fail(c *gin.Context, err error) {
	status := apperr.HTTPStatus(apperr.KindOf(err))
	resp := APIResponse{Success: false, Message: err.Error(), Error: err.Error()}
	if status == http.StatusInternalServerError {
		resp = APIResponse{Success: false, Message: "internal error"}
	}
	c.AbortWithStatusJSON(status, resp)
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation("server.queryInt", fmt.Sprintf("%s must be an integer", name))
	}
	return n, nil
}

func queryDate(c *gin.Context, name string) (time.Time, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil {
		return time.Time{}, apperr.Validation("server.queryDate", fmt.Sprintf("%s is not a valid date", name))
	}
	return t, nil
}

func paramSeq(c *gin.Context) (int64, error) {
	seq, err := strconv.ParseInt(c.Param("seq"), 10, 64)
	if err != nil || seq <= 0 {
		return 0, apperr.Validation("server.paramSeq", "seq must be a positive integer")
	}
	return seq, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	h := s.svc.Health(c.Request.Context())
	status := http.StatusOK
	if h.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, APIResponse{Success: status == http.StatusOK, Data: h})
}

func (s *Server) handleAddArticle(c *gin.Context) {
	var req addArticleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperr.Validation("server.addArticle", "request body must be {\"url\": \"...\"}"))
		return
	}

	article, err := s.svc.AddArticle(c.Request.Context(), req.URL)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, "Article added successfully", addArticleResponse{
		Article:  article,
		Keywords: article.Keywords,
	})
}

func (s *Server) handleDeleteArticle(c *gin.Context) {
	seq, err := paramSeq(c)
	if err != nil {
		fail(c, err)
		return
	}
	if err := s.svc.DeleteArticle(c.Request.Context(), seq); err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, "Article deleted successfully", nil)
}

func (s *Server) handleRecentArticles(c *gin.Context) {
	days, err := queryInt(c, "days", app.DefaultWindowDays)
	if err != nil {
		fail(c, err)
		return
	}
	limit, err := queryInt(c, "limit", app.DefaultLimit)
	if err != nil {
		fail(c, err)
		return
	}

	arts, err := s.svc.RecentArticles(c.Request.Context(), days, limit)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, "", arts)
}

func (s *Server) handleSearchArticles(c *gin.Context) {
	var (
		f   models.ArticleFilter
		err error
	)
	f.Query = c.Query("keyword")
	if f.Limit, err = queryInt(c, "limit", app.DefaultLimit); err != nil {
		fail(c, err)
		return
	}
	if f.StartDate, err = queryDate(c, "startDate"); err != nil {
		fail(c, err)
		return
	}
	if f.EndDate, err = queryDate(c, "endDate"); err != nil {
		fail(c, err)
		return
	}

	arts, err := s.svc.SearchArticles(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, "", arts)
}

func (s *Server) handleTopKeywords(c *gin.Context) {
	days, err := queryInt(c, "days", app.DefaultWindowDays)
	if err != nil {
		fail(c, err)
		return
	}
	limit, err := queryInt(c, "limit", s.cfg.Keywords.Cap)
	if err != nil {
		fail(c, err)
		return
	}

	ranked, err := s.svc.TopKeywords(c.Request.Context(), days, limit)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, "", ranked)
}

func (s *Server) handleRelatedArticles(c *gin.Context) {
	limit, err := queryInt(c, "limit", app.DefaultRelatedLimit)
	if err != nil {
		fail(c, err)
		return
	}

	arts, err := s.svc.RelatedArticles(c.Request.Context(), c.Param("keyword"), limit)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, "", arts)
}

func (s *Server) handleAdminArticles(c *gin.Context) {
	page, err := queryInt(c, "page", 1)
	if err != nil {
		fail(c, err)
		return
	}
	limit, err := queryInt(c, "limit", app.DefaultLimit)
	if err != nil {
		fail(c, err)
		return
	}

	result, err := s.svc.AdminArticles(c.Request.Context(), page, limit)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, "", result)
}

func (s *Server) handleArticleDetail(c *gin.Context) {
	seq, err := paramSeq(c)
	if err != nil {
		fail(c, err)
		return
	}
	article, err := s.svc.ArticleDetail(c.Request.Context(), seq)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, "", article)
}

func (s *Server) handleReindexArticle(c *gin.Context) {
	seq, err := paramSeq(c)
	if err != nil {
		fail(c, err)
		return
	}
	article, err := s.svc.ReindexArticle(c.Request.Context(), seq)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, "Article reindexed", article)
}

func (s *Server) handleIngest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperr.Validation("server.ingest", "request body must be {\"urls\": [\"...\"]}"))
		return
	}
	if maxURLs := s.cfg.Ingest.MaxURLs; maxURLs > 0 && len(req.URLs) > maxURLs {
		fail(c, apperr.Validation("server.ingest", fmt.Sprintf("at most %d urls per batch", maxURLs)))
		return
	}

	// A batch may run far longer than the server write timeout.
	if err := http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{}); err != nil {
		s.log.Warn("failed to clear write deadline", "error", err)
	}

	summary := s.svc.IngestAll(c.Request.Context(), req.URLs, app.BatchOptions{
		Workers: s.cfg.Ingest.Workers,
		Delay:   s.cfg.Ingest.Delay(),
		MaxURLs: s.cfg.Ingest.MaxURLs,
	})
	ok(c, http.StatusOK, "", summary)
}

func (s *Server) handleStats(c *gin.Context) {
	st, err := s.svc.Stats(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, "", st)
}
