// Job status HTTP handlers.
//
// This file exposes read-only endpoints over the job ledger:
//   - GET /jobs/{id}               (single job)
//   - GET /senders/{id}/jobs       (a sender's jobs, paginated)
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-person-blocker/internal/domain"
	"github.com/tbourn/go-person-blocker/internal/services"
	"github.com/tbourn/go-person-blocker/internal/utils"
)

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListJobsResponse wraps a page of jobs and pagination information.
type ListJobsResponse struct {
	Jobs       []domain.Job `json:"jobs"`
	Pagination Pagination   `json:"pagination"`
}

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// GetJob godoc
// @ID          getJob
// @Summary     Get a job
// @Description Returns the ledger entry of one submitted image.
// @Tags        Jobs
// @Produce     json
//
// @Param       id  path  string  true  "Job ID (UUID)"  format(uuid)
//
// @Success     200  {object}  domain.Job
// @Failure     404  {object}  handlers.ErrorResponse  "Job not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /api/v1/jobs/{id} [get]
func (h *Handlers) GetJob(c *gin.Context) {
	job, err := h.jobs.Get(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, services.ErrJobNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "job not found")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeLookupFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, job)
}

// ListSenderJobs godoc
// @ID          listSenderJobs
// @Summary     List a sender's jobs (paginated)
// @Description Returns a page of the jobs submitted by one sender, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Jobs
// @Produce     json
//
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       id         path   string  true   "Sender ID"
// @Param       page       query  int     false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListJobsResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string  "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /api/v1/senders/{id}/jobs [get]
func (h *Handlers) ListSenderJobs(c *gin.Context) {
	senderID := strings.TrimSpace(c.Param("id"))
	if senderID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "sender id required")
		return
	}
	page, pageSize := clampPagination(c)
	ctx := c.Request.Context()

	// ETag pre-check (best effort).
	if count, maxTS, err := h.jobs.Stats(ctx, senderID); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := fmt.Sprintf(`W/"jobs:%s:%d:%d:%d:%d"`, senderID, count, ts, page, pageSize)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.jobs.ListPage(ctx, senderID, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := utils.TotalPages(total, pageSize)
	ok(c, http.StatusOK, ListJobsResponse{
		Jobs: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}
