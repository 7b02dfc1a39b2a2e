// Package api exposes saved pages and task status over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rossigee/pagekeeper/internal/entities"
	"github.com/rossigee/pagekeeper/internal/jobs"
	"github.com/rossigee/pagekeeper/pkg/types"
)

// PageManager interface for saved page and task operations
type PageManager interface {
	SavePage(req types.SavePageRequest) (string, error)
	ListPages(ctx context.Context) ([]entities.SavedPage, error)
	GetPage(ctx context.Context, title entities.PageTitle) (entities.SavedPage, error)
	RemovePage(title entities.PageTitle) (string, error)
	ClearPages() (string, error)
	GetTaskStatus(taskID string) (*types.StatusResponse, error)
	CancelTask(taskID string) error
	GetActiveTasks() int
	StoreVersion(ctx context.Context) (int, error)
}

// Handler handles HTTP API requests
type Handler struct {
	manager   PageManager
	version   string
	startTime time.Time
}

// NewHandler creates a new API handler
func NewHandler(manager PageManager, version string) *Handler {
	return &Handler{
		manager:   manager,
		version:   version,
		startTime: time.Now(),
	}
}

// SetupRoutes configures the API routes. Routes under /api/v1 pass through
// the given middleware; health and metrics do not.
func SetupRoutes(router *gin.Engine, handler *Handler, middleware ...gin.HandlerFunc) {
	api := router.Group("/api/v1", middleware...)
	{
		api.POST("/saved-pages", handler.SavePage)
		api.GET("/saved-pages", handler.ListPages)
		api.DELETE("/saved-pages", handler.ClearPages)
		api.GET("/saved-pages/:site/*title", handler.GetPage)
		api.DELETE("/saved-pages/:site/*title", handler.RemovePage)
		api.GET("/tasks/:task_id", handler.GetTaskStatus)
		api.DELETE("/tasks/:task_id", handler.CancelTask)
	}

	router.GET("/health", handler.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, types.ErrorResponse{
		Error:   "invalid request",
		Message: message,
		Code:    http.StatusBadRequest,
	})
}

func accepted(c *gin.Context, taskID string) {
	c.JSON(http.StatusAccepted, types.TaskResponse{TaskID: taskID, Status: "accepted"})
}

func pageResponse(p entities.SavedPage) types.SavedPage {
	return types.SavedPage{
		Site:          p.Title.Site,
		Namespace:     p.Title.Namespace,
		Title:         p.Title.Text,
		PrefixedTitle: p.Title.PrefixedText(),
		SavedAt:       p.Timestamp,
	}
}

// titleParam reads :site and *title; a namespace may be given as a query
// parameter, in which case *title is the prefixed title.
func titleParam(c *gin.Context) (entities.PageTitle, error) {
	site := c.Param("site")
	prefixed := strings.TrimPrefix(c.Param("title"), "/")
	title := entities.ParseTitle(site, c.Query("namespace"), prefixed)
	return title, title.Validate()
}

// SavePage handles saved page creation requests
func (h *Handler) SavePage(c *gin.Context) {
	var req types.SavePageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	taskID, err := h.manager.SavePage(req)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	accepted(c, taskID)
}

// ListPages returns every saved page
func (h *Handler) ListPages(c *gin.Context) {
	pages, err := h.manager.ListPages(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error:   "failed to list saved pages",
			Message: err.Error(),
			Code:    http.StatusInternalServerError,
		})
		return
	}

	resp := types.SavedPageList{Pages: make([]types.SavedPage, 0, len(pages)), Count: len(pages)}
	for _, p := range pages {
		resp.Pages = append(resp.Pages, pageResponse(p))
	}
	c.JSON(http.StatusOK, resp)
}

// GetPage returns one saved page
func (h *Handler) GetPage(c *gin.Context) {
	title, err := titleParam(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	page, err := h.manager.GetPage(c.Request.Context(), title)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			c.JSON(http.StatusNotFound, types.ErrorResponse{
				Error:   "saved page not found",
				Message: err.Error(),
				Code:    http.StatusNotFound,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error:   "failed to look up saved page",
			Message: err.Error(),
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, pageResponse(page))
}

// RemovePage starts removing one saved page
func (h *Handler) RemovePage(c *gin.Context) {
	title, err := titleParam(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	taskID, err := h.manager.RemovePage(title)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	accepted(c, taskID)
}

// ClearPages starts deleting every saved page and its files
func (h *Handler) ClearPages(c *gin.Context) {
	taskID, err := h.manager.ClearPages()
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorResponse{
			Error:   "failed to clear saved pages",
			Message: err.Error(),
			Code:    http.StatusInternalServerError,
		})
		return
	}
	accepted(c, taskID)
}

// GetTaskStatus returns the status of a task
func (h *Handler) GetTaskStatus(c *gin.Context) {
	taskID := c.Param("task_id")
	if taskID == "" {
		badRequest(c, "task_id parameter is required")
		return
	}

	status, err := h.manager.GetTaskStatus(taskID)
	if err != nil {
		c.JSON(http.StatusNotFound, types.ErrorResponse{
			Error:   "task not found",
			Message: err.Error(),
			Code:    http.StatusNotFound,
		})
		return
	}

	c.JSON(http.StatusOK, status)
}

// CancelTask cancels a pending or running task
func (h *Handler) CancelTask(c *gin.Context) {
	taskID := c.Param("task_id")
	if taskID == "" {
		badRequest(c, "task_id parameter is required")
		return
	}

	if err := h.manager.CancelTask(taskID); err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, jobs.ErrNotFound) {
			code = http.StatusNotFound
		}
		c.JSON(code, types.ErrorResponse{
			Error:   "failed to cancel task",
			Message: err.Error(),
			Code:    code,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "cancelled",
		"task_id": taskID,
	})
}

// HealthCheck provides service health information
func (h *Handler) HealthCheck(c *gin.Context) {
	response := types.HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now(),
		Version:     h.version,
		Uptime:      time.Since(h.startTime).Round(time.Second).String(),
		ActiveTasks: h.manager.GetActiveTasks(),
	}

	version, err := h.manager.StoreVersion(c.Request.Context())
	if err != nil {
		response.Status = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}
	response.StoreVersion = version

	c.JSON(http.StatusOK, response)
}
