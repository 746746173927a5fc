package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/thebeacon-app/beacon-alerts/internal/models"
	"github.com/thebeacon-app/beacon-alerts/internal/orchestrator"
	"github.com/thebeacon-app/beacon-alerts/internal/store"
)

// Scraper is the orchestrator surface the handlers call.
type Scraper interface {
	TriggerNow(ctx context.Context) (*orchestrator.CycleStatus, error)
	SearchCity(ctx context.Context, city string) (*orchestrator.SearchResult, error)
	Status() *orchestrator.CycleStatus
}

type Handler struct {
	store      store.AlertStore
	scraper    Scraper
	adminToken string
}

func NewHandler(alerts store.AlertStore, scraper Scraper, adminToken string) *Handler {
	return &Handler{
		store:      alerts,
		scraper:    scraper,
		adminToken: adminToken,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)

	alerts := r.Group("/alerts")
	{
		alerts.GET("", h.listAlerts)
		alerts.GET("/my-location", h.listMyLocation)
		alerts.GET("/city/:city", h.listByCity)
		alerts.GET("/search/:city", h.searchCity)
		alerts.GET("/stats/overview", h.statsOverview)
		alerts.GET("/recent/24h", h.recent24h)
		alerts.GET("/cities/available", h.availableCities)
		alerts.GET("/scrape/status", h.scrapeStatus)
		alerts.GET("/:id", h.getAlert)

		admin := alerts.Group("", h.requireAdmin)
		{
			admin.POST("", h.createAlert)
			admin.PUT("/:id", h.updateAlert)
			admin.DELETE("/:id", h.deactivateAlert)
			admin.POST("/:id/verify", h.verifyAlert)
			admin.POST("/scrape", h.triggerScrape)
		}
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// requireAdmin guards mutation endpoints with the configured token.
// Identity management lives elsewhere; this is only the shared-secret
// check for operator actions.
func (h *Handler) requireAdmin(c *gin.Context) {
	if h.adminToken == "" {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin endpoints disabled"})
		return
	}
	token := c.GetHeader("X-Admin-Token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.Next()
}

func (h *Handler) listAlerts(c *gin.Context) {
	filter := filterFromQuery(c)
	h.respondList(c, filter)
}

// listMyLocation filters by the caller's stored location, forwarded by
// the auth layer as headers.
func (h *Handler) listMyLocation(c *gin.Context) {
	city := c.GetHeader("X-User-City")
	state := c.GetHeader("X-User-State")
	if city == "" && state == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no location on profile"})
		return
	}

	filter := filterFromQuery(c)
	filter.City = city
	filter.State = state
	h.respondList(c, filter)
}

func (h *Handler) listByCity(c *gin.Context) {
	filter := filterFromQuery(c)
	filter.City = c.Param("city")
	h.respondList(c, filter)
}

func (h *Handler) respondList(c *gin.Context, filter store.Filter) {
	alerts, total, err := h.store.FindActive(c.Request.Context(), filter)
	if err != nil {
		slog.Error("list alerts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch alerts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"alerts":   alerts,
		"total":    total,
		"page":     filter.Page,
		"pageSize": filter.PageSize,
	})
}

// searchCity is the live bypass path: it queries the sources directly and
// never reads or writes the store.
func (h *Handler) searchCity(c *gin.Context) {
	result, err := h.scraper.SearchCity(c.Request.Context(), c.Param("city"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) getAlert(c *gin.Context) {
	alert, err := h.store.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	if err != nil {
		slog.Error("get alert", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch alert"})
		return
	}

	if err := h.store.IncrementViews(c.Request.Context(), alert.ID); err != nil {
		slog.Warn("increment views", "id", alert.ID, "error", err)
	}

	c.JSON(http.StatusOK, alert)
}

func (h *Handler) statsOverview(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		slog.Error("stats overview", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) recent24h(c *gin.Context) {
	since := time.Now().Add(-24 * time.Hour)
	filter := filterFromQuery(c)
	filter.Since = &since
	h.respondList(c, filter)
}

func (h *Handler) availableCities(c *gin.Context) {
	cities, err := h.store.AvailableCities(c.Request.Context())
	if err != nil {
		slog.Error("available cities", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch cities"})
		return
	}
	if cities == nil {
		cities = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"cities": cities})
}

type areaRequest struct {
	City  string `json:"city"`
	State string `json:"state" binding:"required"`
}

type createAlertRequest struct {
	Type          string        `json:"type" binding:"required"`
	Severity      string        `json:"severity" binding:"required"`
	Title         string        `json:"title" binding:"required"`
	Description   string        `json:"description"`
	AffectedAreas []areaRequest `json:"affectedAreas" binding:"required,min=1,dive"`
	SourceURL     string        `json:"sourceUrl"`
	ExpiresAt     *time.Time    `json:"expiresAt"`
}

// createAlert is the manual admin path. Manual alerts are born verified.
func (h *Handler) createAlert(c *gin.Context) {
	var req createAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	alertType := models.AlertType(req.Type)
	severity := models.Severity(req.Severity)
	if !alertType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert type: " + req.Type})
		return
	}
	if !severity.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid severity: " + req.Severity})
		return
	}

	now := time.Now().UTC()
	id := uuid.NewString()
	alert := &models.Alert{
		ID:            id,
		DedupKey:      "manual_" + id,
		Type:          alertType,
		Severity:      severity,
		Title:         req.Title,
		Description:   req.Description,
		AffectedAreas: toAreas(req.AffectedAreas),
		Sources:       []models.Source{models.SourceManual},
		SourceURL:     req.SourceURL,
		IssuedAt:      now,
		ExpiresAt:     req.ExpiresAt,
		IsVerified:    true,
		IsActive:      true,
		Priority:      models.ComputePriority(severity, now, now),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := h.store.UpsertByKey(c.Request.Context(), alert); err != nil {
		slog.Error("create alert", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create alert"})
		return
	}

	c.JSON(http.StatusCreated, alert)
}

type updateAlertRequest struct {
	Type          *string       `json:"type"`
	Severity      *string       `json:"severity"`
	Title         *string       `json:"title"`
	Description   *string       `json:"description"`
	AffectedAreas []areaRequest `json:"affectedAreas" binding:"omitempty,min=1,dive"`
	SourceURL     *string       `json:"sourceUrl"`
	ExpiresAt     *time.Time    `json:"expiresAt"`
	IsActive      *bool         `json:"isActive"`
}

func (h *Handler) updateAlert(c *gin.Context) {
	var req updateAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	alert, err := h.store.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	if err != nil {
		slog.Error("load alert for update", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch alert"})
		return
	}

	if req.Type != nil {
		t := models.AlertType(*req.Type)
		if !t.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert type: " + *req.Type})
			return
		}
		alert.Type = t
	}
	if req.Severity != nil {
		sev := models.Severity(*req.Severity)
		if !sev.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid severity: " + *req.Severity})
			return
		}
		alert.Severity = sev
	}
	if req.Title != nil {
		alert.Title = *req.Title
	}
	if req.Description != nil {
		alert.Description = *req.Description
	}
	if req.AffectedAreas != nil {
		alert.AffectedAreas = toAreas(req.AffectedAreas)
	}
	if req.SourceURL != nil {
		alert.SourceURL = *req.SourceURL
	}
	if req.ExpiresAt != nil {
		alert.ExpiresAt = req.ExpiresAt
	}
	if req.IsActive != nil {
		alert.IsActive = *req.IsActive
	}

	now := time.Now().UTC()
	alert.Priority = models.ComputePriority(alert.Severity, alert.IssuedAt, now)
	alert.UpdatedAt = now

	if err := h.store.Update(c.Request.Context(), alert); err != nil {
		slog.Error("update alert", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update alert"})
		return
	}

	c.JSON(http.StatusOK, alert)
}

// deactivateAlert is a soft delete; history stays queryable.
func (h *Handler) deactivateAlert(c *gin.Context) {
	err := h.store.SetActive(c.Request.Context(), c.Param("id"), false)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	if err != nil {
		slog.Error("deactivate alert", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to deactivate alert"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deactivated"})
}

func (h *Handler) verifyAlert(c *gin.Context) {
	err := h.store.SetVerified(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	if err != nil {
		slog.Error("verify alert", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify alert"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "verified"})
}

func (h *Handler) triggerScrape(c *gin.Context) {
	status, err := h.scraper.TriggerNow(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "status": status})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) scrapeStatus(c *gin.Context) {
	status := h.scraper.Status()
	if status == nil {
		c.JSON(http.StatusOK, gin.H{"status": "no cycle completed yet"})
		return
	}
	c.JSON(http.StatusOK, status)
}

func filterFromQuery(c *gin.Context) store.Filter {
	filter := store.Filter{
		Page:     1,
		PageSize: 20,
	}

	if t := c.Query("type"); t != "" {
		at := models.AlertType(t)
		if at.Valid() {
			filter.Type = &at
		}
	}
	if s := c.Query("severity"); s != "" {
		sev := models.Severity(s)
		if sev.Valid() {
			filter.Severity = &sev
		}
	}
	filter.City = c.Query("city")
	filter.State = c.Query("state")

	if p := c.Query("page"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			filter.Page = n
		}
	}
	if ps := c.Query("page_size"); ps != "" {
		if n, err := strconv.Atoi(ps); err == nil && n > 0 && n <= 100 {
			filter.PageSize = n
		}
	}
	if c.Query("include_inactive") == "true" {
		filter.IncludeInactive = true
	}

	return filter
}

func toAreas(reqs []areaRequest) []models.Area {
	areas := make([]models.Area, 0, len(reqs))
	for _, r := range reqs {
		areas = append(areas, models.Area{City: r.City, State: r.State})
	}
	return areas
}
