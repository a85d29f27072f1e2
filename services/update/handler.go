package update

import (
	"net/http"

	"updater-controlplane/pkg/db/pagination"
	"updater-controlplane/pkg/errutil"

	"github.com/gin-gonic/gin"
)

const OperatorHeader = "X-Operator-ID"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	g := r.Group("/api/updates")
	g.GET("/info", h.Info)
	g.GET("/check", h.Check)
	g.POST("/start", h.Start)
	g.GET("/status/:id", h.Status)
	g.POST("/rollback/:id", h.Rollback)
	g.GET("/history", h.History)
	g.GET("/license", h.License)
	g.POST("/license", h.SaveLicense)
}

func (h *Handler) Info(c *gin.Context) {
	out, err := h.svc.Info(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (h *Handler) Check(c *gin.Context) {
	out, err := h.svc.Check(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (h *Handler) Start(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid parameters", err))
		return
	}

	log, err := h.svc.StartUpdate(c.Request.Context(), req, c.GetHeader(OperatorHeader))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{
		"updateId": log.ID,
		"status":   log.Status,
		"message":  "update started",
	}})
}

func (h *Handler) Status(c *gin.Context) {
	out, err := h.svc.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (h *Handler) Rollback(c *gin.Context) {
	log, err := h.svc.Rollback(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"success": true,
		"status":  log.Status,
		"message": log.Details.Data().Message,
	}})
}

func (h *Handler) History(c *gin.Context) {
	var p pagination.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		p = pagination.Pagination{}
	}

	p = p.Normalize()

	out, err := h.svc.History(c.Request.Context(), p.Limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	total, err := h.svc.HistoryTotal(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out, "meta": gin.H{"limit": p.Limit, "total": total}})
}

func (h *Handler) License(c *gin.Context) {
	out, err := h.svc.LicenseInfo(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

type saveLicenseRequest struct {
	LicenseKey string `json:"licenseKey" binding:"required,min=10"`
}

func (h *Handler) SaveLicense(c *gin.Context) {
	var req saveLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid license key format", err))
		return
	}

	res, err := h.svc.ActivateLicense(c.Request.Context(), req.LicenseKey)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if !res.Valid {
		_ = c.Error(errutil.BadRequest(res.Message, nil))
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"success": true,
		"message": res.Message,
		"license": gin.H{
			"tier":      res.Tier,
			"expiresAt": res.ExpiresAt,
			"features":  res.Features,
		},
	}})
}
