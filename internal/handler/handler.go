package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"qrmark/internal/attendance"
	"qrmark/internal/export"
	"qrmark/internal/metrics"
	"qrmark/internal/qrlink"
	"qrmark/internal/slot"
	"qrmark/internal/store"
)

// Confirmation phrases the admin must type before destructive actions.
const (
	confirmArchive = "ARCHIVE"
	confirmClear   = "CLEAR"
)

var timeNow = time.Now

type Handler struct {
	slots         *slot.Manager
	svc           *attendance.Service
	store         *store.CSVStore
	links         *qrlink.Builder
	qrSecret      string
	adminPassword string
}

func New(slots *slot.Manager, svc *attendance.Service, st *store.CSVStore, links *qrlink.Builder, qrSecret, adminPassword string) *Handler {
	return &Handler{slots: slots, svc: svc, store: st, links: links, qrSecret: qrSecret, adminPassword: adminPassword}
}

// Register mounts all routes on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/", h.Index)
	r.POST("/submit", h.Submit)
	r.GET("/qr.png", h.QRImage)
	r.GET("/healthz", h.Healthz)

	admin := r.Group("/admin")
	admin.GET("", h.AdminConsole)
	admin.POST("/login", h.AdminLogin)
	admin.GET("/logout", h.AdminLogout)
	admin.GET("/export.csv", h.ExportCSV)
	admin.GET("/export.xlsx", h.ExportXLSX)
	admin.POST("/archive", h.AdminArchive)
	admin.POST("/clear", h.AdminClear)
}

// pageData feeds the attendance page template in all of its states.
type pageData struct {
	SlotKey     string
	ExpiresIn   int
	Link        string
	FallbackCID string
	Key         string
	Secret      string
	CID         string
	NeedsCID    bool
	Error       string
	Success     string
}

func (h *Handler) pageData(c *gin.Context) pageData {
	current, err := h.slots.Current()
	if err != nil {
		// Current always hands back a usable slot; the write failure is
		// already logged.
		log.WithError(err).Warn("serving page with unpersisted slot")
	}

	key := c.Query("key")
	secret := c.Query("s")
	cid := c.Query("cid")

	return pageData{
		SlotKey:     current.Key,
		ExpiresIn:   current.ExpiresIn(h.slots.TTL(), timeNow()),
		Link:        h.links.Link(current.Key, ""),
		FallbackCID: newFallbackCID(),
		Key:         key,
		Secret:      secret,
		CID:         cid,
		NeedsCID:    key != "" && key == current.Key && secret == h.qrSecret && cid == "",
	}
}

// Index renders the attendance page. When the request carries a valid slot and
// secret but no device id, the template's redirect script attaches one and
// reloads before the form is usable.
func (h *Handler) Index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", h.pageData(c))
}

// Submit handles the attendance form.
func (h *Handler) Submit(c *gin.Context) {
	current, _ := h.slots.Current()

	req := attendance.Request{
		SlotKey:  c.PostForm("key"),
		Secret:   c.PostForm("s"),
		DeviceID: c.PostForm("cid"),
		Name:     c.PostForm("name"),
		Email:    c.PostForm("email"),
	}

	data := h.pageData(c)
	data.Key = req.SlotKey
	data.Secret = req.Secret
	data.CID = req.DeviceID
	data.NeedsCID = false

	if _, err := h.svc.Submit(current.Key, req); err != nil {
		metrics.Submissions.WithLabelValues(rejectionLabel(err)).Inc()
		data.Error = err.Error()
		c.HTML(http.StatusOK, "index.html", data)
		return
	}

	metrics.Submissions.WithLabelValues("accepted").Inc()
	data.Success = "Attendance marked — thank you!"
	c.HTML(http.StatusOK, "index.html", data)
}

// QRImage serves the PNG for the canonical link of the current slot. The
// canonical link never embeds a cid; the scanning browser attaches its own.
func (h *Handler) QRImage(c *gin.Context) {
	current, _ := h.slots.Current()
	png, err := h.links.QRPNG(h.links.Link(current.Key, ""))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "qr render failed"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) Healthz(c *gin.Context) {
	if _, err := h.slots.Current(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "slot": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ---------- Admin ----------

type adminData struct {
	Authed  bool
	Rows    []export.Row
	SlotKey string
	Error   string
	Notice  string
}

func (h *Handler) adminData(c *gin.Context) adminData {
	current, _ := h.slots.Current()
	return adminData{
		Authed:  isAdmin(c),
		Rows:    export.Project(h.store.ReadAll()),
		SlotKey: current.Key,
	}
}

func (h *Handler) AdminConsole(c *gin.Context) {
	c.HTML(http.StatusOK, "admin.html", h.adminData(c))
}

func (h *Handler) AdminLogin(c *gin.Context) {
	if c.PostForm("password") != h.adminPassword {
		data := h.adminData(c)
		data.Error = "Wrong admin password."
		c.HTML(http.StatusUnauthorized, "admin.html", data)
		return
	}
	s := sessions.Default(c)
	s.Set("admin", true)
	if err := s.Save(); err != nil {
		log.WithError(err).Error("admin session save failed")
	}
	c.Redirect(http.StatusFound, "/admin")
}

func (h *Handler) AdminLogout(c *gin.Context) {
	s := sessions.Default(c)
	s.Clear()
	_ = s.Save()
	c.Redirect(http.StatusFound, "/admin")
}

func (h *Handler) ExportCSV(c *gin.Context) {
	if !isAdmin(c) {
		c.Redirect(http.StatusFound, "/admin")
		return
	}
	out, err := export.CSV(export.Project(h.store.ReadAll()))
	if err != nil {
		h.renderExportError(c, err)
		return
	}
	metrics.Exports.WithLabelValues("csv").Inc()
	c.Header("Content-Disposition", `attachment; filename="attendance.csv"`)
	c.Data(http.StatusOK, "text/csv", out)
}

func (h *Handler) ExportXLSX(c *gin.Context) {
	if !isAdmin(c) {
		c.Redirect(http.StatusFound, "/admin")
		return
	}
	out, err := export.XLSX(export.Project(h.store.ReadAll()))
	if err != nil {
		h.renderExportError(c, err)
		return
	}
	metrics.Exports.WithLabelValues("xlsx").Inc()
	c.Header("Content-Disposition", `attachment; filename="attendance.xlsx"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", out)
}

// renderExportError keeps the record view on screen and shows the cause.
func (h *Handler) renderExportError(c *gin.Context, err error) {
	log.WithError(err).Error("export failed")
	data := h.adminData(c)
	data.Error = "Export failed: " + err.Error()
	c.HTML(http.StatusInternalServerError, "admin.html", data)
}

func (h *Handler) AdminArchive(c *gin.Context) {
	data := h.adminData(c)
	switch {
	case !data.Authed:
		data.Error = "Enter the admin password first."
	case c.PostForm("confirm") != confirmArchive:
		data.Error = "Type ARCHIVE (exact) to confirm before archiving."
	default:
		dest, err := h.store.Archive()
		if err != nil {
			data.Error = "Archive failed: " + err.Error()
		} else {
			data.Notice = "Archived to: " + dest
			data.Rows = nil
		}
	}
	c.HTML(http.StatusOK, "admin.html", data)
}

func (h *Handler) AdminClear(c *gin.Context) {
	data := h.adminData(c)
	switch {
	case !data.Authed:
		data.Error = "Enter the admin password first."
	case c.PostForm("confirm") != confirmClear:
		data.Error = "Type CLEAR (exact) to confirm before clearing."
	default:
		if err := h.store.Clear(); err != nil {
			data.Error = "Clear failed: " + err.Error()
		} else {
			data.Notice = "Current records cleared — new empty file created."
			data.Rows = nil
		}
	}
	c.HTML(http.StatusOK, "admin.html", data)
}

func isAdmin(c *gin.Context) bool {
	authed, _ := sessions.Default(c).Get("admin").(bool)
	return authed
}

func rejectionLabel(err error) string {
	switch {
	case errors.Is(err, attendance.ErrInvalidLink):
		return "invalid_link"
	case errors.Is(err, attendance.ErrMissingDevice):
		return "missing_device"
	case errors.Is(err, attendance.ErrMissingFields):
		return "missing_fields"
	case errors.Is(err, attendance.ErrDuplicateDevice):
		return "duplicate_device"
	case errors.Is(err, attendance.ErrDuplicateEmail):
		return "duplicate_email"
	default:
		return "store_error"
	}
}

// newFallbackCID is handed to the page for browsers without
// crypto.randomUUID, mirroring the server-seeded fallback of the original
// design.
func newFallbackCID() string {
	return uuid.NewString()
}
