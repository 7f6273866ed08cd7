package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"runserver/internal/microservices/tcp"
	"runserver/internal/store"

	"github.com/VictoriaMetrics/metrics"
	"github.com/gin-gonic/gin"
)

type tokenRequest struct {
	Password string `json:"password" binding:"required"`
}

// Handler serves read-only views of a running TCP server
type Handler struct {
	server  *tcp.TCPServer
	store   store.Client
	table   string
	auth    *Auth
	timeout time.Duration
}

func NewHandler(server *tcp.TCPServer, st store.Client, auth *Auth) *Handler {
	opts := server.Options()
	return &Handler{
		server:  server,
		store:   st,
		table:   opts.Table,
		auth:    auth,
		timeout: opts.StoreTimeout,
	}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.POST("/token", h.Token)

	protected := r.Group("/", h.auth.Middleware())
	protected.GET("/clients", h.Clients)
	protected.GET("/sessions", h.Sessions)
	protected.GET("/records", h.Records)
	protected.GET("/metrics", h.Metrics)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"sessions":  h.server.Manager.Count(),
		"logged_in": h.server.Registry.Len(),
	})
}

// Token exchanges the admin password for a bearer token
func (h *Handler) Token(c *gin.Context) {
	var in tokenRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token, exp, err := h.auth.IssueToken(in.Password)
	switch {
	case errors.Is(err, ErrAuthDisabled):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, ErrInvalidPassword):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": exp.UTC()})
}

// Clients returns the login registry as client id -> content id
func (h *Handler) Clients(c *gin.Context) {
	c.JSON(http.StatusOK, h.server.Registry.Snapshot())
}

func (h *Handler) Sessions(c *gin.Context) {
	c.JSON(http.StatusOK, h.server.Manager.Sessions())
}

// Records lists every row of the configured table
func (h *Handler) Records(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	records, err := h.store.ListAllRecords(ctx, h.table)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, records)
}

// Metrics writes the server metrics plus process metrics in Prometheus text format
func (h *Handler) Metrics(c *gin.Context) {
	c.Header("Content-Type", "text/plain; version=0.0.4")
	c.Status(http.StatusOK)
	h.server.WritePrometheus(c.Writer)
	metrics.WriteProcessMetrics(c.Writer)
}
