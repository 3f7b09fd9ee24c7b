package core

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scenefall/scenectl/internal/auth"
	"github.com/scenefall/scenectl/internal/engine"
	"github.com/scenefall/scenectl/internal/observability"
	"github.com/scenefall/scenectl/internal/protocol"
)

const opsTokenHeader = "X-Scenectl-Token"

// opsRouter builds the operational HTTP surface: health, readiness,
// Prometheus metrics, and the current status snapshot.
func (s *Service) opsRouter() *gin.Engine {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(s.log))
	r.Use(observability.RequestMetricsMiddleware())
	if len(s.cfg.Ops.CorsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: s.cfg.Ops.CorsOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.startedAt).String(),
			"component": "scenectl",
		})
	})

	r.GET("/ready", func(c *gin.Context) {
		sess := s.Session()
		ready := sess != nil
		c.JSON(http.StatusOK, gin.H{
			"ready":  ready,
			"uptime": time.Since(s.startedAt).String(),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/status", func(c *gin.Context) {
		snap := s.StatusSnapshot()
		sessState := ""
		if sess := s.Session(); sess != nil {
			sessState = string(sess.State())
		}
		c.JSON(http.StatusOK, gin.H{
			"scene":               snap.Scene,
			"mode":                snap.Mode,
			"session_state":       sessState,
			"remote_active":       snap.RemoteActive,
			"telemetry_connected": snap.TelemetryConnected,
			"ingest_active":       snap.IngestActive,
			"health":              snap.Health,
			"grace_remaining_sec": snap.GraceRemainingSec,
			"pending_switches":    len(s.pending.List()),
		})
	})

	s.registerControlRoutes(r)
	return r
}

type switchRequestBody struct {
	Scene string `json:"scene"`
}

// registerControlRoutes mounts the token-gated manual control surface.
// An unset token disables its role entirely.
func (s *Service) registerControlRoutes(r *gin.Engine) {
	authz := auth.StaticTokens{
		Admin:    s.cfg.Ops.AdminToken,
		Operator: s.cfg.Ops.OperatorToken,
		Chat:     s.cfg.Ops.ChatToken,
	}

	control := r.Group("/control", func(c *gin.Context) {
		role, err := authz.Authorize(strings.TrimSpace(c.GetHeader(opsTokenHeader)))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set("role", role)
	})

	control.POST("/switch", func(c *gin.Context) {
		var body switchRequestBody
		if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Scene) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "scene is required"})
			return
		}
		role := c.MustGet("role").(auth.Role)
		s.SubmitManual(engine.ManualCommand{
			Scene:         strings.TrimSpace(body.Scene),
			Requester:     string(role),
			Authorized:    true,
			AdminOverride: role == auth.RoleAdmin,
			FromChat:      role == auth.RoleChat,
		})
		c.JSON(http.StatusAccepted, gin.H{"status": "queued", "scene": body.Scene})
	})

	control.POST("/activate", requireRole(auth.RoleOperator, func(c *gin.Context) {
		s.RequestRemoteActivation()
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
	}))
	control.POST("/deactivate", requireRole(auth.RoleOperator, func(c *gin.Context) {
		s.RequestDeactivation()
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
	}))
	control.POST("/shutdown-shim", func(c *gin.Context) {
		if c.MustGet("role").(auth.Role) != auth.RoleAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin token required"})
			return
		}
		env, err := protocol.New(protocol.TypeShutdownRequest, protocol.ShutdownRequest{Reason: "operator request"})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		s.lanes.Enqueue(env)
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
	})

	control.POST("/override/:state", requireRole(auth.RoleOperator, func(c *gin.Context) {
		switch c.Param("state") {
		case "on":
			s.SetManualOverride(true)
		case "off":
			s.SetManualOverride(false)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "state must be on or off"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}))
}

// requireRole rejects chat callers; operators and admins pass.
func requireRole(min auth.Role, h gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.MustGet("role").(auth.Role)
		if role == auth.RoleChat && min != auth.RoleChat {
			c.JSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		h(c)
	}
}

// serveOps runs the ops listener until ctx cancels.
func (s *Service) serveOps(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.opsRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info().Str("addr", addr).Msg("ops surface listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
