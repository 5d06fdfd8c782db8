package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollcall/internal/auth"
	"rollcall/internal/config"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/identity"
	"rollcall/internal/ledger"
	"rollcall/internal/notify"
	"rollcall/internal/otp"
	"rollcall/internal/protocol"
	"rollcall/internal/queue"
	"rollcall/internal/session"
	"rollcall/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Printf("warning: db not reachable, using in-memory ledger and directory: %v", err)
		db = nil
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	// The redemption window outlives session expiry by the OTP TTL, so a
	// challenge issued just before the session closed can still complete.
	var sessions session.Store
	var challenges otp.Store
	if cfg.StoreBackend == "memory" {
		memSessions := session.NewMemoryStore(cfg.ExpirySkew, cfg.OTPTTL)
		memChallenges := otp.NewMemoryStore(cfg.ExpirySkew)
		startReaper(memSessions, memChallenges)
		sessions, challenges = memSessions, memChallenges
	} else {
		sessions = session.NewRedisStore(redisClient.Client, cfg.ExpirySkew, cfg.OTPTTL)
		challenges = otp.NewRedisStore(redisClient.Client, cfg.ExpirySkew)
	}

	engine := otp.NewEngine(challenges, sessions, otp.Params{
		TTL:         cfg.OTPTTL,
		Length:      cfg.OTPLength,
		MaxAttempts: cfg.OTPMaxAttempts,
		Skew:        cfg.ExpirySkew,
	})

	var records ledger.Ledger
	var directory identity.Directory
	if db != nil {
		records = ledger.NewRepository(db.Client)
		directory = identity.NewPostgresDirectory(db.Client)
	} else {
		records = ledger.NewMemory()
		directory = devDirectory()
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "rollcall:otp")
	}
	notifier := notify.NewQueueNotifier(q)

	metrics := protocol.NewMetrics(prometheus.DefaultRegisterer)
	coord := protocol.New(sessions, engine, records, directory, notifier, metrics, protocol.Config{
		SessionTTL: cfg.SessionTTL,
		OTPTTL:     cfg.OTPTTL,
		Skew:       cfg.ExpirySkew,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db != nil
		status := http.StatusOK
		if cfg.StoreBackend != "memory" && !redisHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	// Dev-only token minting; a real deployment fronts this with the identity
	// provider's login.
	if cfg.Env != "production" && cfg.Env != "prod" {
		r.POST("/v1/token", func(c *gin.Context) {
			var req struct {
				UserID string `json:"user_id" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			caller, err := directory.ResolveCaller(c.Request.Context(), req.UserID)
			if err != nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "unknown user"})
				return
			}
			token, exp, err := auth.Issue(caller.UserID, caller.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
				return
			}
			c.JSON(http.StatusCreated, gin.H{
				"access_token": token,
				"role":         caller.Role,
				"expires_at":   exp.Unix(),
			})
		})
	}

	teachers := r.Group("/v1", auth.RequireRole(cfg.JWTSigningKey, cfg.JWTIssuer,
		identity.RoleClassTeacher, identity.RoleSubTeacher))

	teachers.POST("/sessions", func(c *gin.Context) {
		var req struct {
			ClassID string `json:"class_id" binding:"required"`
			Subject string `json:"subject" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "invalid_input"})
			return
		}
		sess, payload, err := coord.IssueSession(c.Request.Context(), auth.CallerID(c), req.ClassID, req.Subject)
		if err != nil {
			writeProtocolError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"session_id": sess.ID,
			"payload":    payload.Encode(),
			"expires_at": sess.ExpiresAt,
		})
	})

	students := r.Group("/v1", auth.RequireRole(cfg.JWTSigningKey, cfg.JWTIssuer, identity.RoleStudent))

	students.POST("/attendance/scan", func(c *gin.Context) {
		var req struct {
			Payload   string `json:"payload"`
			SessionID string `json:"session_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "invalid_input"})
			return
		}
		var p protocol.Payload
		if req.Payload != "" {
			var err error
			if p, err = protocol.ParsePayload(req.Payload); err != nil {
				writeProtocolError(c, err)
				return
			}
		} else {
			p = protocol.Payload{SessionID: req.SessionID}
		}
		ch, err := coord.BeginVerification(c.Request.Context(), auth.CallerID(c), p)
		if err != nil {
			writeProtocolError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"message":    "verification code sent to your registered email",
			"expires_at": ch.ExpiresAt,
		})
	})

	students.POST("/attendance/verify", func(c *gin.Context) {
		var req struct {
			SessionID string `json:"session_id" binding:"required"`
			Code      string `json:"code" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "invalid_input"})
			return
		}
		rec, err := coord.CompleteVerification(c.Request.Context(), auth.CallerID(c), req.SessionID, req.Code)
		if err != nil {
			writeProtocolError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "attendance marked", "record": rec})
	})

	staff := r.Group("/v1", auth.RequireRole(cfg.JWTSigningKey, cfg.JWTIssuer,
		identity.RoleSuperAdmin, identity.RoleSubAdmin, identity.RoleClassTeacher, identity.RoleSubTeacher))

	staff.GET("/attendance", func(c *gin.Context) {
		f := ledger.Filters{
			ClassID:   c.Query("class_id"),
			StudentID: c.Query("student_id"),
			SessionID: c.Query("session_id"),
		}
		if v := c.Query("from"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				f.From = t
			}
		}
		if v := c.Query("to"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				f.To = t
			}
		}
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				f.Limit = parsed
			}
		}
		if v := c.Query("offset"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				f.Offset = parsed
			}
		}
		recs, err := coord.Query(c.Request.Context(), f)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": recs})
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// writeProtocolError maps a protocol error to its HTTP status and stable kind.
func writeProtocolError(c *gin.Context, err error) {
	kind := protocol.Kind(err)
	status := http.StatusInternalServerError
	switch kind {
	case "invalid_input", "session_expired", "code_expired", "code_mismatch", "no_challenge":
		status = http.StatusBadRequest
	case "not_found":
		status = http.StatusNotFound
	case "not_enrolled", "not_authorized":
		status = http.StatusForbidden
	case "too_many_attempts":
		status = http.StatusTooManyRequests
	case "already_marked", "duplicate_record":
		status = http.StatusConflict
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Printf("protocol internal error: %v", err)
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": msg, "kind": kind})
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}

// startReaper reclaims memory from lazily expired sessions and challenges.
// Correctness never depends on it.
func startReaper(sessions *session.MemoryStore, challenges *otp.MemoryStore) {
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			if n := sessions.Reap() + challenges.Reap(); n > 0 {
				log.Printf("reaped %d stale entries", n)
			}
		}
	}()
}

// devDirectory seeds a static directory so the flow is exercisable without a
// database, mirroring the default-admin bootstrap of the admin system.
func devDirectory() *identity.StaticDirectory {
	d := identity.NewStaticDirectory(
		identity.Caller{UserID: "T-100", Email: "teacher@school.local", Role: identity.RoleClassTeacher, ClassID: "C-1"},
		identity.Caller{UserID: "S-200", Email: "student@school.local", Role: identity.RoleStudent, ClassID: "C-1", RollNo: "1"},
	)
	log.Println("dev directory seeded: teacher T-100 (class C-1), student S-200")
	return d
}
