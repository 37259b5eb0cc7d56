package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/aftersales_backend/aftersales/memstore"
	"bitbucket.org/mmdatafocus/aftersales_backend/config"
	"bitbucket.org/mmdatafocus/aftersales_backend/middlewares"
	"bitbucket.org/mmdatafocus/aftersales_backend/models"
	"bitbucket.org/mmdatafocus/aftersales_backend/utils"
	"bitbucket.org/mmdatafocus/aftersales_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT_2")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until the service is built, app endpoints return 503.
	app := newApplication(logger)
	r := newRouter(app)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	if config.UseMemoryStorage() {
		store := memstore.New()
		memstore.SeedDemo(store, time.Now().UTC())
		svc, err := buildMemoryService(store, logger)
		if err != nil {
			logger.WithFields(logrus.Fields{"field": "startup"}).Fatal(err.Error())
		}
		if password := config.DemoPassword(); password != "" {
			login, err := memoryLogin(store, password)
			if err != nil {
				logger.WithFields(logrus.Fields{"field": "startup"}).Fatal(err.Error())
			}
			app.login = login
		}
		app.install(svc, store)
		logger.WithFields(logrus.Fields{
			"field": "startup",
			"users": []string{memstore.DemoAdminId, memstore.DemoBuyerId, memstore.DemoSupplierId},
		}).Warn("APP_STORAGE=memory; demo data loaded, cases are not persisted")
	} else {
		startMySQL(sigCtx, app)
	}

	if config.SLASweepEnabled() {
		sweeper := workflow.NewSLASweeper(app.service(), config.GetRedisLock(), logger)
		scheduler, err := sweeper.Start(config.SLASweepSchedule())
		if err != nil {
			logger.WithFields(logrus.Fields{"field": "SLASweeper"}).Fatal("invalid SLA_SWEEP_SCHEDULE: " + err.Error())
		}
		app.onShutdown(func() error {
			<-scheduler.Stop().Done()
			return nil
		})
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("after-sales api listening on port ", port)
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Drain HTTP requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Sweeper, pending notifications, then connections.
	app.close()
}

// startMySQL connects the database and redis, migrates, and installs the service.
func startMySQL(ctx context.Context, app *application) {
	logger := app.logger

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	if sqlDB, err := db.DB(); err == nil {
		app.onShutdown(sqlDB.Close)
	}
	app.onShutdown(func() error {
		if rdb := config.GetRedisDB(); rdb != nil {
			return rdb.Close()
		}
		return nil
	})

	// AutoMigrate can run DDL that blocks tables; allow running it as a separate job instead.
	if !config.SkipMigrations() {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	svc, names, err := app.buildMySQLService(ctx, db)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "startup"}).Fatal(err.Error())
	}
	app.login = models.Login
	app.install(svc, names)
}

// newRouter installs middleware and routes. It serves 503 until app.install runs.
func newRouter(app *application) *gin.Engine {
	r := gin.New()

	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Header("x-correlation-id", cid)
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if !app.ready() {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if config.IsProduction() {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", "x-correlation-id")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(middlewares.AuthMiddleware())
	r.Use(middlewares.LoaderMiddleware(lazyNames{app: app}))
	r.Use(customErrorLogger(app.logger))
	r.Use(gin.Recovery())

	r.POST("/auth/login", app.loginHandler)

	authed := r.Group("/", middlewares.RequireActor())
	authed.POST("/cases", app.openCaseHandler)
	authed.GET("/cases", app.listCasesHandler)
	authed.GET("/cases/counts", app.statusCountsHandler)
	authed.GET("/cases/export", app.exportCasesHandler)
	authed.GET("/cases/:id", app.caseDetailHandler)
	authed.GET("/cases/:id/logs", app.caseLogsHandler)
	authed.POST("/cases/:id/assign", app.assignHandler)
	authed.PUT("/cases/:id/resolution", app.updateResolutionHandler)
	authed.POST("/cases/:id/resolution/submit", app.submitResolutionHandler)
	authed.POST("/cases/:id/confirm", app.confirmHandler)
	authed.POST("/cases/:id/reject", app.rejectHandler)
	authed.POST("/cases/:id/replacement", app.replacementHandler)
	authed.POST("/cases/:id/status", app.overrideStatusHandler)
	authed.POST("/cases/:id/attachments", app.uploadAttachmentHandler)
	authed.GET("/cases/:id/attachments", app.listAttachmentsHandler)
	authed.GET("/attachments/:id/url", app.attachmentURLHandler)
	authed.GET("/provenance", app.provenanceHandler)

	r.NoRoute(customNotFoundHandler)
	return r
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			userId, _ := utils.GetUserIdFromContext(c.Request.Context())
			role, _ := utils.GetUserRoleFromContext(c.Request.Context())
			logger.WithFields(logrus.Fields{
				"path":          c.FullPath(),
				"correlationId": correlationId(c),
				"userId":        userId,
				"role":          role,
			}).Error(c.Errors.String())
		}
	}
}

func correlationId(c *gin.Context) string {
	cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
	return cid
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := "ratelimit:" + c.ClientIP()

	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the key doesn't exist, create it and set expiry.
	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
