package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	database "github.com/voiceframe/voiceframe-backend/internal"
	"github.com/voiceframe/voiceframe-backend/internal/api"
	"github.com/voiceframe/voiceframe-backend/internal/events"
)

func main() {
	database.Connect()

	port := os.Getenv("PORT")
	if port == "" {
		port = os.Getenv("VF_PORT")
	}
	if port == "" {
		port = "8080"
	}
	log.Println("Starting VoiceFrame backend on :" + port + "...")

	router := gin.Default()
	// OpenTelemetry tracing (optional)
	if shutdown, ok := api.SetupOTelFromEnv(); ok {
		defer shutdown(context.Background())
		router.Use(otelgin.Middleware("voiceframe-backend"))
	}

	// NATS event bus when configured; the in-process bus otherwise.
	if url := os.Getenv("VF_NATS_URL"); url != "" {
		if bus, err := events.NewNatsBus(url); err != nil {
			log.Printf("warning: NATS bus unavailable, using local bus: %v", err)
		} else {
			api.SetEventBus(bus)
			defer bus.Close()
		}
	}

	// Background render worker when the queue is enabled; cancel on signal.
	if os.Getenv("VF_QUEUE_ENABLE") != "" {
		wctx, cancel := context.WithCancel(context.Background())
		go api.StartRenderWorker(wctx)
		go func() {
			sigc := make(chan os.Signal, 1)
			signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
			<-sigc
			log.Println("signal received, cancelling worker...")
			cancel()
		}()
	}

	// Hourly expiry sweep for abandoned sessions.
	sweeper := api.StartExpirySweeper()
	defer sweeper.Stop()

	router.Use(api.MetricsMiddleware())
	router.Use(api.RequestIDMiddleware())
	router.Use(api.VersionMiddleware("2026-06-01"))
	router.Use(api.SecurityHeadersMiddleware())

	config := cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Request-ID", "Idempotency-Key", "X-Session-Token", "VF-Version"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID", "X-Idempotent-Replay"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	// Override allowed origins via env (comma-separated)
	if origins := os.Getenv("VF_CORS_ORIGINS"); origins != "" {
		config.AllowAllOrigins = false
		parts := strings.Split(origins, ",")
		allow := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				allow = append(allow, s)
			}
		}
		if len(allow) > 0 {
			config.AllowOrigins = allow
		}
	}
	router.Use(cors.New(config))

	if tp := os.Getenv("VF_TRUSTED_PROXIES"); tp != "" {
		parts := strings.Split(tp, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if err := router.SetTrustedProxies(parts); err != nil {
			log.Printf("warning: failed to set trusted proxies: %v", err)
		}
	}

	// Health and readiness
	router.GET("/healthz", func(c *gin.Context) { c.Status(200) })
	router.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 300*time.Millisecond)
		defer cancel()
		if err := database.DB.DB.PingContext(ctx); err != nil {
			c.JSON(503, gin.H{"status": "not ready", "error": err.Error()})
			return
		}
		// If the queue is enabled, require Redis to be reachable
		if os.Getenv("VF_QUEUE_ENABLE") != "" {
			addr := os.Getenv("VF_REDIS_ADDR")
			if addr == "" {
				addr = "localhost:6379"
			}
			rdb := redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("VF_REDIS_PASSWORD")})
			rctx, rcancel := context.WithTimeout(c.Request.Context(), 300*time.Millisecond)
			defer rcancel()
			if err := rdb.Ping(rctx).Err(); err != nil {
				c.JSON(503, gin.H{"status": "not ready", "error": "redis ping failed"})
				_ = rdb.Close()
				return
			}
			_ = rdb.Close()
		}
		c.JSON(200, gin.H{"status": "ready"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// --- Public session and checkout flow ---
	v1 := router.Group("/v1")
	v1.Use(api.RateLimitMiddlewareFromEnv())
	v1.Use(api.IdempotencyMiddlewareFromEnv())
	{
		v1.POST("/sessions", api.CreateSession)
		v1.GET("/sessions/:sessionId", api.GetSession)
		v1.PATCH("/sessions/:sessionId", api.UpdateSession)
		v1.DELETE("/sessions/:sessionId", api.DeleteSession)
		v1.POST("/sessions/:sessionId/photo", api.UploadPhoto)
		v1.POST("/sessions/:sessionId/audio", api.UploadAudio)
		v1.POST("/sessions/:sessionId/payment-intent", api.CreatePaymentIntent)
	}

	// Signed links: poster downloads and the QR listen target. No auth, no
	// idempotency; the signature gates access.
	router.GET("/v1/posters/:orderId/download", api.DownloadPoster)
	router.GET("/v1/audio/:sessionId/listen", api.ListenAudio)

	// Payment gateway webhook (signature-verified, not rate limited)
	router.POST("/v1/webhooks/payment", api.HandlePaymentWebhook)

	// --- Admin ---
	router.POST("/admin/login", api.RateLimitMiddleware(10), api.AdminLogin)

	admin := router.Group("/admin")
	admin.Use(api.AuthMiddleware())
	{
		admin.GET("/health", api.AdminHealth)
		admin.PUT("/password", api.UpdateAdminPassword)
		admin.GET("/orders", api.ListOrders)
		admin.GET("/sessions", api.ListSessions)

		mut := admin.Group("")
		mut.Use(api.RequireAdminRole())
		{
			mut.POST("/orders/:orderId/resend", api.ResendOrder)
			mut.POST("/orders/:orderId/download-link", api.MintDownloadLink)
			mut.POST("/promos", api.CreatePromo)
			mut.DELETE("/promos/:promoId", api.DeactivatePromo)
			mut.POST("/test-smtp", api.TestSMTP)
			mut.POST("/queue/drain", api.QueueDrain)
			mut.POST("/queue/dlq/:entryId/requeue", api.RequeueDLQ)
			mut.DELETE("/queue/dlq/:entryId", api.DeleteDLQ)
		}
		admin.GET("/promos", api.ListPromos)
		admin.GET("/queue/drain", api.QueueDrainStatus)
		admin.GET("/queue/dlq", api.ListDLQ)
	}

	if err := router.Run(":" + port); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
