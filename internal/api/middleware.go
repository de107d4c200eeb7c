package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/voiceframe/voiceframe-backend/internal/utils"
)

// AuthMiddleware creates a Gin middleware for admin JWT authentication.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header format must be Bearer {token}"})
			return
		}
		tokenString := parts[1]

		jwtSecret, err := utils.GetJwtSecretBytes()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "JWT secret configuration error"})
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return jwtSecret, nil
		})
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token: " + err.Error()})
			return
		}

		if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
			adminID, _ := claims["user_id"].(string)
			role, _ := claims["role"].(string)
			if adminID == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
				return
			}
			c.Set("adminID", adminID)
			c.Set("adminRole", role)
			c.Next()
		} else {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		}
	}
}

// RequireAdminRole restricts mutating admin endpoints to the "admin" role;
// "support" can only read.
func RequireAdminRole() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("adminRole") == "admin" {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin privileges required"})
	}
}

// RequestIDMiddleware ensures every request has an X-Request-ID. If absent, generate one.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader("X-Request-ID")
		if rid == "" {
			rid = uuid.New().String()
		}
		ctx := context.WithValue(c.Request.Context(), "requestID", rid)
		c.Request = c.Request.WithContext(ctx)
		c.Set("requestID", rid)
		c.Writer.Header().Set("X-Request-ID", rid)
		c.Next()
	}
}

// VersionMiddleware reads the VF-Version request header; if absent, uses the
// default; always sets X-VF-Version in the response.
func VersionMiddleware(defaultVersion string) gin.HandlerFunc {
	if defaultVersion == "" {
		defaultVersion = "2026-06-01"
	}
	return func(c *gin.Context) {
		ver := c.GetHeader("VF-Version")
		if ver == "" {
			ver = defaultVersion
		}
		c.Set("vfVersion", ver)
		c.Writer.Header().Set("X-VF-Version", ver)
		c.Next()
	}
}

// --- In-memory IP rate limiter (fixed window with periodic pruning) ---

type clientWindow struct {
	count       int
	windowStart time.Time
}

type ipLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientWindow
	limit   int
	window  time.Duration
}

func newIPLimiter(limit int, window time.Duration) *ipLimiter {
	l := &ipLimiter{
		clients: make(map[string]*clientWindow),
		limit:   limit,
		window:  window,
	}
	go l.janitor()
	return l
}

// janitor prunes idle client entries so the map does not grow with every IP
// ever seen.
func (l *ipLimiter) janitor() {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for range t.C {
		l.prune(time.Now())
	}
}

func (l *ipLimiter) prune(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, cw := range l.clients {
		if now.Sub(cw.windowStart) >= 2*l.window {
			delete(l.clients, ip)
		}
	}
}

func (l *ipLimiter) allow(ip string) (bool, time.Duration) {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	cw, ok := l.clients[ip]
	if !ok {
		l.clients[ip] = &clientWindow{count: 1, windowStart: now}
		return true, 0
	}
	if now.Sub(cw.windowStart) >= l.window {
		cw.count = 1
		cw.windowStart = now
		return true, 0
	}
	if cw.count < l.limit {
		cw.count++
		return true, 0
	}
	retryAfter := l.window - now.Sub(cw.windowStart)
	return false, retryAfter
}

// RateLimitMiddleware limits requests per client IP per minute.
func RateLimitMiddleware(limitPerMinute int) gin.HandlerFunc {
	if limitPerMinute <= 0 {
		limitPerMinute = 60
	}
	limiter := newIPLimiter(limitPerMinute, time.Minute)
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if net.ParseIP(ip) == nil {
			ip = "unknown"
		}
		ok, retryAfter := limiter.allow(ip)
		if !ok {
			RecordRateLimitReject()
			c.Header("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded. Try again later."})
			return
		}
		c.Next()
	}
}

// RateLimitMiddlewareFromEnv builds a rate-limit middleware from env config.
// VF_RATE_LIMIT_RPM (default 60). If VF_REDIS_ADDR is set, minute-bucket keys
// in Redis make the limit hold across instances; else in-memory.
func RateLimitMiddlewareFromEnv() gin.HandlerFunc {
	rpm := 60
	if v := os.Getenv("VF_RATE_LIMIT_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			rpm = n
		}
	}
	addr := os.Getenv("VF_REDIS_ADDR")
	if addr == "" {
		return RateLimitMiddleware(rpm)
	}
	rc := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("VF_REDIS_PASSWORD"),
		DB:       parseEnvInt("VF_REDIS_DB", 0),
	})
	fallback := RateLimitMiddleware(rpm)

	return func(c *gin.Context) {
		ip := c.ClientIP()
		if net.ParseIP(ip) == nil {
			ip = "unknown"
		}
		now := time.Now().UTC()
		key := fmt.Sprintf("rl:%s:%04d%02d%02d%02d%02d", ip, now.Year(), int(now.Month()), now.Day(), now.Hour(), now.Minute())
		ctx, cancel := context.WithTimeout(c.Request.Context(), 200*time.Millisecond)
		defer cancel()

		n, err := rc.Incr(ctx, key).Result()
		if err != nil {
			fallback(c)
			return
		}
		_ = rc.Expire(ctx, key, 61*time.Second).Err()
		if int(n) > rpm {
			RecordRateLimitReject()
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded. Try again later."})
			return
		}
		c.Next()
	}
}

// helpers
func parseEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// --- Idempotency middleware (Redis-backed if configured, else in-memory) ---

// captureWriter tees the response so a replay can be stored.
type captureWriter struct {
	gin.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (w *captureWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
func (w *captureWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

// idemRecord is a stored response, replayed verbatim on a retried request.
type idemRecord struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
}

var (
	idemMu    sync.Mutex
	idemLocal = map[string]idemRecord{}
)

func getRedisFromEnv() *redis.Client {
	addr := os.Getenv("VF_REDIS_ADDR")
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("VF_REDIS_PASSWORD"), DB: parseEnvInt("VF_REDIS_DB", 0)})
}

// IdempotencyMiddlewareFromEnv caches responses for POST requests that carry
// an Idempotency-Key header on /v1/sessions routes, so a retried
// create-session or create-intent cannot double-charge or double-create.
// Records live in Redis when VF_REDIS_ADDR is set (TTL from
// VF_IDEMPOTENCY_TTL_HOURS, default 24), else in process memory.
func IdempotencyMiddlewareFromEnv() gin.HandlerFunc {
	rc := getRedisFromEnv()
	ttl := time.Duration(parseEnvInt("VF_IDEMPOTENCY_TTL_HOURS", 24)) * time.Hour
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost {
			c.Next()
			return
		}
		key := c.GetHeader("Idempotency-Key")
		if key == "" {
			c.Next()
			return
		}
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if !strings.Contains(path, "/sessions") {
			c.Next()
			return
		}
		// Scope by session so keys cannot collide across customers.
		storageKey := fmt.Sprintf("idem:%s:%s", c.Param("sessionId"), key)

		if rec, ok := loadIdemRecord(c, rc, storageKey); ok {
			replayIdemRecord(c, rec)
			return
		}

		cw := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = cw
		c.Next()

		status := cw.status
		if status == 0 {
			status = http.StatusOK
		}
		storeIdemRecord(rc, storageKey, idemRecord{
			Status:      status,
			ContentType: cw.Header().Get("Content-Type"),
			Body:        append([]byte(nil), cw.buf.Bytes()...),
		}, ttl)
	}
}

func loadIdemRecord(c *gin.Context, rc *redis.Client, key string) (idemRecord, bool) {
	if rc != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 250*time.Millisecond)
		defer cancel()
		data, err := rc.Get(ctx, key).Bytes()
		if err != nil {
			return idemRecord{}, false
		}
		var rec idemRecord
		if json.Unmarshal(data, &rec) != nil {
			return idemRecord{}, false
		}
		return rec, true
	}
	idemMu.Lock()
	defer idemMu.Unlock()
	rec, ok := idemLocal[key]
	return rec, ok
}

func replayIdemRecord(c *gin.Context, rec idemRecord) {
	if rec.ContentType != "" {
		c.Writer.Header().Set("Content-Type", rec.ContentType)
	}
	c.Writer.Header().Set("X-Idempotent-Replay", "true")
	c.Status(rec.Status)
	_, _ = c.Writer.Write(rec.Body)
	c.Abort()
}

func storeIdemRecord(rc *redis.Client, key string, rec idemRecord, ttl time.Duration) {
	if rc != nil {
		b, _ := json.Marshal(rec)
		ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		defer cancel()
		_ = rc.Set(ctx, key, b, ttl).Err()
		return
	}
	idemMu.Lock()
	idemLocal[key] = rec
	idemMu.Unlock()
}
