package handlers

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/shivam349/codex1/internal/identity"
	"github.com/shivam349/codex1/internal/logging"
)

const principalKey = "principal"

func (s *Server) requireAdmin(c *gin.Context) {
	p, err := s.Gate.RequireAdmin(c.Request.Context(), identity.BearerToken(c.GetHeader("Authorization")))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Set(principalKey, p)
	c.Next()
}

func (s *Server) requireUser(c *gin.Context) {
	p, err := s.Gate.Verify(c.Request.Context(), identity.BearerToken(c.GetHeader("Authorization")))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Set(principalKey, p)
	c.Next()
}

// optionalUser attaches the caller when a valid token is presented. A missing
// or invalid token leaves the request anonymous.
func (s *Server) optionalUser(c *gin.Context) {
	token := identity.BearerToken(c.GetHeader("Authorization"))
	if token != "" {
		p, err := s.Gate.Verify(c.Request.Context(), token)
		if err == nil {
			c.Set(principalKey, p)
		} else {
			logging.FromGin(s.Log, c).WithError(err).Debug("ignoring invalid bearer token on guest route")
		}
	}
	c.Next()
}

func principal(c *gin.Context) (identity.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return identity.Principal{}, false
	}
	p, ok := v.(identity.Principal)
	return p, ok
}

// CORS answers preflight requests and sets the CORS headers for allowed
// origins. "*" allows every origin; origins otherwise match exactly.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	allowAll := false
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			allowAll = true
		}
		if o != "" {
			allowed[o] = true
		}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowAll || allowed[origin]) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key, "+logging.RequestIDHeader)
			h.Set("Access-Control-Expose-Headers", logging.RequestIDHeader)
			h.Set("Access-Control-Max-Age", "3600")
			h.Add("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// maxTrackedClients bounds the limiter map; idle entries are swept past it.
const (
	maxTrackedClients = 10000
	clientIdleAfter   = 10 * time.Minute
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a token bucket per client IP.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	rate    rate.Limit
	burst   int
	nowFunc func() time.Time
}

func NewRateLimiter(requestsPerSecond, burst int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*client),
		rate:    rate.Limit(requestsPerSecond),
		burst:   burst,
		nowFunc: time.Now,
	}
}

// Allow reports whether key may make a request now.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.nowFunc()
	cl, ok := rl.clients[key]
	if !ok {
		if len(rl.clients) >= maxTrackedClients {
			rl.sweep(now)
		}
		cl = &client{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.clients[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) sweep(now time.Time) {
	for k, cl := range rl.clients {
		if now.Sub(cl.lastSeen) > clientIdleAfter {
			delete(rl.clients, k)
		}
	}
}

// Handler rejects over-limit clients with a 429 envelope.
func (rl *RateLimiter) Handler(s *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.Allow(c.ClientIP()) {
			c.Next()
			return
		}
		logging.FromGin(s.Log, c).WithField("client_ip", c.ClientIP()).Warn("rate limit exceeded")
		c.Header("Retry-After", "1")
		s.failMsg(c, http.StatusTooManyRequests, "Too many requests, please try again later")
	}
}
