package middleware

import (
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/KlutzyFella/Papyrus/internal/config"
	"github.com/KlutzyFella/Papyrus/pkg/response"
)

// LimiterPool 按键（用户ID或客户端IP）分配令牌桶
type LimiterPool struct {
	mu  sync.Mutex
	m   map[string]*rate.Limiter
	cfg config.RateLimitConfig
}

// NewLimiterPool 创建限流池
// RPS 或 Burst 未配置时分别使用 2 和 5
func NewLimiterPool(cfg config.RateLimitConfig) *LimiterPool {
	if cfg.RPS <= 0 {
		cfg.RPS = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	return &LimiterPool{
		m:   make(map[string]*rate.Limiter),
		cfg: cfg,
	}
}

func (p *LimiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.m[key]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(p.cfg.RPS), p.cfg.Burst)
	p.m[key] = l
	return l
}

// Allow 消耗一个令牌，桶空时返回 false
func (p *LimiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}

// UserKey 用户限流键
func UserKey(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

// RateLimit 创建限流中间件
// 已认证请求按用户限流，匿名请求按客户端IP限流
// 超限返回 429 {"error": "Too many requests", "code": 1002}
func RateLimit(pool *LimiterPool) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if userID := GetUserID(c); userID != 0 {
			key = UserKey(userID)
		}
		if !pool.Allow(key) {
			response.TooManyRequests(c)
			return
		}
		c.Next()
	}
}
