package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/nftmarket/internal/domain"
	"github.com/betbot/nftmarket/internal/events"
	"github.com/betbot/nftmarket/internal/execution"
	"github.com/betbot/nftmarket/internal/metrics"
	"github.com/betbot/nftmarket/pkg/ratelimit"
	"github.com/betbot/nftmarket/pkg/reqsign"
)

var log = logrus.WithField("component", "api")

const (
	HeaderSender         = "X-Sender"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotency-Replayed"
	HeaderRequestID      = "X-Request-Id"
)

// BalanceReader 账本只读查询
type BalanceReader interface {
	BalanceOf(ctx context.Context, account, denom string) (decimal.Decimal, error)
}

// PaymentHistory 账本流水查询
type PaymentHistory interface {
	History(ctx context.Context, account string, limit int) ([]domain.Payment, error)
}

// Funder 本地调试用的充值
type Funder interface {
	Deposit(ctx context.Context, account string, c domain.Coin) error
}

// DevRegistry 本地调试用的 registry 写接口（内存 registry 实现）
type DevRegistry interface {
	Mint(ref, assetID, owner string)
	Approve(ref, owner string, a domain.Approval)
	Revoke(ref, owner, spender string)
}

// DevTools 打开 /dev 路由；两者都为空则不注册
type DevTools struct {
	Registry DevRegistry
	Funder   Funder
}

type Config struct {
	// RateLimit 每个 sender 每秒写请求数，0 表示不限
	RateLimit float64
	RateBurst int
	// RequestTimeout 单个写请求等待结算的最长时间
	RequestTimeout time.Duration
	// Auth 默认 AuthSignature
	Auth AuthMode
	// SignatureSkew 签名时间戳允许的偏差，默认 5 分钟
	SignatureSkew time.Duration
	// OperatorToken 保护 /v1/admin 与 /dev 路由；为空时这些路由全部拒绝
	OperatorToken string
	Balances      BalanceReader
	History       PaymentHistory
	Dev           *DevTools
}

type Server struct {
	cfg      Config
	exec     *execution.Executor
	hub      *events.Hub
	limiter  *ratelimit.KeyedLimiter
	verifier reqsign.Verifier
}

func New(cfg Config, exec *execution.Executor, hub *events.Hub) (*Server, error) {
	if exec == nil {
		return nil, errors.New("api: executor is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	switch cfg.Auth {
	case "":
		cfg.Auth = AuthSignature
	case AuthSignature, AuthHeader:
	default:
		return nil, fmt.Errorf("api: unknown auth mode %q", cfg.Auth)
	}
	if cfg.Auth == AuthHeader {
		log.Warn("X-Sender is trusted without signature")
	}
	s := &Server{cfg: cfg, exec: exec, hub: hub, verifier: reqsign.Verifier{MaxSkew: cfg.SignatureSkew}}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = int(cfg.RateLimit) + 1
		}
		s.limiter = ratelimit.NewKeyedLimiter(cfg.RateLimit, burst)
	}
	return s, nil
}

// Router 注册全部路由
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/healthz", s.handleHealth)

	v1 := r.Group("/v1")
	v1.GET("/status", s.handleStatus)

	tx := v1.Group("/", s.authenticate(), s.rateLimit())
	tx.POST("/list", s.handleList)
	tx.POST("/delist", s.handleDelist)
	tx.POST("/buy", s.handleBuy)
	tx.POST("/auction", s.handleAuction)
	tx.POST("/auction/cancel", s.handleCancelAuction)
	tx.POST("/bid", s.handleBid)
	tx.POST("/claim", s.handleClaim)

	v1.GET("/listings", s.handleListings)
	v1.GET("/listings/:assetID", s.handleGetListing)
	v1.GET("/auctions/:assetID", s.handleGetAuction)
	v1.GET("/auctions/:assetID/highest-bid", s.handleGetHighestBid)
	v1.GET("/balances/:account", s.handleBalance)
	v1.GET("/balances/:account/payments", s.handlePayments)
	v1.GET("/events", s.handleEvents)

	admin := v1.Group("/admin", s.operatorOnly())
	admin.POST("/breaker/halt", s.handleBreakerHalt)
	admin.POST("/breaker/resume", s.handleBreakerResume)

	if d := s.cfg.Dev; d != nil && (d.Registry != nil || d.Funder != nil) {
		dev := r.Group("/dev", s.operatorOnly())
		dev.POST("/mint", s.handleDevMint)
		dev.POST("/approve", s.handleDevApprove)
		dev.POST("/revoke", s.handleDevRevoke)
		dev.POST("/fund", s.handleDevFund)
		log.Warn("dev routes enabled")
	}

	r.GET("/debug/vars", gin.WrapH(metrics.Handler()))
	return r
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/healthz" {
			return
		}
		log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"sender":  senderOf(c),
			"elapsed": time.Since(start).Round(time.Microsecond),
		}).Debug("http request")
	}
}

// rateLimit 按 sender 限流（没有 sender 时按客户端 IP）
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}
		key := senderOf(c)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}
		if !s.limiter.Allow(key) {
			c.Header("Retry-After", "1")
			writeError(c, http.StatusTooManyRequests, "rate_limited", "too many requests")
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	select {
	case <-s.exec.Done():
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "stopped"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	block, err := s.exec.Block(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	m := s.exec.Market()
	br := s.exec.Breaker()
	out := gin.H{
		"marketplace":    m.Address(),
		"denom":          m.Denom(),
		"block":          block,
		"breaker_open":   br.Halted(),
		"breaker_manual": br.Manual(),
		"breaker_trips":  br.Trips(),
	}
	if s.hub != nil {
		out["subscribers"] = s.hub.Subscribers()
		out["events_dropped"] = s.hub.Dropped()
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleBreakerHalt(c *gin.Context) {
	s.exec.Breaker().Halt()
	log.Warn("circuit breaker halted by operator")
	c.JSON(http.StatusOK, gin.H{"halted": true})
}

func (s *Server) handleBreakerResume(c *gin.Context) {
	s.exec.Breaker().Resume()
	log.Info("circuit breaker resumed by operator")
	c.JSON(http.StatusOK, gin.H{"halted": false})
}

// RunJanitor 定期清理长时间不活跃 sender 的限流桶，直到 ctx 结束
func (s *Server) RunJanitor(ctx context.Context, every time.Duration) {
	if s.limiter == nil {
		return
	}
	if every <= 0 {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.limiter.Prune(10 * every); n > 0 {
				log.WithField("removed", n).Debug("pruned idle rate limiters")
			}
		}
	}
}
