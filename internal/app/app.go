// Package app wires the marketplace components from a loaded config.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/nftmarket/internal/adapters/memory"
	"github.com/betbot/nftmarket/internal/adapters/registryhttp"
	"github.com/betbot/nftmarket/internal/adapters/sqliteledger"
	"github.com/betbot/nftmarket/internal/api"
	"github.com/betbot/nftmarket/internal/events"
	"github.com/betbot/nftmarket/internal/execution"
	"github.com/betbot/nftmarket/internal/market"
	"github.com/betbot/nftmarket/internal/ports"
	"github.com/betbot/nftmarket/pkg/config"
	"github.com/betbot/nftmarket/pkg/kvstore"
	"github.com/betbot/nftmarket/pkg/syncgroup"
)

var log = logrus.WithField("component", "app")

// ledger 既能结算也能查询余额、充值
type ledger interface {
	ports.Ledger
	api.BalanceReader
	api.PaymentHistory
	api.Funder
}

type App struct {
	cfg      *config.Config
	store    kvstore.Store
	ledger   ledger
	registry ports.Registry
	hub      *events.Hub
	exec     *execution.Executor
	api      *api.Server
	http     *http.Server
	bg       *syncgroup.SyncGroup
	bgCancel context.CancelFunc

	closers []func() error
}

// New 按配置组装存储、账本、registry、执行器和 HTTP 接口，但不启动任何 goroutine。
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	a := &App{cfg: cfg, hub: events.NewHub(), bg: syncgroup.NewSyncGroup()}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	if err := a.openStore(); err != nil {
		return nil, err
	}
	if err := a.openLedger(); err != nil {
		return nil, err
	}
	devRegistry := a.openRegistry()

	m, err := market.New(market.Config{Address: cfg.Marketplace.Address, Denom: cfg.Marketplace.Denom}, a.registry)
	if err != nil {
		return nil, fmt.Errorf("init market: %w", err)
	}
	clock := memory.WallClock{Genesis: cfg.Chain.Genesis, BlockTime: cfg.Chain.BlockTime}

	a.exec, err = execution.NewExecutor(execution.Config{
		EscrowAccount:      cfg.Marketplace.EscrowAccount,
		QueueSize:          cfg.Execution.QueueSize,
		IdempotencyTTL:     cfg.Execution.IdempotencyTTL,
		BreakerMaxFailures: cfg.Execution.BreakerMaxFailures,
		BreakerCooldown:    cfg.Execution.BreakerCooldown,
	}, execution.Deps{
		Market:   m,
		Store:    a.store,
		Registry: a.registry,
		Ledger:   a.ledger,
		Clock:    clock,
		Events:   a.hub,
	})
	if err != nil {
		return nil, fmt.Errorf("init executor: %w", err)
	}

	apiCfg := api.Config{
		RateLimit:     cfg.API.RateLimit,
		RateBurst:     cfg.API.RateBurst,
		Auth:          api.AuthMode(cfg.API.Auth),
		SignatureSkew: cfg.API.SignatureSkew,
		OperatorToken: cfg.API.OperatorToken,
		Balances:      a.ledger,
		History:       a.ledger,
	}
	if cfg.API.Dev {
		apiCfg.Dev = &api.DevTools{Funder: a.ledger}
		if devRegistry != nil {
			apiCfg.Dev.Registry = devRegistry
		}
	}
	a.api, err = api.New(apiCfg, a.exec, a.hub)
	if err != nil {
		return nil, err
	}
	a.http = &http.Server{
		Addr:              cfg.API.Listen,
		Handler:           a.api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	ok = true
	return a, nil
}

func (a *App) openStore() error {
	sc := a.cfg.Store
	if sc.InMemory && sc.EncryptionKey == "" {
		a.store = kvstore.NewMemoryStore()
		log.Info("state store: in-memory")
		return nil
	}
	key, err := kvstore.ParseEncryptionKey(sc.EncryptionKey)
	if err != nil {
		return fmt.Errorf("store encryption key: %w", err)
	}
	bs, err := kvstore.Open(kvstore.OpenOptions{Path: sc.Path, EncryptionKey: key, InMemory: sc.InMemory})
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	a.store = bs
	a.closers = append(a.closers, bs.Close)
	log.WithFields(logrus.Fields{"path": sc.Path, "encrypted": len(key) > 0}).Info("state store: badger")
	return nil
}

func (a *App) openLedger() error {
	if a.cfg.Ledger.Path == "" {
		a.ledger = memory.NewLedger()
		log.Info("ledger: in-memory")
		return nil
	}
	l, err := sqliteledger.Open(a.cfg.Ledger.Path)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	a.ledger = l
	a.closers = append(a.closers, l.Close)
	log.WithField("path", a.cfg.Ledger.Path).Info("ledger: sqlite")
	return nil
}

// openRegistry 返回可写的内存 registry（仅在没有配置 URL 时），供 /dev 路由使用
func (a *App) openRegistry() *memory.Registry {
	rc := a.cfg.Registry
	if rc.URL != "" {
		a.registry = registryhttp.NewClient(rc.URL, registryhttp.Options{
			Operator:   a.cfg.Marketplace.Address,
			Timeout:    rc.Timeout,
			RetryCount: rc.RetryCount,
			APIKey:     rc.APIKey,
		})
		log.WithField("url", rc.URL).Info("registry: http")
		return nil
	}
	// nil clock: approvals are checked by the market, transfers only need the approval to exist
	reg := memory.NewRegistry(a.cfg.Marketplace.Address, nil)
	a.registry = reg
	log.Info("registry: in-memory")
	return reg
}

// Handler exposes the HTTP router, mainly for tests.
func (a *App) Handler() http.Handler { return a.http.Handler }

func (a *App) Executor() *execution.Executor { return a.exec }

// Start 启动执行器并在 listener 上提供 HTTP 服务。ln 为 nil 时监听配置地址。
func (a *App) Start(ctx context.Context, ln net.Listener) error {
	a.exec.Start(ctx)
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.API.Listen)
		if err != nil {
			return fmt.Errorf("listen %s: %w", a.cfg.API.Listen, err)
		}
	}
	log.Infof("api listening on %s", ln.Addr())
	a.bg.Go("http", func() {
		if err := a.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("api server stopped")
		}
	})
	bgCtx, cancel := context.WithCancel(ctx)
	a.bgCancel = cancel
	a.bg.Go("ratelimit-janitor", func() { a.api.RunJanitor(bgCtx, time.Minute) })
	return nil
}

// StopHTTP 停止接收新请求并关闭事件流
func (a *App) StopHTTP(ctx context.Context) error {
	a.hub.Close()
	if a.bgCancel != nil {
		a.bgCancel()
	}
	if err := a.http.Shutdown(ctx); err != nil {
		return err
	}
	select {
	case <-a.bg.WaitC():
		return nil
	case <-ctx.Done():
		log.WithField("running", a.bg.Running()).Warn("background tasks still running")
		return ctx.Err()
	}
}

// WaitExecutor 等待执行器退出（ctx 取消后）
func (a *App) WaitExecutor(ctx context.Context) error {
	select {
	case <-a.exec.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 关闭存储和账本
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
