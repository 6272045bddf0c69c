package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/nftmarket/internal/domain"
	"github.com/betbot/nftmarket/internal/events"
	"github.com/betbot/nftmarket/internal/market"
	"github.com/betbot/nftmarket/internal/metrics"
	"github.com/betbot/nftmarket/internal/ports"
	"github.com/betbot/nftmarket/internal/risk"
	"github.com/betbot/nftmarket/pkg/kvstore"
)

var log = logrus.WithField("component", "executor")

var (
	ErrNotStarted    = errors.New("executor not started")
	ErrStopped       = errors.New("executor stopped")
	ErrQueueFull     = errors.New("executor queue full")
	ErrUnknownAction = errors.New("unknown action")
	ErrInvalidInput  = errors.New("invalid request")
	ErrEffectFailed  = errors.New("effect execution failed")
	ErrEscrowFailed  = errors.New("escrow failed")
)

type Action string

const (
	ActionList    Action = "list"
	ActionDelist  Action = "delist"
	ActionBuy     Action = "buy"
	ActionAuction Action = "auction"
	ActionBid     Action = "bid"
	ActionClaim   Action = "claim"

	ActionCancelAuction Action = "cancel_auction"
)

// Payable reports whether the action consumes attached funds.
func (a Action) Payable() bool {
	return a == ActionBuy || a == ActionBid
}

// Request is one state-mutating call. Exactly the payload matching Action is set.
type Request struct {
	Action Action
	Sender string
	Funds  []domain.Coin
	// IdempotencyKey is scoped per sender. A committed result is replayed for the
	// key's TTL; a failed request releases it.
	IdempotencyKey string

	List    *market.ListRequest
	Delist  *market.DelistRequest
	Buy     *market.BuyRequest
	Auction *market.OpenAuctionRequest
	Bid     *market.BidRequest
	Claim   *market.ClaimRequest

	CancelAuction *market.CancelAuctionRequest
}

func (r Request) AssetID() string {
	switch {
	case r.List != nil:
		return r.List.AssetID
	case r.Delist != nil:
		return r.Delist.AssetID
	case r.Buy != nil:
		return r.Buy.AssetID
	case r.Auction != nil:
		return r.Auction.AssetID
	case r.Bid != nil:
		return r.Bid.AssetID
	case r.Claim != nil:
		return r.Claim.AssetID
	case r.CancelAuction != nil:
		return r.CancelAuction.AssetID
	}
	return ""
}

func (r Request) validate() error {
	if strings.TrimSpace(r.Sender) == "" {
		return fmt.Errorf("%w: sender is required", ErrInvalidInput)
	}
	var ok bool
	switch r.Action {
	case ActionList:
		ok = r.List != nil
	case ActionDelist:
		ok = r.Delist != nil
	case ActionBuy:
		ok = r.Buy != nil
	case ActionAuction:
		ok = r.Auction != nil
	case ActionBid:
		ok = r.Bid != nil
	case ActionClaim:
		ok = r.Claim != nil
	case ActionCancelAuction:
		ok = r.CancelAuction != nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, r.Action)
	}
	if !ok {
		return fmt.Errorf("%w: missing %s payload", ErrInvalidInput, r.Action)
	}
	if err := market.ValidateAssetID(r.AssetID()); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}

// Result of a committed request.
type Result struct {
	RequestID string           `json:"request_id"`
	Action    Action           `json:"action"`
	Block     domain.BlockInfo `json:"block"`
	Response  *domain.Response `json:"response"`
	Replayed  bool             `json:"replayed,omitempty"`
}

type Config struct {
	// EscrowAccount holds attached funds; usually the marketplace address.
	EscrowAccount      string
	QueueSize          int
	IdempotencyTTL     time.Duration
	BreakerMaxFailures int64
	BreakerCooldown    time.Duration
}

type Deps struct {
	Market   *market.Market
	Store    kvstore.Store
	Registry ports.AssetTransferer
	Ledger   ports.Ledger
	Clock    ports.Clock
	// Events is optional.
	Events events.Publisher
}

// Outcome is delivered once on a Ticket.
type Outcome struct {
	Result *Result
	Err    error
}

type Ticket struct {
	ID      string
	ResultC <-chan Outcome
}

type queued struct {
	id     string
	key    string
	req    Request
	ctx    context.Context
	result chan Outcome
}

// Executor 是市场的宿主执行器（单写者队列 + 资金托管 + effect 执行 + 回滚）。
//
// 每个请求：
//   - 托管附带资金（sender -> escrow），只对 buy/bid 生效
//   - 在一个 kvstore 事务里跑 market handler
//   - 按顺序执行 effects（付款、资产转移）
//   - 全部成功后 commit；任何一步失败都补偿已执行的付款、退回托管并丢弃事务
type Executor struct {
	market   *market.Market
	store    kvstore.Store
	registry ports.AssetTransferer
	ledger   ports.Ledger
	clock    ports.Clock
	events   events.Publisher
	escrow   string

	breaker  *risk.CircuitBreaker
	inFlight *InFlightDeduper

	reqC    chan queued
	started atomic.Bool
	done    chan struct{}
}

func NewExecutor(cfg Config, deps Deps) (*Executor, error) {
	if deps.Market == nil || deps.Store == nil || deps.Registry == nil || deps.Ledger == nil || deps.Clock == nil {
		return nil, errors.New("executor: market, store, registry, ledger and clock are required")
	}
	escrow := strings.TrimSpace(cfg.EscrowAccount)
	if escrow == "" {
		escrow = deps.Market.Address()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	return &Executor{
		market:   deps.Market,
		store:    deps.Store,
		registry: deps.Registry,
		ledger:   deps.Ledger,
		clock:    deps.Clock,
		events:   deps.Events,
		escrow:   escrow,
		breaker: risk.NewCircuitBreaker(risk.CircuitBreakerConfig{
			MaxConsecutiveFailures: cfg.BreakerMaxFailures,
			Cooldown:               cfg.BreakerCooldown,
		}),
		inFlight: NewInFlightDeduper(cfg.IdempotencyTTL, 64),
		reqC:     make(chan queued, cfg.QueueSize),
		done:     make(chan struct{}),
	}, nil
}

// Start runs the single writer loop until ctx is done. Requests never run
// concurrently, which is what makes the market's read-check-write sequences atomic.
func (e *Executor) Start(ctx context.Context) {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(e.done)
		for {
			select {
			case <-ctx.Done():
				log.Info("executor stopped")
				return
			case q := <-e.reqC:
				res, err := e.process(q)
				e.finish(q, res, err)
			}
		}
	}()
}

// Done is closed when the writer loop exits.
func (e *Executor) Done() <-chan struct{} { return e.done }

// Submit validates and enqueues a request.
func (e *Executor) Submit(ctx context.Context, req Request) (*Ticket, error) {
	if e == nil || !e.started.Load() {
		return nil, ErrNotStarted
	}
	select {
	case <-e.done:
		return nil, ErrStopped
	default:
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	resultC := make(chan Outcome, 1)

	key := ""
	if k := strings.TrimSpace(req.IdempotencyKey); k != "" {
		key = req.Sender + "|" + k
		cached, err := e.inFlight.TryAcquire(key)
		if err != nil {
			metrics.RequestsDuplicate.Add(1)
			return nil, err
		}
		if cached != nil {
			metrics.RequestsDuplicate.Add(1)
			resultC <- Outcome{Result: cached}
			return &Ticket{ID: cached.RequestID, ResultC: resultC}, nil
		}
	}

	q := queued{id: id, key: key, req: req, ctx: ctx, result: resultC}
	select {
	case e.reqC <- q:
		return &Ticket{ID: id, ResultC: resultC}, nil
	case <-e.done:
		e.inFlight.Release(key)
		return nil, ErrStopped
	case <-ctx.Done():
		e.inFlight.Release(key)
		return nil, ctx.Err()
	default:
		e.inFlight.Release(key)
		return nil, ErrQueueFull
	}
}

// Execute submits req and waits for its outcome.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	t, err := e.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	select {
	case out := <-t.ResultC:
		return out.Result, out.Err
	case <-e.done:
		// the loop may have finished this request right before exiting
		select {
		case out := <-t.ResultC:
			return out.Result, out.Err
		default:
			return nil, ErrStopped
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// View runs a read-only query against committed state.
func (e *Executor) View(fn func(m *market.Market, txn kvstore.Txn) error) error {
	return e.store.View(func(txn kvstore.Txn) error {
		return fn(e.market, txn)
	})
}

func (e *Executor) Block(ctx context.Context) (domain.BlockInfo, error) {
	return e.clock.Block(ctx)
}

func (e *Executor) Breaker() *risk.CircuitBreaker { return e.breaker }

func (e *Executor) Market() *market.Market { return e.market }

func (e *Executor) finish(q queued, res *Result, err error) {
	if err != nil {
		e.inFlight.Release(q.key)
	} else {
		e.inFlight.Complete(q.key, res)
	}
	select {
	case q.result <- Outcome{Result: res, Err: err}:
	default:
	}
}

func (e *Executor) process(q queued) (*Result, error) {
	req := q.req
	reqLog := log.WithFields(logrus.Fields{
		"request_id": q.id,
		"action":     req.Action,
		"sender":     req.Sender,
		"asset_id":   req.AssetID(),
	})
	metrics.RequestsTotal.Add(1)

	if err := q.ctx.Err(); err != nil {
		return nil, err
	}
	// once started a request runs to completion or compensation
	ctx := context.WithoutCancel(q.ctx)

	if err := e.breaker.Allow(); err != nil {
		metrics.BreakerRejections.Add(1)
		reqLog.Warn("circuit breaker open, request refused")
		return nil, err
	}

	block, err := e.clock.Block(ctx)
	if err != nil {
		return nil, fmt.Errorf("read block: %w", err)
	}

	tx, err := e.store.Begin(true)
	if err != nil {
		e.breaker.OnFailure()
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Discard()

	var escrowed []domain.Coin
	if req.Action.Payable() {
		escrowed, err = e.collect(ctx, req.Sender, req.Funds)
		if err != nil {
			e.refund(ctx, q.id, req.Sender, escrowed, reqLog)
			metrics.RequestsFailed.Add(1)
			reqLog.WithError(err).Info("escrow failed")
			return nil, fmt.Errorf("%w: %w", ErrEscrowFailed, err)
		}
	}

	env := market.Env{Sender: req.Sender, Block: block, Funds: req.Funds}
	resp, err := e.dispatch(ctx, tx, env, req)
	if err != nil {
		e.refund(ctx, q.id, req.Sender, escrowed, reqLog)
		if code := market.Code(err); code != "" {
			metrics.RequestsRejected.Add(1)
			metrics.RejectionsByCode.Add(code, 1)
			reqLog.WithField("code", code).Info("request rejected")
		} else {
			metrics.RequestsFailed.Add(1)
			reqLog.WithError(err).Warn("request failed")
		}
		return nil, err
	}

	executed, err := e.runEffects(ctx, resp.Effects, reqLog)
	if err != nil {
		e.breaker.OnFailure()
		metrics.RequestsFailed.Add(1)
		reqLog.WithError(err).Error("effect failed, rolling back")
		e.compensate(ctx, q.id, executed, reqLog)
		e.refund(ctx, q.id, req.Sender, escrowed, reqLog)
		return nil, fmt.Errorf("%w: %w", ErrEffectFailed, err)
	}

	if err := tx.Commit(); err != nil {
		e.breaker.OnFailure()
		metrics.CommitFailures.Add(1)
		metrics.RequestsFailed.Add(1)
		reqLog.WithError(err).Error("commit failed, rolling back effects")
		e.compensate(ctx, q.id, executed, reqLog)
		e.refund(ctx, q.id, req.Sender, escrowed, reqLog)
		return nil, fmt.Errorf("commit: %w", err)
	}

	e.breaker.OnSuccess()
	metrics.EffectsExecuted.Add(int64(len(executed)))
	metrics.RequestsByAction.Add(string(req.Action), 1)
	reqLog.WithField("effects", len(executed)).Info("request settled")

	res := &Result{RequestID: q.id, Action: req.Action, Block: block, Response: resp}
	e.publish(events.Event{
		Kind:       events.KindSettlement,
		RequestID:  q.id,
		Action:     string(req.Action),
		AssetID:    req.AssetID(),
		Sender:     req.Sender,
		Block:      &block,
		Attributes: resp.Attributes,
		Effects:    resp.Effects,
	})
	return res, nil
}

func (e *Executor) dispatch(ctx context.Context, txn kvstore.Txn, env market.Env, req Request) (*domain.Response, error) {
	switch req.Action {
	case ActionList:
		return e.market.List(ctx, txn, env, *req.List)
	case ActionDelist:
		return e.market.Delist(ctx, txn, env, *req.Delist)
	case ActionBuy:
		return e.market.Buy(ctx, txn, env, *req.Buy)
	case ActionAuction:
		return e.market.OpenAuction(ctx, txn, env, *req.Auction)
	case ActionBid:
		return e.market.Bid(ctx, txn, env, *req.Bid)
	case ActionClaim:
		return e.market.Claim(ctx, txn, env, *req.Claim)
	case ActionCancelAuction:
		return e.market.CancelAuction(ctx, txn, env, *req.CancelAuction)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
}

// collect moves valid attached coins into escrow. Non-positive or fractional coins
// are left for the handler to reject. On error the coins already moved are returned.
func (e *Executor) collect(ctx context.Context, sender string, funds []domain.Coin) ([]domain.Coin, error) {
	var moved []domain.Coin
	for _, c := range funds {
		if !c.Valid() {
			continue
		}
		if err := e.ledger.MovePayment(ctx, sender, e.escrow, c); err != nil {
			return moved, err
		}
		moved = append(moved, c)
	}
	return moved, nil
}

func (e *Executor) refund(ctx context.Context, requestID, sender string, coins []domain.Coin, reqLog *logrus.Entry) {
	for i := len(coins) - 1; i >= 0; i-- {
		if err := e.ledger.MovePayment(ctx, e.escrow, sender, coins[i]); err != nil {
			e.critical(requestID, fmt.Errorf("refund %s to %s: %w", coins[i], sender, err), reqLog)
		}
	}
}

// runEffects executes effects in order and returns the ones that succeeded.
func (e *Executor) runEffects(ctx context.Context, effects []domain.Effect, reqLog *logrus.Entry) ([]domain.Effect, error) {
	executed := make([]domain.Effect, 0, len(effects))
	for i, eff := range effects {
		var err error
		switch eff.Kind {
		case domain.EffectPaymentMove:
			if eff.Payment == nil {
				err = errors.New("payment effect without payload")
				break
			}
			err = e.ledger.MovePayment(ctx, e.escrow, eff.Payment.Recipient, eff.Payment.Amount)
		case domain.EffectAssetTransfer:
			if eff.Transfer == nil {
				err = errors.New("transfer effect without payload")
				break
			}
			t := eff.Transfer
			err = e.registry.TransferAsset(ctx, t.RegistryRef, t.AssetID, t.Recipient)
		default:
			err = fmt.Errorf("unknown effect kind %q", eff.Kind)
		}
		if err != nil {
			return executed, fmt.Errorf("effect %d (%s): %w", i, eff.Kind, err)
		}
		reqLog.WithField("effect", eff.Kind).Debug("effect executed")
		executed = append(executed, eff)
	}
	return executed, nil
}

// compensate reverses executed payments newest first. An executed asset transfer
// cannot be reversed by the marketplace and is reported as critical.
func (e *Executor) compensate(ctx context.Context, requestID string, executed []domain.Effect, reqLog *logrus.Entry) {
	for i := len(executed) - 1; i >= 0; i-- {
		eff := executed[i]
		switch eff.Kind {
		case domain.EffectPaymentMove:
			p := eff.Payment
			if err := e.ledger.MovePayment(ctx, p.Recipient, e.escrow, p.Amount); err != nil {
				e.critical(requestID, fmt.Errorf("reverse payment %s to %s: %w", p.Amount, p.Recipient, err), reqLog)
				continue
			}
			metrics.EffectsCompensated.Add(1)
		case domain.EffectAssetTransfer:
			t := eff.Transfer
			e.critical(requestID, fmt.Errorf("asset %s/%s already transferred to %s", t.RegistryRef, t.AssetID, t.Recipient), reqLog)
		}
	}
}

// critical halts the breaker: external state now disagrees with the store.
func (e *Executor) critical(requestID string, err error, reqLog *logrus.Entry) {
	metrics.CriticalFailures.Add(1)
	e.breaker.Halt()
	reqLog.WithError(err).Error("compensation failed, executor halted")
	e.publish(events.Event{Kind: events.KindCritical, RequestID: requestID, Error: err.Error()})
}

func (e *Executor) publish(ev events.Event) {
	if e.events == nil {
		return
	}
	e.events.Publish(ev)
}
