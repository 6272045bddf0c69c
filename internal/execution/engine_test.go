package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/nftmarket/internal/adapters/memory"
	"github.com/betbot/nftmarket/internal/domain"
	"github.com/betbot/nftmarket/internal/events"
	"github.com/betbot/nftmarket/internal/market"
	"github.com/betbot/nftmarket/internal/risk"
	"github.com/betbot/nftmarket/pkg/kvstore"
)

const (
	marketAddr = "market"
	regRef     = "nft-registry"
	denom      = "uusd"
)

type harness struct {
	exec   *Executor
	reg    *memory.Registry
	ledger *memory.Ledger
	clock  *memory.Clock
	store  *kvstore.MemoryStore
	hub    *events.Hub
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	reg := memory.NewRegistry(marketAddr, nil)
	ledger := memory.NewLedger()
	clock := memory.NewClock(100, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	store := kvstore.NewMemoryStore()
	hub := events.NewHub()

	m, err := market.New(market.Config{Address: marketAddr, Denom: denom}, reg)
	require.NoError(t, err)
	exec, err := NewExecutor(cfg, Deps{Market: m, Store: store, Registry: reg, Ledger: ledger, Clock: clock, Events: hub})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	exec.Start(ctx)
	return &harness{exec: exec, reg: reg, ledger: ledger, clock: clock, store: store, hub: hub}
}

func uusd(n int64) domain.Coin { return domain.NewCoin(n, denom) }

func (h *harness) mint(assetID, owner string, exp domain.Expiration) {
	h.reg.Mint(regRef, assetID, owner)
	h.reg.Approve(regRef, owner, domain.Approval{Spender: marketAddr, Expires: exp})
}

func (h *harness) balance(account string) decimal.Decimal {
	return h.ledger.Balance(account, denom)
}

func (h *harness) list(t *testing.T, owner, assetID string, price int64, exp domain.Expiration) {
	t.Helper()
	_, err := h.exec.Execute(context.Background(), Request{
		Action: ActionList,
		Sender: owner,
		List:   &market.ListRequest{AssetID: assetID, RegistryRef: regRef, Price: uusd(price), Expiration: exp},
	})
	require.NoError(t, err)
}

func buyReq(sender, assetID string, funds ...domain.Coin) Request {
	return Request{Action: ActionBuy, Sender: sender, Funds: funds, Buy: &market.BuyRequest{AssetID: assetID}}
}

func bidReq(sender, assetID string, funds ...domain.Coin) Request {
	return Request{Action: ActionBid, Sender: sender, Funds: funds, Bid: &market.BidRequest{AssetID: assetID}}
}

func TestExecutor_BuySettles(t *testing.T) {
	h := newHarness(t, Config{})
	exp := domain.AtHeight(200)
	h.mint("nft-1", "alice", exp)
	h.ledger.Fund("bob", uusd(150))
	h.list(t, "alice", "nft-1", 100, exp)

	sub, cancel := h.hub.Subscribe(8)
	defer cancel()

	res, err := h.exec.Execute(context.Background(), buyReq("bob", "nft-1", uusd(100)))
	require.NoError(t, err)
	assert.NotEmpty(t, res.RequestID)
	assert.Equal(t, ActionBuy, res.Action)
	assert.Equal(t, uint64(100), res.Block.Height)

	assert.True(t, h.balance("alice").Equal(decimal.NewFromInt(100)))
	assert.True(t, h.balance("bob").Equal(decimal.NewFromInt(50)))
	assert.True(t, h.balance(marketAddr).IsZero())
	owner, err := h.reg.OwnerOf(context.Background(), regRef, "nft-1")
	require.NoError(t, err)
	assert.Equal(t, "bob", owner)

	ev := <-sub
	assert.Equal(t, events.KindSettlement, ev.Kind)
	assert.Equal(t, res.RequestID, ev.RequestID)
	assert.Equal(t, "nft-1", ev.AssetID)
	assert.Len(t, ev.Effects, 2)

	err = h.exec.View(func(m *market.Market, txn kvstore.Txn) error {
		_, err := m.Listing(txn, "nft-1")
		return err
	})
	assert.ErrorIs(t, err, market.ErrNotListed)
}

func TestExecutor_AuctionRoundTrip(t *testing.T) {
	h := newHarness(t, Config{})
	exp := domain.AtHeight(200)
	h.mint("nft-1", "alice", exp)
	h.ledger.Fund("bob", uusd(150))
	h.ledger.Fund("carol", uusd(200))
	ctx := context.Background()

	_, err := h.exec.Execute(ctx, Request{
		Action:  ActionAuction,
		Sender:  "alice",
		Auction: &market.OpenAuctionRequest{AssetID: "nft-1", RegistryRef: regRef, StartingPrice: uusd(100), Expiration: exp},
	})
	require.NoError(t, err)

	_, err = h.exec.Execute(ctx, bidReq("bob", "nft-1", uusd(150)))
	require.NoError(t, err)
	assert.True(t, h.balance("bob").IsZero())
	assert.True(t, h.balance(marketAddr).Equal(decimal.NewFromInt(150)))

	_, err = h.exec.Execute(ctx, bidReq("carol", "nft-1", uusd(200)))
	require.NoError(t, err)
	assert.True(t, h.balance("bob").Equal(decimal.NewFromInt(150)), "outbid bidder refunded")
	assert.True(t, h.balance(marketAddr).Equal(decimal.NewFromInt(200)))

	_, err = h.exec.Execute(ctx, Request{Action: ActionClaim, Sender: "dave", Claim: &market.ClaimRequest{AssetID: "nft-1"}})
	assert.ErrorIs(t, err, market.ErrOngoingAuction)

	h.clock.Advance(100, 10*time.Minute)
	res, err := h.exec.Execute(ctx, Request{Action: ActionClaim, Sender: "dave", Claim: &market.ClaimRequest{AssetID: "nft-1"}})
	require.NoError(t, err)
	buyer, _ := res.Response.Attr("buyer")
	assert.Equal(t, "carol", buyer)

	assert.True(t, h.balance("alice").Equal(decimal.NewFromInt(200)))
	assert.True(t, h.balance(marketAddr).IsZero())
	owner, err := h.reg.OwnerOf(ctx, regRef, "nft-1")
	require.NoError(t, err)
	assert.Equal(t, "carol", owner)
	assert.Equal(t, 0, h.store.Len())
}

func TestExecutor_RejectionRefundsEscrow(t *testing.T) {
	h := newHarness(t, Config{})
	exp := domain.AtHeight(200)
	h.mint("nft-1", "alice", exp)
	h.ledger.Fund("bob", uusd(100))
	h.list(t, "alice", "nft-1", 100, exp)

	_, err := h.exec.Execute(context.Background(), buyReq("bob", "nft-1", uusd(60)))
	assert.ErrorIs(t, err, market.ErrInvalidAmount)
	assert.True(t, h.balance("bob").Equal(decimal.NewFromInt(100)))
	assert.True(t, h.balance(marketAddr).IsZero())
}

func TestExecutor_InsufficientFunds(t *testing.T) {
	h := newHarness(t, Config{})
	exp := domain.AtHeight(200)
	h.mint("nft-1", "alice", exp)
	h.ledger.Fund("bob", uusd(10))
	h.list(t, "alice", "nft-1", 100, exp)

	_, err := h.exec.Execute(context.Background(), buyReq("bob", "nft-1", uusd(100)))
	assert.ErrorIs(t, err, memory.ErrInsufficientFunds)
	assert.ErrorIs(t, err, ErrEscrowFailed)
	assert.True(t, h.balance("bob").Equal(decimal.NewFromInt(10)))

	err = h.exec.View(func(m *market.Market, txn kvstore.Txn) error {
		_, err := m.Listing(txn, "nft-1")
		return err
	})
	assert.NoError(t, err, "listing untouched")
}

func TestExecutor_TransferFailureRollsBack(t *testing.T) {
	h := newHarness(t, Config{})
	exp := domain.AtHeight(200)
	h.mint("nft-1", "alice", exp)
	h.ledger.Fund("bob", uusd(100))
	h.list(t, "alice", "nft-1", 100, exp)

	boom := errors.New("registry unavailable")
	h.reg.FailNext(boom)
	_, err := h.exec.Execute(context.Background(), buyReq("bob", "nft-1", uusd(100)))
	require.ErrorIs(t, err, ErrEffectFailed)
	assert.ErrorIs(t, err, boom)

	assert.True(t, h.balance("alice").IsZero(), "seller payment reversed")
	assert.True(t, h.balance("bob").Equal(decimal.NewFromInt(100)), "buyer refunded")
	assert.True(t, h.balance(marketAddr).IsZero())
	assert.False(t, h.exec.Breaker().Halted())

	err = h.exec.View(func(m *market.Market, txn kvstore.Txn) error {
		l, err := m.Listing(txn, "nft-1")
		if err == nil {
			assert.Equal(t, "alice", l.Owner)
		}
		return err
	})
	require.NoError(t, err, "listing survives the failed buy")

	_, err = h.exec.Execute(context.Background(), buyReq("bob", "nft-1", uusd(100)))
	require.NoError(t, err, "retry succeeds once the registry recovers")
}

func TestExecutor_RefundFailureKeepsPreviousBid(t *testing.T) {
	h := newHarness(t, Config{})
	exp := domain.AtHeight(200)
	h.mint("nft-1", "alice", exp)
	h.ledger.Fund("bob", uusd(150))
	h.ledger.Fund("carol", uusd(200))
	ctx := context.Background()

	_, err := h.exec.Execute(ctx, Request{
		Action:  ActionAuction,
		Sender:  "alice",
		Auction: &market.OpenAuctionRequest{AssetID: "nft-1", RegistryRef: regRef, StartingPrice: uusd(100), Expiration: exp},
	})
	require.NoError(t, err)
	_, err = h.exec.Execute(ctx, bidReq("bob", "nft-1", uusd(150)))
	require.NoError(t, err)

	h.ledger.FailPaymentsTo("bob", errors.New("account frozen"))
	_, err = h.exec.Execute(ctx, bidReq("carol", "nft-1", uusd(200)))
	require.ErrorIs(t, err, ErrEffectFailed)
	assert.True(t, h.balance("carol").Equal(decimal.NewFromInt(200)))

	err = h.exec.View(func(m *market.Market, txn kvstore.Txn) error {
		hb, err := m.HighestBidder(txn, "nft-1")
		if err == nil {
			assert.Equal(t, "bob", hb.Bidder)
		}
		return err
	})
	require.NoError(t, err)
}

func TestExecutor_BreakerOpensAfterFailures(t *testing.T) {
	h := newHarness(t, Config{BreakerMaxFailures: 1})
	exp := domain.AtHeight(200)
	h.mint("nft-1", "alice", exp)
	h.ledger.Fund("bob", uusd(100))
	h.list(t, "alice", "nft-1", 100, exp)

	h.reg.FailNext(errors.New("registry unavailable"))
	_, err := h.exec.Execute(context.Background(), buyReq("bob", "nft-1", uusd(100)))
	require.ErrorIs(t, err, ErrEffectFailed)

	_, err = h.exec.Execute(context.Background(), buyReq("bob", "nft-1", uusd(100)))
	assert.ErrorIs(t, err, risk.ErrCircuitBreakerOpen)

	h.exec.Breaker().Resume()
	_, err = h.exec.Execute(context.Background(), buyReq("bob", "nft-1", uusd(100)))
	assert.NoError(t, err)
}

func TestExecutor_RejectionsDoNotTripBreaker(t *testing.T) {
	h := newHarness(t, Config{BreakerMaxFailures: 1})
	h.ledger.Fund("bob", uusd(10))
	for i := 0; i < 3; i++ {
		_, err := h.exec.Execute(context.Background(), buyReq("bob", "missing", uusd(1)))
		assert.ErrorIs(t, err, market.ErrNotListed)
	}
	assert.False(t, h.exec.Breaker().Halted())
	assert.True(t, h.balance("bob").Equal(decimal.NewFromInt(10)))
}

func TestExecutor_NonCanonicalAssetIDRejectedBeforeEscrow(t *testing.T) {
	h := newHarness(t, Config{BreakerMaxFailures: 1})
	exp := domain.AtHeight(200)
	h.mint("nft-1", "alice", exp)
	h.ledger.Fund("bob", uusd(100))
	h.list(t, "alice", "nft-1", 100, exp)

	for _, id := range []string{"nft-1 ", " nft-1", "nft-1\n"} {
		_, err := h.exec.Execute(context.Background(), buyReq("bob", id, uusd(100)))
		assert.ErrorIs(t, err, ErrInvalidInput, "asset id %q", id)
		assert.ErrorIs(t, err, market.ErrInvalidAssetID)
	}
	assert.False(t, h.exec.Breaker().Halted())
	assert.True(t, h.balance("bob").Equal(decimal.NewFromInt(100)))
	assert.Empty(t, h.ledger.Moves())
}

func TestExecutor_FractionalFundsRejected(t *testing.T) {
	h := newHarness(t, Config{})
	exp := domain.AtHeight(200)
	h.mint("nft-1", "alice", exp)
	h.ledger.Fund("bob", uusd(200))
	h.list(t, "alice", "nft-1", 100, exp)

	frac := domain.Coin{Denom: denom, Amount: decimal.RequireFromString("100.5")}
	_, err := h.exec.Execute(context.Background(), buyReq("bob", "nft-1", frac))
	assert.ErrorIs(t, err, market.ErrInvalidAmount)
	assert.True(t, h.balance("bob").Equal(decimal.NewFromInt(200)))
	assert.True(t, h.balance(marketAddr).IsZero())
}

func TestExecutor_CancelAuction(t *testing.T) {
	h := newHarness(t, Config{})
	exp := domain.AtHeight(200)
	h.mint("nft-1", "alice", exp)
	_, err := h.exec.Execute(context.Background(), Request{
		Action:  ActionAuction,
		Sender:  "alice",
		Auction: &market.OpenAuctionRequest{AssetID: "nft-1", RegistryRef: regRef, StartingPrice: uusd(100), Expiration: exp},
	})
	require.NoError(t, err)

	res, err := h.exec.Execute(context.Background(), Request{
		Action:        ActionCancelAuction,
		Sender:        "alice",
		CancelAuction: &market.CancelAuctionRequest{AssetID: "nft-1", RegistryRef: regRef},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Response.Effects)

	err = h.exec.View(func(m *market.Market, txn kvstore.Txn) error {
		_, err := m.AuctionListing(txn, "nft-1")
		return err
	})
	assert.ErrorIs(t, err, market.ErrNotListed)
}

func TestExecutor_IdempotencyReplay(t *testing.T) {
	h := newHarness(t, Config{})
	exp := domain.AtHeight(200)
	h.mint("nft-1", "alice", exp)
	h.ledger.Fund("bob", uusd(300))
	h.list(t, "alice", "nft-1", 100, exp)

	req := buyReq("bob", "nft-1", uusd(100))
	req.IdempotencyKey = "order-7"

	first, err := h.exec.Execute(context.Background(), req)
	require.NoError(t, err)
	second, err := h.exec.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.RequestID, second.RequestID)
	assert.True(t, h.balance("bob").Equal(decimal.NewFromInt(200)), "charged once")
	assert.Len(t, h.ledger.Moves(), 2, "escrow and seller payment only")
}

func TestExecutor_FailedRequestReleasesKey(t *testing.T) {
	h := newHarness(t, Config{})
	exp := domain.AtHeight(200)
	h.mint("nft-1", "alice", exp)
	h.ledger.Fund("bob", uusd(100))
	h.list(t, "alice", "nft-1", 100, exp)

	req := buyReq("bob", "nft-1", uusd(99))
	req.IdempotencyKey = "k"
	_, err := h.exec.Execute(context.Background(), req)
	require.ErrorIs(t, err, market.ErrInvalidAmount)

	req.Funds = []domain.Coin{uusd(100)}
	res, err := h.exec.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
}

func TestExecutor_NonPayableIgnoresFunds(t *testing.T) {
	h := newHarness(t, Config{})
	exp := domain.AtHeight(200)
	h.mint("nft-1", "alice", exp)
	h.ledger.Fund("alice", uusd(5))

	_, err := h.exec.Execute(context.Background(), Request{
		Action: ActionList,
		Sender: "alice",
		Funds:  []domain.Coin{uusd(5)},
		List:   &market.ListRequest{AssetID: "nft-1", RegistryRef: regRef, Price: uusd(100), Expiration: exp},
	})
	require.NoError(t, err)
	assert.True(t, h.balance("alice").Equal(decimal.NewFromInt(5)))
}

func TestExecutor_SubmitValidation(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	_, err := h.exec.Submit(ctx, Request{Action: ActionBuy, Buy: &market.BuyRequest{AssetID: "x"}})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = h.exec.Submit(ctx, Request{Action: ActionBuy, Sender: "bob"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = h.exec.Submit(ctx, Request{Action: "burn", Sender: "bob"})
	assert.ErrorIs(t, err, ErrUnknownAction)
	_, err = h.exec.Submit(ctx, Request{Action: ActionClaim, Sender: "bob", Claim: &market.ClaimRequest{}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	reg := memory.NewRegistry(marketAddr, nil)
	m, err := market.New(market.Config{Address: marketAddr, Denom: denom}, reg)
	require.NoError(t, err)
	idle, err := NewExecutor(Config{}, Deps{Market: m, Store: kvstore.NewMemoryStore(), Registry: reg, Ledger: memory.NewLedger(), Clock: memory.NewClock(1, time.Now())})
	require.NoError(t, err)
	_, err = idle.Submit(ctx, buyReq("bob", "x"))
	assert.ErrorIs(t, err, ErrNotStarted)

	_, err = NewExecutor(Config{}, Deps{})
	assert.Error(t, err)
}

func TestExecutor_StopsWithContext(t *testing.T) {
	reg := memory.NewRegistry(marketAddr, nil)
	m, err := market.New(market.Config{Address: marketAddr, Denom: denom}, reg)
	require.NoError(t, err)
	exec, err := NewExecutor(Config{}, Deps{Market: m, Store: kvstore.NewMemoryStore(), Registry: reg, Ledger: memory.NewLedger(), Clock: memory.NewClock(1, time.Now())})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	exec.Start(ctx)
	cancel()

	select {
	case <-exec.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("executor did not stop")
	}
	_, err = exec.Submit(context.Background(), buyReq("bob", "x"))
	assert.ErrorIs(t, err, ErrStopped)
}
