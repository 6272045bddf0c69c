package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/nftmarket/internal/adapters/memory"
	"github.com/betbot/nftmarket/internal/api"
	"github.com/betbot/nftmarket/internal/domain"
	"github.com/betbot/nftmarket/internal/events"
	"github.com/betbot/nftmarket/internal/execution"
	"github.com/betbot/nftmarket/internal/market"
	"github.com/betbot/nftmarket/pkg/kvstore"
)

func startMarket(t *testing.T) (*httptest.Server, *memory.Registry, *memory.Ledger) {
	t.Helper()
	reg := memory.NewRegistry("market", nil)
	ledger := memory.NewLedger()
	clock := memory.NewClock(10, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	m, err := market.New(market.Config{Address: "market", Denom: "uusd"}, reg)
	require.NoError(t, err)
	exec, err := execution.NewExecutor(execution.Config{}, execution.Deps{
		Market: m, Store: kvstore.NewMemoryStore(), Registry: reg, Ledger: ledger, Clock: clock, Events: events.NewHub(),
	})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	exec.Start(ctx)

	srv, err := api.New(api.Config{Balances: ledger, History: ledger, OperatorToken: "op"}, exec, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, reg, ledger
}

func TestClient_ListBuyAndQuery(t *testing.T) {
	ts, reg, ledger := startMarket(t)
	aliceKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	bobKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	ctx := context.Background()
	alice := NewClient(ts.URL+"/", Options{Key: aliceKey})
	bob := alice.WithKey(bobKey)

	exp := domain.AtHeight(50)
	reg.Mint("reg", "a1", alice.Sender())
	reg.Mint("reg", "a2", alice.Sender())
	reg.Approve("reg", alice.Sender(), domain.Approval{Spender: "market", Expires: exp})
	ledger.Fund(bob.Sender(), domain.NewCoin(100, "uusd"))

	res, err := alice.List(ctx, market.ListRequest{AssetID: "a1", RegistryRef: "reg", Price: domain.NewCoin(40, "uusd"), Expiration: exp}, nil)
	require.NoError(t, err)
	assert.Equal(t, execution.ActionList, res.Action)
	_, err = alice.List(ctx, market.ListRequest{AssetID: "a2", RegistryRef: "reg", Price: domain.NewCoin(60, "uusd"), Expiration: exp}, nil)
	require.NoError(t, err)

	// unsigned requests are refused
	_, err = alice.WithSender(alice.Sender()).Delist(ctx, market.DelistRequest{AssetID: "a2", RegistryRef: "reg"}, nil)
	assert.True(t, IsCode(err, "unauthenticated"))

	all, err := alice.AllListings(ctx, domain.AssetFixedSale)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	l, err := alice.Listing(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, alice.Sender(), l.Owner)

	_, err = bob.Buy(ctx, market.BuyRequest{AssetID: "a1"}, &CallOptions{Funds: []domain.Coin{domain.NewCoin(40, "uusd")}, IdempotencyKey: "buy-a1"})
	require.NoError(t, err)

	replay, err := bob.Buy(ctx, market.BuyRequest{AssetID: "a1"}, &CallOptions{Funds: []domain.Coin{domain.NewCoin(40, "uusd")}, IdempotencyKey: "buy-a1"})
	require.NoError(t, err)
	assert.True(t, replay.Replayed)

	bal, err := alice.Balance(ctx, alice.Sender(), "")
	require.NoError(t, err)
	assert.True(t, bal.Equal(domain.NewCoin(40, "uusd")))

	payments, err := alice.Payments(ctx, alice.Sender(), 10)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "market", payments[0].From)

	_, err = alice.Listing(ctx, "a1")
	require.Error(t, err)
	assert.True(t, IsCode(err, "not_listed"))

	_, err = bob.Bid(ctx, market.BidRequest{AssetID: "a2"}, &CallOptions{Funds: []domain.Coin{domain.NewCoin(60, "uusd")}})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)

	st, err := alice.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "market", st.Marketplace)
	assert.Equal(t, uint64(10), st.Block.Height)
}

func TestClient_CancelAuctionAndAdmin(t *testing.T) {
	ts, reg, _ := startMarket(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	ctx := context.Background()
	owner := NewClient(ts.URL, Options{Key: key})

	exp := domain.AtHeight(50)
	reg.Mint("reg", "a3", owner.Sender())
	reg.Approve("reg", owner.Sender(), domain.Approval{Spender: "market", Expires: exp})
	_, err = owner.OpenAuction(ctx, market.OpenAuctionRequest{AssetID: "a3", RegistryRef: "reg", StartingPrice: domain.NewCoin(5, "uusd"), Expiration: exp}, nil)
	require.NoError(t, err)
	_, err = owner.CancelAuction(ctx, market.CancelAuctionRequest{AssetID: "a3", RegistryRef: "reg"}, nil)
	require.NoError(t, err)
	_, err = owner.AuctionListing(ctx, "a3")
	assert.True(t, IsCode(err, "not_listed"))

	assert.True(t, IsCode(owner.HaltBreaker(ctx), "forbidden"))
	op := NewClient(ts.URL, Options{OperatorToken: "op"})
	require.NoError(t, op.HaltBreaker(ctx))
	st, err := op.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.BreakerManual)
	require.NoError(t, op.ResumeBreaker(ctx))
}

func TestClient_RetriesReadsOnly(t *testing.T) {
	var gets, posts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets.Add(1)
		} else {
			posts.Add(1)
		}
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, Options{Sender: "bob", RetryCount: 2})
	_, err := c.Status(context.Background())
	require.Error(t, err)
	assert.True(t, IsCode(err, "http_error"))
	assert.Equal(t, int32(3), gets.Load())

	_, err = c.Claim(context.Background(), market.ClaimRequest{AssetID: "x"}, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), posts.Load())
}
