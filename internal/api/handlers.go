package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/betbot/nftmarket/internal/domain"
	"github.com/betbot/nftmarket/internal/execution"
	"github.com/betbot/nftmarket/internal/market"
	"github.com/betbot/nftmarket/pkg/kvstore"
)

// 写请求 body 里除了各自的 payload 字段，还可以带 funds（附带的原生货币）。
type fundsBody struct {
	Funds []domain.Coin `json:"funds"`
}

// decodeRequest 解析 body 为 payload 和 funds，组装执行请求。
func decodeRequest[T any](c *gin.Context, action execution.Action) (execution.Request, *T, bool) {
	raw, err := c.GetRawData()
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", "read body: "+err.Error())
		return execution.Request{}, nil, false
	}
	var payload T
	var funds fundsBody
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			writeError(c, http.StatusBadRequest, "invalid_request", "decode body: "+err.Error())
			return execution.Request{}, nil, false
		}
		if err := json.Unmarshal(raw, &funds); err != nil {
			writeError(c, http.StatusBadRequest, "invalid_request", "decode funds: "+err.Error())
			return execution.Request{}, nil, false
		}
	}
	req := execution.Request{
		Action:         action,
		Sender:         senderOf(c),
		Funds:          funds.Funds,
		IdempotencyKey: strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey)),
	}
	return req, &payload, true
}

func (s *Server) execute(c *gin.Context, req execution.Request) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()

	res, err := s.exec.Execute(ctx, req)
	if err != nil {
		writeFailure(c, err)
		return
	}
	c.Header(HeaderRequestID, res.RequestID)
	if res.Replayed {
		c.Header(HeaderReplayed, "true")
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleList(c *gin.Context) {
	req, p, ok := decodeRequest[market.ListRequest](c, execution.ActionList)
	if !ok {
		return
	}
	req.List = p
	s.execute(c, req)
}

func (s *Server) handleDelist(c *gin.Context) {
	req, p, ok := decodeRequest[market.DelistRequest](c, execution.ActionDelist)
	if !ok {
		return
	}
	req.Delist = p
	s.execute(c, req)
}

func (s *Server) handleBuy(c *gin.Context) {
	req, p, ok := decodeRequest[market.BuyRequest](c, execution.ActionBuy)
	if !ok {
		return
	}
	req.Buy = p
	s.execute(c, req)
}

func (s *Server) handleAuction(c *gin.Context) {
	req, p, ok := decodeRequest[market.OpenAuctionRequest](c, execution.ActionAuction)
	if !ok {
		return
	}
	req.Auction = p
	s.execute(c, req)
}

func (s *Server) handleBid(c *gin.Context) {
	req, p, ok := decodeRequest[market.BidRequest](c, execution.ActionBid)
	if !ok {
		return
	}
	req.Bid = p
	s.execute(c, req)
}

func (s *Server) handleClaim(c *gin.Context) {
	req, p, ok := decodeRequest[market.ClaimRequest](c, execution.ActionClaim)
	if !ok {
		return
	}
	req.Claim = p
	s.execute(c, req)
}

// view 执行只读查询并写回 JSON
func (s *Server) view(c *gin.Context, fn func(m *market.Market, txn kvstore.Txn) (any, error)) {
	var out any
	err := s.exec.View(func(m *market.Market, txn kvstore.Txn) error {
		v, err := fn(m, txn)
		out = v
		return err
	})
	if err != nil {
		writeFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetListing(c *gin.Context) {
	id := c.Param("assetID")
	s.view(c, func(m *market.Market, txn kvstore.Txn) (any, error) {
		return m.Listing(txn, id)
	})
}

func (s *Server) handleGetAuction(c *gin.Context) {
	id := c.Param("assetID")
	s.view(c, func(m *market.Market, txn kvstore.Txn) (any, error) {
		return m.AuctionListing(txn, id)
	})
}

func (s *Server) handleGetHighestBid(c *gin.Context) {
	id := c.Param("assetID")
	s.view(c, func(m *market.Market, txn kvstore.Txn) (any, error) {
		return m.HighestBidder(txn, id)
	})
}

// handleListings GET /v1/listings?kind=fixed_sale|auction&page_size=&page_token=
func (s *Server) handleListings(c *gin.Context) {
	kind := domain.AssetKind(strings.TrimSpace(c.DefaultQuery("kind", string(domain.AssetFixedSale))))
	if kind != domain.AssetFixedSale && kind != domain.AssetAuction {
		writeError(c, http.StatusBadRequest, "invalid_request", fmt.Sprintf("unknown kind %q", kind))
		return
	}
	pageSize := 50
	if v := strings.TrimSpace(c.Query("page_size")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(c, http.StatusBadRequest, "invalid_request", "page_size must be a positive integer")
			return
		}
		pageSize = n
	}
	token := c.Query("page_token")
	s.view(c, func(m *market.Market, txn kvstore.Txn) (any, error) {
		return m.Listings(txn, kind, pageSize, token)
	})
}

func (s *Server) handleBalance(c *gin.Context) {
	if s.cfg.Balances == nil {
		writeError(c, http.StatusNotImplemented, "unsupported", "ledger does not expose balances")
		return
	}
	account := c.Param("account")
	denom := c.DefaultQuery("denom", s.exec.Market().Denom())
	amt, err := s.cfg.Balances.BalanceOf(c.Request.Context(), account, denom)
	if err != nil {
		writeFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account, "balance": domain.Coin{Denom: denom, Amount: amt}})
}

// handlePayments GET /v1/balances/:account/payments?limit=
func (s *Server) handlePayments(c *gin.Context) {
	if s.cfg.History == nil {
		writeError(c, http.StatusNotImplemented, "unsupported", "ledger does not expose payment history")
		return
	}
	limit := 100
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(c, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}
	account := c.Param("account")
	payments, err := s.cfg.History.History(c.Request.Context(), account, limit)
	if err != nil {
		writeFailure(c, err)
		return
	}
	if payments == nil {
		payments = []domain.Payment{}
	}
	c.JSON(http.StatusOK, gin.H{"account": account, "payments": payments})
}

func (s *Server) handleCancelAuction(c *gin.Context) {
	req, p, ok := decodeRequest[market.CancelAuctionRequest](c, execution.ActionCancelAuction)
	if !ok {
		return
	}
	req.CancelAuction = p
	s.execute(c, req)
}
