// Package http is a typed client for the marketplace HTTP API.
package http

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/betbot/nftmarket/internal/domain"
	"github.com/betbot/nftmarket/internal/execution"
	"github.com/betbot/nftmarket/internal/market"
	"github.com/betbot/nftmarket/pkg/reqsign"
)

// APIError 服务端返回的结构化错误
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("http %d %s: %s", e.Status, e.Code, e.Message)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

type Client struct {
	client   *resty.Client
	basePath string
	sender   string
	key      *ecdsa.PrivateKey
	operator string
	now      func() time.Time
}

type Options struct {
	// Sender 作为 X-Sender 发送；只读查询可以留空。设置 Key 时以 Key 的地址为准
	Sender string
	// Key 对写请求签名；服务端信任 X-Sender 时可以不设
	Key *ecdsa.PrivateKey
	// OperatorToken 用于 /v1/admin 路由
	OperatorToken string
	Timeout       time.Duration
	RetryCount    int
}

func NewClient(host string, opts Options) *Client {
	host = strings.TrimSuffix(host, "/")
	basePath := ""
	if u, err := url.Parse(host); err == nil {
		basePath = strings.TrimSuffix(u.Path, "/")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	// 只重试查询：写请求重试需要 Idempotency-Key，由调用方决定
	client := resty.New().
		SetBaseURL(host).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
				return false
			}
			return err != nil || resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
		}).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 如果遇到 429 限流，使用 Retry-After 头
			if resp.StatusCode() == http.StatusTooManyRequests {
				if s, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil && s > 0 {
					return time.Duration(s) * time.Second, nil
				}
			}
			return 0, nil
		})

	c := &Client{client: client, basePath: basePath, sender: opts.Sender, operator: opts.OperatorToken, now: time.Now}
	if opts.Key != nil {
		c.key = opts.Key
		c.sender = reqsign.Address(opts.Key)
	}
	return c
}

// WithSender returns a copy that sends requests as sender without signing them.
func (c *Client) WithSender(sender string) *Client {
	cp := *c
	cp.sender = sender
	cp.key = nil
	return &cp
}

// WithKey returns a copy that signs requests with key.
func (c *Client) WithKey(key *ecdsa.PrivateKey) *Client {
	cp := *c
	cp.key = key
	cp.sender = reqsign.Address(key)
	return &cp
}

// Sender is the account write requests are sent as.
func (c *Client) Sender() string { return c.sender }

// CallOptions 单次写请求的可选项
type CallOptions struct {
	Funds          []domain.Coin
	IdempotencyKey string
}

func (c *Client) newRequest(ctx context.Context) *resty.Request {
	r := c.client.R()
	if ctx != nil {
		r.SetContext(ctx)
	}
	r.SetHeader("Accept", "application/json")
	r.SetHeader("User-Agent", "nftmarket-sdk-go")
	if c.sender != "" {
		r.SetHeader("X-Sender", c.sender)
	}
	return r
}

func (c *Client) execute(ctx context.Context, path string, payload any, opt *CallOptions) (*execution.Result, error) {
	body := map[string]json.RawMessage{}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "encode payload")
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, errors.Wrap(err, "encode payload")
	}

	r := c.newRequest(ctx)
	idemKey := ""
	if opt != nil {
		if len(opt.Funds) > 0 {
			funds, err := json.Marshal(opt.Funds)
			if err != nil {
				return nil, errors.Wrap(err, "encode funds")
			}
			body["funds"] = funds
		}
		idemKey = strings.TrimSpace(opt.IdempotencyKey)
		if idemKey != "" {
			r.SetHeader("Idempotency-Key", idemKey)
		}
	}
	raw, err = json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "encode body")
	}
	if c.key != nil {
		ts := c.now().Unix()
		sig, err := reqsign.Sign(c.key, reqsign.Fields{
			Method:         http.MethodPost,
			Path:           c.basePath + path,
			Sender:         c.sender,
			Timestamp:      ts,
			IdempotencyKey: idemKey,
			Body:           raw,
		})
		if err != nil {
			return nil, errors.Wrap(err, "sign request")
		}
		r.SetHeader(reqsign.HeaderTimestamp, strconv.FormatInt(ts, 10))
		r.SetHeader(reqsign.HeaderSignature, sig)
	}
	var out execution.Result
	resp, err := r.SetHeader("Content-Type", "application/json").SetBody(raw).SetResult(&out).Post(path)
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) List(ctx context.Context, req market.ListRequest, opt *CallOptions) (*execution.Result, error) {
	return c.execute(ctx, "/v1/list", req, opt)
}

func (c *Client) Delist(ctx context.Context, req market.DelistRequest, opt *CallOptions) (*execution.Result, error) {
	return c.execute(ctx, "/v1/delist", req, opt)
}

func (c *Client) Buy(ctx context.Context, req market.BuyRequest, opt *CallOptions) (*execution.Result, error) {
	return c.execute(ctx, "/v1/buy", req, opt)
}

func (c *Client) OpenAuction(ctx context.Context, req market.OpenAuctionRequest, opt *CallOptions) (*execution.Result, error) {
	return c.execute(ctx, "/v1/auction", req, opt)
}

func (c *Client) Bid(ctx context.Context, req market.BidRequest, opt *CallOptions) (*execution.Result, error) {
	return c.execute(ctx, "/v1/bid", req, opt)
}

func (c *Client) Claim(ctx context.Context, req market.ClaimRequest, opt *CallOptions) (*execution.Result, error) {
	return c.execute(ctx, "/v1/claim", req, opt)
}

// CancelAuction withdraws an auction that has no bids.
func (c *Client) CancelAuction(ctx context.Context, req market.CancelAuctionRequest, opt *CallOptions) (*execution.Result, error) {
	return c.execute(ctx, "/v1/auction/cancel", req, opt)
}

func (c *Client) get(ctx context.Context, path string, params map[string]string, out any) error {
	resp, err := c.newRequest(ctx).SetQueryParams(params).SetResult(out).Get(path)
	return checkResponse(resp, err)
}

func (c *Client) Listing(ctx context.Context, assetID string) (domain.Listing, error) {
	var out domain.Listing
	err := c.get(ctx, "/v1/listings/"+url.PathEscape(assetID), nil, &out)
	return out, err
}

func (c *Client) AuctionListing(ctx context.Context, assetID string) (domain.Auction, error) {
	var out domain.Auction
	err := c.get(ctx, "/v1/auctions/"+url.PathEscape(assetID), nil, &out)
	return out, err
}

func (c *Client) HighestBidder(ctx context.Context, assetID string) (domain.HighestBid, error) {
	var out domain.HighestBid
	err := c.get(ctx, "/v1/auctions/"+url.PathEscape(assetID)+"/highest-bid", nil, &out)
	return out, err
}

// Listings 分页查询；pageToken 为空表示第一页
func (c *Client) Listings(ctx context.Context, kind domain.AssetKind, pageSize int, pageToken string) (market.Page, error) {
	params := map[string]string{"kind": string(kind)}
	if pageSize > 0 {
		params["page_size"] = strconv.Itoa(pageSize)
	}
	if pageToken != "" {
		params["page_token"] = pageToken
	}
	var out market.Page
	err := c.get(ctx, "/v1/listings", params, &out)
	return out, err
}

// AllListings 翻完所有页
func (c *Client) AllListings(ctx context.Context, kind domain.AssetKind) ([]domain.AssetState, error) {
	var all []domain.AssetState
	token := ""
	for {
		page, err := c.Listings(ctx, kind, market.MaxPageSize, token)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Assets...)
		if page.NextPageToken == "" {
			return all, nil
		}
		token = page.NextPageToken
	}
}

// Status 对应 /v1/status
type Status struct {
	Marketplace   string           `json:"marketplace"`
	Denom         string           `json:"denom"`
	Block         domain.BlockInfo `json:"block"`
	BreakerOpen   bool             `json:"breaker_open"`
	BreakerManual bool             `json:"breaker_manual"`
	BreakerTrips  int64            `json:"breaker_trips"`
	Subscribers   int              `json:"subscribers"`
	EventsDropped int64            `json:"events_dropped"`
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var out Status
	err := c.get(ctx, "/v1/status", nil, &out)
	return out, err
}

func (c *Client) Balance(ctx context.Context, account, denom string) (domain.Coin, error) {
	var out struct {
		Balance domain.Coin `json:"balance"`
	}
	params := map[string]string{}
	if denom != "" {
		params["denom"] = denom
	}
	err := c.get(ctx, "/v1/balances/"+url.PathEscape(account), params, &out)
	return out.Balance, err
}

// Payments 账户最近的账本流水，新的在前
func (c *Client) Payments(ctx context.Context, account string, limit int) ([]domain.Payment, error) {
	var out struct {
		Payments []domain.Payment `json:"payments"`
	}
	params := map[string]string{}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}
	err := c.get(ctx, "/v1/balances/"+url.PathEscape(account)+"/payments", params, &out)
	return out.Payments, err
}

// HaltBreaker 暂停结算（需要 operator token）
func (c *Client) HaltBreaker(ctx context.Context) error {
	return c.admin(ctx, "/v1/admin/breaker/halt")
}

// ResumeBreaker 恢复结算（需要 operator token）
func (c *Client) ResumeBreaker(ctx context.Context) error {
	return c.admin(ctx, "/v1/admin/breaker/resume")
}

func (c *Client) admin(ctx context.Context, path string) error {
	r := c.newRequest(ctx)
	if c.operator != "" {
		r.SetHeader("Authorization", "Bearer "+c.operator)
	}
	resp, err := r.Post(path)
	return checkResponse(resp, err)
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return errors.Wrap(err, "marketplace request")
	}
	if resp.IsSuccess() {
		return nil
	}
	apiErr := &APIError{Status: resp.StatusCode()}
	var body struct {
		Error *APIError `json:"error"`
	}
	if json.Unmarshal(resp.Body(), &body) == nil && body.Error != nil {
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
	} else {
		apiErr.Code = "http_error"
		apiErr.Message = strings.TrimSpace(string(resp.Body()))
	}
	return apiErr
}
