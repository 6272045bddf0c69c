// Package registryhttp talks to a remote asset registry over its JSON/HTTP API.
package registryhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/betbot/nftmarket/internal/domain"
	"github.com/betbot/nftmarket/internal/ports"
)

var (
	ErrUnknownAsset = errors.New("registry: unknown asset")
	ErrRejected     = errors.New("registry: request rejected")
)

type Options struct {
	// Operator is sent on transfers; the registry checks it against approvals.
	Operator   string
	Timeout    time.Duration
	RetryCount int
	// APIKey is sent as a bearer token when set.
	APIKey string
}

type Client struct {
	client   *resty.Client
	operator string
}

type ownerResponse struct {
	Owner string `json:"owner"`
}

type approvalsResponse struct {
	Approvals []domain.Approval `json:"approvals"`
}

type transferRequest struct {
	Operator  string `json:"operator"`
	Recipient string `json:"recipient"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewClient(host string, opts Options) *Client {
	host = strings.TrimSuffix(strings.TrimSpace(host), "/")
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryCount < 0 {
		opts.RetryCount = 0
	}

	client := resty.New().
		SetBaseURL(host).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "nftmarket-registry-client").
		// 只重试幂等的查询；transfer 失败交给执行器回滚，不能重放
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
				return false
			}
			return err != nil || resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
		})
	if opts.APIKey != "" {
		client.SetAuthToken(opts.APIKey)
	}
	return &Client{client: client, operator: opts.Operator}
}

func (c *Client) newRequest(ctx context.Context) *resty.Request {
	r := c.client.R()
	if ctx != nil {
		r.SetContext(ctx)
	}
	return r
}

func (c *Client) OwnerOf(ctx context.Context, registryRef, assetID string) (string, error) {
	var out ownerResponse
	resp, err := c.newRequest(ctx).
		SetResult(&out).
		Get(tokenPath(registryRef, assetID) + "/owner")
	if err := checkResponse(resp, err, "owner_of "+assetID); err != nil {
		return "", err
	}
	if out.Owner == "" {
		return "", errors.Errorf("owner_of %s: empty owner in response", assetID)
	}
	return out.Owner, nil
}

func (c *Client) Approvals(ctx context.Context, registryRef, owner string) ([]domain.Approval, error) {
	var out approvalsResponse
	resp, err := c.newRequest(ctx).
		SetResult(&out).
		Get("/v1/registries/" + url.PathEscape(registryRef) + "/owners/" + url.PathEscape(owner) + "/approvals")
	if err := checkResponse(resp, err, "approvals of "+owner); err != nil {
		return nil, err
	}
	return out.Approvals, nil
}

func (c *Client) TransferAsset(ctx context.Context, registryRef, assetID, recipient string) error {
	resp, err := c.newRequest(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(transferRequest{Operator: c.operator, Recipient: recipient}).
		Post(tokenPath(registryRef, assetID) + "/transfer")
	return checkResponse(resp, err, "transfer "+assetID)
}

func tokenPath(registryRef, assetID string) string {
	return "/v1/registries/" + url.PathEscape(registryRef) + "/tokens/" + url.PathEscape(assetID)
}

func checkResponse(resp *resty.Response, err error, op string) error {
	if err != nil {
		return errors.Wrap(err, op)
	}
	if resp.IsSuccess() {
		return nil
	}
	msg := strings.TrimSpace(string(resp.Body()))
	var body errorResponse
	if json.Unmarshal(resp.Body(), &body) == nil && body.Error != "" {
		msg = body.Error
	}
	switch resp.StatusCode() {
	case http.StatusNotFound:
		return errors.Wrapf(ErrUnknownAsset, "%s: %s", op, msg)
	case http.StatusForbidden, http.StatusConflict, http.StatusUnprocessableEntity:
		return errors.Wrapf(ErrRejected, "%s: %s", op, msg)
	default:
		return errors.Errorf("%s: http %d: %s", op, resp.StatusCode(), msg)
	}
}

var _ ports.Registry = (*Client)(nil)
