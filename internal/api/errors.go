package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/betbot/nftmarket/internal/execution"
	"github.com/betbot/nftmarket/internal/market"
	"github.com/betbot/nftmarket/internal/risk"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{"error": errorBody{Code: code, Message: msg}})
}

var rejectionStatus = map[string]int{
	"unauthorized":            http.StatusForbidden,
	"already_listed":          http.StatusConflict,
	"not_listed":              http.StatusNotFound,
	"invalid_amount":          http.StatusBadRequest,
	"invalid_denomination":    http.StatusBadRequest,
	"expired":                 http.StatusGone,
	"ongoing_auction":         http.StatusTooEarly,
	"unapproved":              http.StatusPreconditionFailed,
	"unsurpassed_highest_bid": http.StatusConflict,
	"no_bids":                 http.StatusConflict,
	"invalid_asset_id":        http.StatusBadRequest,
	"auction_has_bids":        http.StatusConflict,
}

// classify 把执行/查询错误映射为 HTTP 状态码和稳定的错误码。
// 市场拒绝原样返回错误信息；基础设施错误只返回通用信息，细节写日志。
func classify(err error) (int, string, string) {
	if code := market.Code(err); code != "" {
		status, ok := rejectionStatus[code]
		if !ok {
			status = http.StatusBadRequest
		}
		return status, code, err.Error()
	}
	switch {
	case errors.Is(err, execution.ErrInvalidInput), errors.Is(err, execution.ErrUnknownAction):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, execution.ErrDuplicateInFlight):
		return http.StatusConflict, "duplicate_request", "a request with this idempotency key is still running"
	case errors.Is(err, execution.ErrEscrowFailed):
		return http.StatusPaymentRequired, "escrow_failed", "attached funds could not be escrowed"
	case errors.Is(err, risk.ErrCircuitBreakerOpen):
		return http.StatusServiceUnavailable, "circuit_open", "settlement is paused"
	case errors.Is(err, execution.ErrQueueFull):
		return http.StatusServiceUnavailable, "queue_full", "too many pending requests"
	case errors.Is(err, execution.ErrStopped), errors.Is(err, execution.ErrNotStarted):
		return http.StatusServiceUnavailable, "unavailable", "executor is not running"
	case errors.Is(err, execution.ErrEffectFailed):
		return http.StatusBadGateway, "effect_failed", "settlement could not be completed and was rolled back"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout", "request timed out"
	case errors.Is(err, context.Canceled):
		return 499, "canceled", "request canceled"
	}
	return http.StatusInternalServerError, "internal", "internal error"
}

func writeFailure(c *gin.Context, err error) {
	status, code, msg := classify(err)
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.FullPath()).Warn("request failed")
	}
	writeError(c, status, code, msg)
}
