package api

import (
	"bytes"
	"crypto/subtle"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/betbot/nftmarket/pkg/reqsign"
)

// AuthMode 决定写请求如何确认 sender 身份
type AuthMode string

const (
	// AuthSignature 要求 X-Sender 为地址，并带 X-Timestamp 与 X-Signature
	AuthSignature AuthMode = "signature"
	// AuthHeader 直接信任 X-Sender，仅用于本地调试
	AuthHeader AuthMode = "header"
)

const ctxSender = "nftmarket.sender"

// authenticate 校验签名，把确认后的 sender 放进 gin context
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		claimed := strings.TrimSpace(c.GetHeader(HeaderSender))
		if claimed == "" {
			writeError(c, http.StatusUnauthorized, "unauthenticated", "X-Sender is required")
			c.Abort()
			return
		}
		if s.cfg.Auth == AuthHeader {
			c.Set(ctxSender, claimed)
			c.Next()
			return
		}

		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid_request", "read body: "+err.Error())
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(raw))

		ts, err := strconv.ParseInt(strings.TrimSpace(c.GetHeader(reqsign.HeaderTimestamp)), 10, 64)
		if err != nil {
			writeError(c, http.StatusUnauthorized, "unauthenticated", "X-Timestamp must be unix seconds")
			c.Abort()
			return
		}
		sender, err := s.verifier.Verify(reqsign.Fields{
			Method:         c.Request.Method,
			Path:           c.Request.URL.Path,
			Sender:         claimed,
			Timestamp:      ts,
			IdempotencyKey: strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey)),
			Body:           raw,
		}, c.GetHeader(reqsign.HeaderSignature))
		if err != nil {
			log.WithError(err).WithField("sender", claimed).Warn("rejected unauthenticated request")
			writeError(c, http.StatusUnauthorized, "unauthenticated", err.Error())
			c.Abort()
			return
		}
		c.Set(ctxSender, sender)
		c.Next()
	}
}

func senderOf(c *gin.Context) string {
	return c.GetString(ctxSender)
}

// operatorOnly 校验 Authorization: Bearer <operator token>；未配置 token 时一律拒绝
func (s *Server) operatorOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		want := s.cfg.OperatorToken
		if want == "" || subtle.ConstantTimeCompare([]byte(token), []byte(want)) != 1 {
			writeError(c, http.StatusForbidden, "forbidden", "operator token required")
			c.Abort()
			return
		}
		c.Next()
	}
}
