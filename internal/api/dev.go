package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/betbot/nftmarket/internal/domain"
)

type mintBody struct {
	RegistryRef string `json:"registry_ref"`
	AssetID     string `json:"asset_id"`
	Owner       string `json:"owner"`
}

type approveBody struct {
	RegistryRef string            `json:"registry_ref"`
	Owner       string            `json:"owner"`
	Spender     string            `json:"spender"`
	Expires     domain.Expiration `json:"expires"`
}

type fundBody struct {
	Account string      `json:"account"`
	Amount  domain.Coin `json:"amount"`
}

func (s *Server) devRegistry(c *gin.Context) DevRegistry {
	if s.cfg.Dev == nil || s.cfg.Dev.Registry == nil {
		writeError(c, http.StatusNotImplemented, "unsupported", "registry is not writable")
		return nil
	}
	return s.cfg.Dev.Registry
}

func (s *Server) handleDevMint(c *gin.Context) {
	reg := s.devRegistry(c)
	if reg == nil {
		return
	}
	var b mintBody
	if err := c.ShouldBindJSON(&b); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(b.RegistryRef) == "" || strings.TrimSpace(b.AssetID) == "" || strings.TrimSpace(b.Owner) == "" {
		writeError(c, http.StatusBadRequest, "invalid_request", "registry_ref, asset_id and owner are required")
		return
	}
	reg.Mint(b.RegistryRef, b.AssetID, b.Owner)
	c.JSON(http.StatusOK, b)
}

// handleDevApprove 未指定 spender 时默认授权给市场账户
func (s *Server) handleDevApprove(c *gin.Context) {
	reg := s.devRegistry(c)
	if reg == nil {
		return
	}
	var b approveBody
	if err := c.ShouldBindJSON(&b); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if b.Spender == "" {
		b.Spender = s.exec.Market().Address()
	}
	if strings.TrimSpace(b.RegistryRef) == "" || strings.TrimSpace(b.Owner) == "" {
		writeError(c, http.StatusBadRequest, "invalid_request", "registry_ref and owner are required")
		return
	}
	reg.Approve(b.RegistryRef, b.Owner, domain.Approval{Spender: b.Spender, Expires: b.Expires})
	c.JSON(http.StatusOK, b)
}

func (s *Server) handleDevRevoke(c *gin.Context) {
	reg := s.devRegistry(c)
	if reg == nil {
		return
	}
	var b approveBody
	if err := c.ShouldBindJSON(&b); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if b.Spender == "" {
		b.Spender = s.exec.Market().Address()
	}
	reg.Revoke(b.RegistryRef, b.Owner, b.Spender)
	c.JSON(http.StatusOK, gin.H{"revoked": true})
}

func (s *Server) handleDevFund(c *gin.Context) {
	if s.cfg.Dev == nil || s.cfg.Dev.Funder == nil {
		writeError(c, http.StatusNotImplemented, "unsupported", "ledger is not fundable")
		return
	}
	var b fundBody
	if err := c.ShouldBindJSON(&b); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(b.Account) == "" {
		writeError(c, http.StatusBadRequest, "invalid_request", "account is required")
		return
	}
	if err := s.cfg.Dev.Funder.Deposit(c.Request.Context(), b.Account, b.Amount); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	c.JSON(http.StatusOK, b)
}
