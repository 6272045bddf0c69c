package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_YAMLWithDefaults(t *testing.T) {
	p := writeFile(t, "market.yaml", `
marketplace:
  address: market1
store:
  path: /tmp/state
registry:
  url: http://registry:9000
  timeout: 3s
execution:
  idempotency_ttl: 1m
  breaker_max_failures: 2
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "market1", cfg.Marketplace.Address)
	assert.Equal(t, "uusd", cfg.Marketplace.Denom)
	assert.Equal(t, "market1", cfg.Marketplace.EscrowAccount)
	assert.Equal(t, 3*time.Second, cfg.Registry.Timeout)
	assert.Equal(t, time.Minute, cfg.Execution.IdempotencyTTL)
	assert.Equal(t, int64(2), cfg.Execution.BreakerMaxFailures)
	assert.Equal(t, ":8080", cfg.API.Listen)
	assert.Equal(t, 5*time.Second, cfg.Chain.BlockTime)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "signature", cfg.API.Auth)
	assert.Equal(t, 5*time.Minute, cfg.API.SignatureSkew)
	assert.Empty(t, cfg.API.OperatorToken)
}

func TestLoad_JSON(t *testing.T) {
	p := writeFile(t, "market.json", `{"marketplace":{"address":"m","denom":"uatom"},"store":{"in_memory":true}}`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "uatom", cfg.Marketplace.Denom)
	assert.True(t, cfg.Store.InMemory)
	assert.Empty(t, cfg.Store.Path)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("NFTMARKET_ADDRESS", "from-env")
	t.Setenv("NFTMARKET_API_LISTEN", "127.0.0.1:9999")
	t.Setenv("NFTMARKET_API_DEV", "true")
	t.Setenv("NFTMARKET_API_AUTH", "header")
	t.Setenv("NFTMARKET_OPERATOR_TOKEN", "secret")
	p := writeFile(t, "market.yml", "marketplace:\n  address: from-file\n")

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Marketplace.Address)
	assert.Equal(t, "127.0.0.1:9999", cfg.API.Listen)
	assert.True(t, cfg.API.Dev)
	assert.Equal(t, "header", cfg.API.Auth)
	assert.Equal(t, "secret", cfg.API.OperatorToken)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(writeFile(t, "market.toml", ""))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.yaml", "marketplace: [\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{Marketplace: MarketplaceConfig{Address: "m"}}
		c.applyDefaults()
		return c
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(c *Config){
		"missing address":   func(c *Config) { c.Marketplace.Address = " " },
		"amount in denom":   func(c *Config) { c.Marketplace.Denom = "10uusd" },
		"registry scheme":   func(c *Config) { c.Registry.URL = "registry:9000" },
		"negative rate":     func(c *Config) { c.API.RateLimit = -1 },
		"dev with remote":   func(c *Config) { c.API.Dev = true; c.Registry.URL = "http://r" },
		"unknown log level": func(c *Config) { c.Log.Level = "loud" },
		"negative breaker":  func(c *Config) { c.Execution.BreakerMaxFailures = -1 },
		"header auth":       func(c *Config) { c.API.Auth = "header" },
		"unknown auth":      func(c *Config) { c.API.Auth = "token" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}

	dev := valid()
	dev.API.Dev = true
	dev.API.Auth = "header"
	assert.NoError(t, dev.Validate(), "header auth is allowed in dev mode")
}
