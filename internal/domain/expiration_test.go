package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpiration_IsExpired(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	block := BlockInfo{Height: 100, Time: now}

	cases := []struct {
		name string
		exp  Expiration
		want bool
	}{
		{"height in future", AtHeight(101), false},
		{"height reached", AtHeight(100), true},
		{"height passed", AtHeight(99), true},
		{"time in future", AtTime(now.Add(time.Second)), false},
		{"time reached", AtTime(now), true},
		{"time passed", AtTime(now.Add(-time.Second)), true},
		{"never", Never(), false},
		{"zero value", Expiration{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.exp.IsExpired(block))
		})
	}
}

func TestExpiration_Equal(t *testing.T) {
	ts := time.Unix(1700000000, 0)

	assert.True(t, AtHeight(5).Equal(AtHeight(5)))
	assert.False(t, AtHeight(5).Equal(AtHeight(6)))
	assert.True(t, AtTime(ts).Equal(AtTime(ts.In(time.FixedZone("x", 3600)))))
	assert.False(t, AtTime(ts).Equal(AtHeight(5)))
	assert.True(t, Never().Equal(Expiration{}))
}

func TestExpiration_JSON(t *testing.T) {
	b, err := json.Marshal(AtHeight(42))
	require.NoError(t, err)
	assert.JSONEq(t, `{"at_height":42}`, string(b))

	b, err = json.Marshal(Never())
	require.NoError(t, err)
	assert.JSONEq(t, `{"never":{}}`, string(b))

	var e Expiration
	require.NoError(t, json.Unmarshal([]byte(`{"at_time":"2024-05-01T12:00:00Z"}`), &e))
	assert.Equal(t, ExpiresAtTime, e.Kind)
	assert.True(t, e.Time.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))

	assert.Error(t, json.Unmarshal([]byte(`{}`), &e))
	assert.Error(t, json.Unmarshal([]byte(`{"at_height":1,"never":{}}`), &e))
}

func TestCoin_Valid(t *testing.T) {
	assert.True(t, NewCoin(100, "uusd").Valid())
	assert.False(t, NewCoin(0, "uusd").Valid())
	assert.False(t, NewCoin(-1, "uusd").Valid())

	frac := Coin{Denom: "uusd", Amount: decimal.RequireFromString("0.0001")}
	assert.True(t, frac.IsPositive())
	assert.False(t, frac.IsWhole())
	assert.False(t, frac.Valid())

	big := Coin{Denom: "uusd", Amount: decimal.RequireFromString("340282366920938463463374607431768211455")}
	assert.True(t, big.Valid(), "uint128 max is a whole amount")
	assert.Equal(t, "340282366920938463463374607431768211455uusd", big.String())
}
