package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lendhub/core/types"
	"lendhub/native/lending"
)

const (
	listingAdmin = "0x00000000000000000000000000000000000000000000000000000000000000ad"
	riskAdmin    = "0x00000000000000000000000000000000000000000000000000000000000000ae"
)

const testMarket = `
[Roles]
ListingAdmins = ["` + listingAdmin + `"]
RiskAdmins = ["` + riskAdmin + `"]

[[Price]]
Pool = 1
USD = "1"
Decimals = 6

[[Price]]
Pool = 2
USD = "3000.5"
Decimals = 18

[[LoanType]]
ID = 1
TargetHealth = 12000

  [[LoanType.Pool]]
  ID = 1
  CollateralFactor = 8000
  BorrowFactor = 10000
  LiquidationBonus = 400
  LiquidationFee = 1000
  RewardCollateralSpeed = "1000000000000000000"

    [LoanType.Pool.Interest]
    Vr0 = 10000
    Vr1 = 40000
    Vr2 = 300000
    Sr0 = 10000
    Sr1 = 60000
    Sr2 = 300000
    Sr3 = 40000
    OptimalUtilisationRatio = 8000
    OptimalStableToTotalDebtRatio = 2000
    RetentionRate = 100000
    StableBorrowPercentageCap = 5000

  [[LoanType.Pool]]
  ID = 2
  CollateralFactor = 7000
  BorrowFactor = 9000
  CollateralCap = 5000000
  Deprecated = true

    [LoanType.Pool.Interest]
    Vr0 = 20000
    Vr1 = 50000
    Vr2 = 400000
    OptimalUtilisationRatio = 7000
`

func writeMarket(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "market.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadMarket(t *testing.T) {
	market, err := LoadMarket(writeMarket(t, testMarket))
	require.NoError(t, err)
	require.Len(t, market.LoanTypes, 1)
	require.Len(t, market.LoanTypes[0].Pools, 2)
	require.Equal(t, uint64(8000), market.LoanTypes[0].Pools[0].CollateralFactor)
	require.Equal(t, uint64(300000), market.LoanTypes[0].Pools[0].Interest.Vr2)
	require.True(t, market.LoanTypes[0].Pools[1].Deprecated)
}

func TestLoadMarketRejectsUnknownKeys(t *testing.T) {
	_, err := LoadMarket(writeMarket(t, testMarket+"\nBogus = 1\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown key")

	_, err = LoadMarket(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestValidateMarket(t *testing.T) {
	base := func(t *testing.T) *Market {
		market, err := LoadMarket(writeMarket(t, testMarket))
		require.NoError(t, err)
		return market
	}
	cases := map[string]func(m *Market){
		"missing listing admin": func(m *Market) { m.Roles.ListingAdmins = nil },
		"bad account":           func(m *Market) { m.Roles.RiskAdmins = []string{"0x1234"} },
		"duplicate price":       func(m *Market) { m.Prices = append(m.Prices, m.Prices[0]) },
		"zero price":            func(m *Market) { m.Prices[0].USD = "0.0" },
		"price decimals":        func(m *Market) { m.Prices[0].Decimals = 78 },
		"duplicate loan type":   func(m *Market) { m.LoanTypes = append(m.LoanTypes, m.LoanTypes[0]) },
		"low target health":     func(m *Market) { m.LoanTypes[0].TargetHealth = 9_000 },
		"duplicate pool":        func(m *Market) { m.LoanTypes[0].Pools = append(m.LoanTypes[0].Pools, m.LoanTypes[0].Pools[0]) },
		"zero borrow factor":    func(m *Market) { m.LoanTypes[0].Pools[0].BorrowFactor = 0 },
		"bad interest":          func(m *Market) { m.LoanTypes[0].Pools[0].Interest.OptimalUtilisationRatio = 0 },
		"bad reward speed":      func(m *Market) { m.LoanTypes[0].Pools[0].RewardBorrowSpeed = "fast" },
		"unpriced pool":         func(m *Market) { m.Prices = m.Prices[:1] },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			market := base(t)
			mutate(market)
			require.Error(t, ValidateMarket(market))
		})
	}
}

func TestParseUSD(t *testing.T) {
	cases := map[string]string{
		"1":        "1000000000000000000",
		"3000.5":   "3000500000000000000000",
		"0.000001": "1000000000000",
		".25":      "250000000000000000",
	}
	for input, want := range cases {
		got, err := ParseUSD(input)
		require.NoError(t, err, input)
		require.Equal(t, want, got.Dec(), input)
	}
	_, err := ParseUSD("1.0000000000000000001")
	require.Error(t, err)
	_, err = ParseUSD("")
	require.Error(t, err)
}

func TestApplyMarket(t *testing.T) {
	market, err := LoadMarket(writeMarket(t, testMarket))
	require.NoError(t, err)

	feed := lending.NewStaticPriceFeed()
	engine := lending.NewEngine(lending.NewMemState(), feed)
	engine.SetClock(func() time.Time { return time.Unix(1_700_000_000, 0) })
	policy := lending.NewRolePolicy()
	engine.SetPolicy(policy)
	require.NoError(t, ApplyMarket(market, engine, policy, feed))

	risk, err := types.ParseAccountID(riskAdmin)
	require.NoError(t, err)
	require.True(t, policy.HasRole(risk, lending.RoleRiskAdmin))
	require.False(t, policy.HasRole(risk, lending.RoleListingAdmin))

	price, decimals, err := feed.PriceOf(2)
	require.NoError(t, err)
	require.Equal(t, "3000500000000000000000", price.Dec())
	require.Equal(t, uint8(18), decimals)

	lt, err := engine.GetLoanType(1)
	require.NoError(t, err)
	require.Equal(t, []types.PoolID{1, 2}, lt.Pools)

	usdc, err := engine.GetLoanPool(1, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(8000), usdc.Config.CollateralFactor)
	require.Equal(t, "1000000000000000000", usdc.Config.RewardCollateralSpeed.Dec())
	eth, err := engine.GetLoanPool(1, 2)
	require.NoError(t, err)
	require.True(t, eth.Config.Deprecated)

	// Applying again over existing state is a no-op.
	require.NoError(t, ApplyMarket(market, engine, policy, feed))
}
