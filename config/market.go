package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/holiman/uint256"

	"lendhub/core/types"
	"lendhub/native/lending"
)

// Market is the genesis description of the lending market: loan types and
// their pools, initial prices and admin roles.
type Market struct {
	Roles     Roles      `toml:"Roles"`
	Prices    []Price    `toml:"Price"`
	LoanTypes []LoanType `toml:"LoanType"`
}

// Roles lists the accounts granted each admin role. Accounts are 32 byte hex
// strings.
type Roles struct {
	ListingAdmins []string `toml:"ListingAdmins"`
	RiskAdmins    []string `toml:"RiskAdmins"`
}

// Price seeds the static price feed. USD is a decimal dollar amount for one
// whole token.
type Price struct {
	Pool     uint8  `toml:"Pool"`
	USD      string `toml:"USD"`
	Decimals uint8  `toml:"Decimals"`
}

type LoanType struct {
	ID           uint16 `toml:"ID"`
	TargetHealth uint64 `toml:"TargetHealth"`
	Deprecated   bool   `toml:"Deprecated"`
	Pools        []Pool `toml:"Pool"`
}

// Pool mirrors lending.LoanPoolConfig. Reward amounts are decimal strings in
// 18 decimals per second.
type Pool struct {
	ID                    uint8    `toml:"ID"`
	CollateralFactor      uint64   `toml:"CollateralFactor"`
	BorrowFactor          uint64   `toml:"BorrowFactor"`
	CollateralCap         uint64   `toml:"CollateralCap"`
	BorrowCap             uint64   `toml:"BorrowCap"`
	LiquidationBonus      uint64   `toml:"LiquidationBonus"`
	LiquidationFee        uint64   `toml:"LiquidationFee"`
	RewardCollateralSpeed string   `toml:"RewardCollateralSpeed"`
	RewardBorrowSpeed     string   `toml:"RewardBorrowSpeed"`
	RewardMinimumAmount   string   `toml:"RewardMinimumAmount"`
	Deprecated            bool     `toml:"Deprecated"`
	Interest              Interest `toml:"Interest"`
}

type Interest struct {
	Vr0                            uint64 `toml:"Vr0"`
	Vr1                            uint64 `toml:"Vr1"`
	Vr2                            uint64 `toml:"Vr2"`
	Sr0                            uint64 `toml:"Sr0"`
	Sr1                            uint64 `toml:"Sr1"`
	Sr2                            uint64 `toml:"Sr2"`
	Sr3                            uint64 `toml:"Sr3"`
	OptimalUtilisationRatio        uint64 `toml:"OptimalUtilisationRatio"`
	OptimalStableToTotalDebtRatio  uint64 `toml:"OptimalStableToTotalDebtRatio"`
	RetentionRate                  uint64 `toml:"RetentionRate"`
	RebalanceUpUtilisationRatio    uint64 `toml:"RebalanceUpUtilisationRatio"`
	RebalanceUpDepositInterestRate uint64 `toml:"RebalanceUpDepositInterestRate"`
	RebalanceDownDelta             uint64 `toml:"RebalanceDownDelta"`
	StableBorrowPercentageCap      uint64 `toml:"StableBorrowPercentageCap"`
}

// LoadMarket decodes and validates the market file at path.
func LoadMarket(path string) (*Market, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("market file %s: %w", path, err)
	}
	market := &Market{}
	meta, err := toml.DecodeFile(path, market)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("market file %s: unknown key %s", path, undecoded[0])
	}
	if err := ValidateMarket(market); err != nil {
		return nil, err
	}
	return market, nil
}

func (i Interest) config() lending.InterestRateConfig {
	return lending.InterestRateConfig{
		Vr0:                            i.Vr0,
		Vr1:                            i.Vr1,
		Vr2:                            i.Vr2,
		Sr0:                            i.Sr0,
		Sr1:                            i.Sr1,
		Sr2:                            i.Sr2,
		Sr3:                            i.Sr3,
		OptimalUtilisationRatio:        i.OptimalUtilisationRatio,
		OptimalStableToTotalDebtRatio:  i.OptimalStableToTotalDebtRatio,
		RetentionRate:                  i.RetentionRate,
		RebalanceUpUtilisationRatio:    i.RebalanceUpUtilisationRatio,
		RebalanceUpDepositInterestRate: i.RebalanceUpDepositInterestRate,
		RebalanceDownDelta:             i.RebalanceDownDelta,
		StableBorrowPercentageCap:      i.StableBorrowPercentageCap,
	}
}

func (p Pool) config() (lending.LoanPoolConfig, error) {
	cfg := lending.LoanPoolConfig{
		CollateralFactor: p.CollateralFactor,
		BorrowFactor:     p.BorrowFactor,
		CollateralCap:    p.CollateralCap,
		BorrowCap:        p.BorrowCap,
		LiquidationBonus: p.LiquidationBonus,
		LiquidationFee:   p.LiquidationFee,
	}
	var err error
	if cfg.RewardCollateralSpeed, err = parseAmount(p.RewardCollateralSpeed); err != nil {
		return cfg, fmt.Errorf("RewardCollateralSpeed: %w", err)
	}
	if cfg.RewardBorrowSpeed, err = parseAmount(p.RewardBorrowSpeed); err != nil {
		return cfg, fmt.Errorf("RewardBorrowSpeed: %w", err)
	}
	if cfg.RewardMinimumAmount, err = parseAmount(p.RewardMinimumAmount); err != nil {
		return cfg, fmt.Errorf("RewardMinimumAmount: %w", err)
	}
	return cfg, nil
}

func parseAmount(value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return new(uint256.Int), nil
	}
	return uint256.FromDecimal(trimmed)
}

// ParseUSD converts a decimal dollar string such as "3000.25" into an 18
// decimal fixed point value.
func ParseUSD(value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	whole, frac, _ := strings.Cut(trimmed, ".")
	if whole == "" && frac == "" {
		return nil, fmt.Errorf("empty price")
	}
	if len(frac) > 18 {
		return nil, fmt.Errorf("price %q has more than 18 decimals", value)
	}
	if whole == "" {
		whole = "0"
	}
	digits := strings.TrimLeft(whole+frac+strings.Repeat("0", 18-len(frac)), "0")
	if digits == "" {
		digits = "0"
	}
	out, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, fmt.Errorf("price %q: %w", value, err)
	}
	return out, nil
}

// ApplyMarket grants the configured roles and creates every loan type and
// pool through the engine's admin API, then seeds prices into feed.
func ApplyMarket(m *Market, engine *lending.Engine, policy *lending.RolePolicy, feed *lending.StaticPriceFeed) error {
	if err := ValidateMarket(m); err != nil {
		return err
	}
	var operator types.AccountID
	for _, raw := range m.Roles.ListingAdmins {
		account, err := types.ParseAccountID(raw)
		if err != nil {
			return err
		}
		policy.Grant(account, lending.RoleListingAdmin)
		operator = account
	}
	for _, raw := range m.Roles.RiskAdmins {
		account, err := types.ParseAccountID(raw)
		if err != nil {
			return err
		}
		policy.Grant(account, lending.RoleRiskAdmin)
	}

	for _, p := range m.Prices {
		value, err := ParseUSD(p.USD)
		if err != nil {
			return fmt.Errorf("price for pool %d: %w", p.Pool, err)
		}
		if err := feed.Set(types.PoolID(p.Pool), value, p.Decimals); err != nil {
			return err
		}
	}

	for _, lt := range m.LoanTypes {
		typeID := types.LoanTypeID(lt.ID)
		existing, err := engine.GetLoanType(typeID)
		if err == nil && existing != nil {
			// Already created by an earlier run over persistent state.
			continue
		}
		if err := engine.CreateLoanType(operator, typeID, lt.TargetHealth); err != nil {
			return fmt.Errorf("loan type %d: %w", lt.ID, err)
		}
		for _, p := range lt.Pools {
			cfg, err := p.config()
			if err != nil {
				return fmt.Errorf("loan type %d pool %d: %w", lt.ID, p.ID, err)
			}
			poolID := types.PoolID(p.ID)
			if err := engine.AddPoolToLoanType(operator, typeID, poolID, cfg, p.Interest.config()); err != nil {
				return fmt.Errorf("loan type %d pool %d: %w", lt.ID, p.ID, err)
			}
			if p.Deprecated {
				if err := engine.DeprecateLoanPool(operator, typeID, poolID); err != nil {
					return fmt.Errorf("loan type %d pool %d: %w", lt.ID, p.ID, err)
				}
			}
		}
		if lt.Deprecated {
			if err := engine.DeprecateLoanType(operator, typeID); err != nil {
				return fmt.Errorf("loan type %d: %w", lt.ID, err)
			}
		}
	}
	return nil
}
