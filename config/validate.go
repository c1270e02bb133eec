package config

import (
	"fmt"

	"lendhub/core/types"
	"lendhub/native/lending"
)

// ValidateMarket checks identifiers, duplicates and parameter ranges before
// anything is applied to the engine.
func ValidateMarket(m *Market) error {
	if m == nil {
		return fmt.Errorf("market: configuration is missing")
	}
	if len(m.LoanTypes) > 0 && len(m.Roles.ListingAdmins) == 0 {
		return fmt.Errorf("roles: at least one listing admin is required to create loan types")
	}
	for _, group := range [][]string{m.Roles.ListingAdmins, m.Roles.RiskAdmins} {
		for _, raw := range group {
			if _, err := types.ParseAccountID(raw); err != nil {
				return fmt.Errorf("roles: %w", err)
			}
		}
	}

	priced := make(map[uint8]bool, len(m.Prices))
	for _, p := range m.Prices {
		if priced[p.Pool] {
			return fmt.Errorf("price: duplicate entry for pool %d", p.Pool)
		}
		priced[p.Pool] = true
		value, err := ParseUSD(p.USD)
		if err != nil {
			return fmt.Errorf("price: pool %d: %w", p.Pool, err)
		}
		if value.IsZero() {
			return fmt.Errorf("price: pool %d must be positive", p.Pool)
		}
		if p.Decimals > lending.MaxDecimals {
			return fmt.Errorf("price: pool %d decimals %d above %d", p.Pool, p.Decimals, lending.MaxDecimals)
		}
	}

	typeIDs := make(map[uint16]bool, len(m.LoanTypes))
	for _, lt := range m.LoanTypes {
		if typeIDs[lt.ID] {
			return fmt.Errorf("loan type %d: duplicate id", lt.ID)
		}
		typeIDs[lt.ID] = true
		if lt.TargetHealth < 10_000 {
			return fmt.Errorf("loan type %d: TargetHealth %d below 1.0000", lt.ID, lt.TargetHealth)
		}
		poolIDs := make(map[uint8]bool, len(lt.Pools))
		for _, p := range lt.Pools {
			if poolIDs[p.ID] {
				return fmt.Errorf("loan type %d: duplicate pool %d", lt.ID, p.ID)
			}
			poolIDs[p.ID] = true
			cfg, err := p.config()
			if err != nil {
				return fmt.Errorf("loan type %d pool %d: %w", lt.ID, p.ID, err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("loan type %d pool %d: %w", lt.ID, p.ID, err)
			}
			if err := p.Interest.config().Validate(); err != nil {
				return fmt.Errorf("loan type %d pool %d: %w", lt.ID, p.ID, err)
			}
			if !priced[p.ID] {
				return fmt.Errorf("loan type %d pool %d: no price configured", lt.ID, p.ID)
			}
		}
	}
	return nil
}
