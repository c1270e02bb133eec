package lending

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestUtilisation(t *testing.T) {
	tests := []struct {
		debt, deposits uint64
		want           string
	}{
		{debt: 400, deposits: 1000, want: "400000000000000000"},
		{debt: 2000, deposits: 1000, want: "1000000000000000000"},
		{debt: 5, deposits: 0, want: "0"},
		{debt: 0, deposits: 1000, want: "0"},
	}
	for _, tc := range tests {
		got, err := Utilisation(uint256.NewInt(tc.debt), uint256.NewInt(tc.deposits))
		if err != nil {
			t.Fatalf("utilisation: %v", err)
		}
		if got.Dec() != tc.want {
			t.Fatalf("utilisation %d/%d: expected %s, got %s", tc.debt, tc.deposits, tc.want, got.Dec())
		}
	}
}

func TestVariableBorrowRateCurve(t *testing.T) {
	cfg := testInterestConfig()
	tests := []struct {
		ut   string
		want string
	}{
		{ut: "0", want: "10000000000000000"},
		{ut: "400000000000000000", want: "30000000000000000"},
		{ut: "800000000000000000", want: "50000000000000000"},
		{ut: "900000000000000000", want: "200000000000000000"},
		{ut: "1000000000000000000", want: "350000000000000000"},
	}
	for _, tc := range tests {
		got, err := cfg.VariableBorrowRate(dec(t, tc.ut))
		if err != nil {
			t.Fatalf("variable rate: %v", err)
		}
		if got.Dec() != tc.want {
			t.Fatalf("variable rate at %s: expected %s, got %s", tc.ut, tc.want, got.Dec())
		}
	}
}

func TestStableBorrowRateCurve(t *testing.T) {
	cfg := testInterestConfig()
	tests := []struct {
		ut, ratio string
		want      string
	}{
		{ut: "400000000000000000", ratio: "0", want: "80000000000000000"},
		{ut: "800000000000000000", ratio: "200000000000000000", want: "110000000000000000"},
		{ut: "900000000000000000", ratio: "600000000000000000", want: "280000000000000000"},
		{ut: "200000000000000000", ratio: "1000000000000000000", want: "105000000000000000"},
	}
	for _, tc := range tests {
		got, err := cfg.StableBorrowRate(dec(t, tc.ut), dec(t, tc.ratio))
		if err != nil {
			t.Fatalf("stable rate: %v", err)
		}
		if got.Dec() != tc.want {
			t.Fatalf("stable rate at %s/%s: expected %s, got %s", tc.ut, tc.ratio, tc.want, got.Dec())
		}
	}
}

func TestOverallAndDepositRate(t *testing.T) {
	overall, err := OverallBorrowRate(uint256.NewInt(300), uint256.NewInt(100), dec(t, "40000000000000000"), dec(t, "80000000000000000"))
	if err != nil {
		t.Fatalf("overall: %v", err)
	}
	if overall.Dec() != "50000000000000000" {
		t.Fatalf("expected 5%% overall rate, got %s", overall.Dec())
	}
	deposit, err := testInterestConfig().DepositRate(dec(t, "30000000000000000"), dec(t, "400000000000000000"))
	if err != nil {
		t.Fatalf("deposit rate: %v", err)
	}
	if deposit.Dec() != "10800000000000000" {
		t.Fatalf("expected 1.08%% deposit rate, got %s", deposit.Dec())
	}
	empty, err := OverallBorrowRate(zero(), zero(), dec(t, "40000000000000000"), zero())
	if err != nil || !empty.IsZero() {
		t.Fatalf("expected zero overall rate without debt, got %v %v", empty, err)
	}
}

func TestInterestRateConfigValidate(t *testing.T) {
	if err := testInterestConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
	mutations := map[string]func(*InterestRateConfig){
		"variable ceiling": func(c *InterestRateConfig) { c.Vr2 = 950_000 },
		"stable ceiling":   func(c *InterestRateConfig) { c.Sr3 = 600_000 },
		"zero optimum":     func(c *InterestRateConfig) { c.OptimalUtilisationRatio = 0 },
		"full optimum":     func(c *InterestRateConfig) { c.OptimalUtilisationRatio = 10_000 },
		"stable optimum":   func(c *InterestRateConfig) { c.OptimalStableToTotalDebtRatio = 10_000 },
		"retention":        func(c *InterestRateConfig) { c.RetentionRate = 1_000_001 },
		"stable cap":       func(c *InterestRateConfig) { c.StableBorrowPercentageCap = 10_001 },
	}
	for name, mutate := range mutations {
		cfg := testInterestConfig()
		mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidInterestRateConfig) {
			t.Fatalf("%s: expected ErrInvalidInterestRateConfig, got %v", name, err)
		}
	}
}

func TestProjectStableBalance(t *testing.T) {
	same, err := ProjectStableBalance(uint256.NewInt(1_000), zero(), 10_000)
	if err != nil || same.Uint64() != 1_000 {
		t.Fatalf("expected unchanged balance at zero rate, got %v %v", same, err)
	}
	// One hour at 10%: 1e6 * (1 + 0.1*3600/31536000) rounded up.
	grown, err := ProjectStableBalance(usdc(1), dec(t, "100000000000000000"), SecondsInHour)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if grown.Uint64() != 1_000_012 {
		t.Fatalf("expected 1000012, got %s", grown)
	}
}

func TestStableRateAverage(t *testing.T) {
	got, err := StableRateAverage(uint256.NewInt(100), dec(t, "50000000000000000"), uint256.NewInt(300), dec(t, "90000000000000000"))
	if err != nil {
		t.Fatalf("average: %v", err)
	}
	if got.Dec() != "80000000000000000" {
		t.Fatalf("expected 8%%, got %s", got.Dec())
	}
	none, err := StableRateAverage(zero(), zero(), zero(), dec(t, "90000000000000000"))
	if err != nil || !none.IsZero() {
		t.Fatalf("expected zero for empty balances, got %v %v", none, err)
	}
}
