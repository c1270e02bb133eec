package rpc

import (
	"encoding/json"
	"strings"

	"lendhub/core/types"
	"lendhub/native/lending"
)

type loanRef struct {
	Account string `json:"account"`
	LoanID  string `json:"loanId"`
}

func (p loanRef) parse() (types.AccountID, types.LoanID, error) {
	account, err := parseAccount("account", p.Account)
	if err != nil {
		return types.AccountID{}, types.LoanID{}, err
	}
	loanID, err := parseLoanID("loanId", p.LoanID)
	if err != nil {
		return types.AccountID{}, types.LoanID{}, err
	}
	return account, loanID, nil
}

type createLoanParams struct {
	Account  string `json:"account"`
	Nonce    uint32 `json:"nonce"`
	LoanType uint16 `json:"loanType"`
	Name     string `json:"name"`
}

type poolAmountParams struct {
	loanRef
	Pool   uint8  `json:"pool"`
	Amount string `json:"amount"`
}

type withdrawParams struct {
	poolAmountParams
	IsFAmount bool `json:"isFAmount"`
}

type borrowParams struct {
	poolAmountParams
	MaxStableRate string `json:"maxStableRate,omitempty"`
}

type repayParams struct {
	poolAmountParams
	MaxOverRepayment string `json:"maxOverRepayment,omitempty"`
}

type switchParams struct {
	loanRef
	Pool          uint8  `json:"pool"`
	MaxStableRate string `json:"maxStableRate,omitempty"`
}

type rebalanceParams struct {
	LoanID string `json:"loanId"`
	Pool   uint8  `json:"pool"`
}

type liquidateParams struct {
	ViolatorLoanID   string `json:"violatorLoanId"`
	LiquidatorLoanID string `json:"liquidatorLoanId"`
	Liquidator       string `json:"liquidator"`
	CollateralPool   uint8  `json:"collateralPool"`
	BorrowPool       uint8  `json:"borrowPool"`
	RepayAmount      string `json:"repayAmount"`
	MinSeizedAmount  string `json:"minSeizedAmount"`
}

type loanIDParams struct {
	LoanID string `json:"loanId"`
}

type loanPoolParams struct {
	LoanType uint16 `json:"loanType"`
	Pool     uint8  `json:"pool"`
}

type loanTypeParams struct {
	LoanType uint16 `json:"loanType"`
}

type rewardsParams struct {
	Account string `json:"account"`
	Pool    uint8  `json:"pool"`
}

type setPriceParams struct {
	Pool     uint8  `json:"pool"`
	Price    string `json:"price"`
	Decimals uint8  `json:"decimals"`
}

type statusResult struct {
	Status string `json:"status"`
}

var okResult = statusResult{Status: "ok"}

func (s *Server) lendingMethods() map[string]method {
	return map[string]method{
		"lending_createLoan":          {scope: ScopeHub, handle: s.handleCreateLoan},
		"lending_deleteLoan":          {scope: ScopeHub, handle: s.handleDeleteLoan},
		"lending_deposit":             {scope: ScopeHub, handle: s.handleDeposit},
		"lending_depositFToken":       {scope: ScopeHub, handle: s.handleDepositFToken},
		"lending_withdraw":            {scope: ScopeHub, handle: s.handleWithdraw},
		"lending_withdrawFToken":      {scope: ScopeHub, handle: s.handleWithdrawFToken},
		"lending_borrow":              {scope: ScopeHub, handle: s.handleBorrow},
		"lending_repay":               {scope: ScopeHub, handle: s.handleRepay},
		"lending_repayWithCollateral": {scope: ScopeHub, handle: s.handleRepayWithCollateral},
		"lending_liquidate":           {scope: ScopeHub, handle: s.handleLiquidate},
		"lending_switchBorrowType":    {scope: ScopeHub, handle: s.handleSwitchBorrowType},
		"lending_rebalanceUp":         {scope: ScopeHub, handle: s.handleRebalanceUp},
		"lending_rebalanceDown":       {scope: ScopeHub, handle: s.handleRebalanceDown},
		"lending_getLoan":             {handle: s.handleGetLoan},
		"lending_getLoanPool":         {handle: s.handleGetLoanPool},
		"lending_getLoanType":         {handle: s.handleGetLoanType},
		"lending_isLoanActive":        {handle: s.handleIsLoanActive},
		"lending_getPoolRewards":      {handle: s.handleGetPoolRewards},
		"lending_getLoanHealth":       {handle: s.handleGetLoanHealth},
	}
}

func (s *Server) handleCreateLoan(raw json.RawMessage) (interface{}, error) {
	var p createLoanParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	account, err := parseAccount("account", p.Account)
	if err != nil {
		return nil, err
	}
	id, err := s.engine.CreateUserLoan(account, nonceBytes(p.Nonce), types.LoanTypeID(p.LoanType), strings.TrimSpace(p.Name))
	if err != nil {
		return nil, err
	}
	return map[string]string{"loanId": id.String()}, nil
}

func (s *Server) handleDeleteLoan(raw json.RawMessage) (interface{}, error) {
	var p loanRef
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	account, loanID, err := p.parse()
	if err != nil {
		return nil, err
	}
	if err := s.engine.DeleteUserLoan(account, loanID); err != nil {
		return nil, err
	}
	return okResult, nil
}

func (p poolAmountParams) parse() (types.AccountID, types.LoanID, types.PoolID, error) {
	account, loanID, err := p.loanRef.parse()
	if err != nil {
		return account, loanID, 0, err
	}
	return account, loanID, types.PoolID(p.Pool), nil
}

func (s *Server) handleDeposit(raw json.RawMessage) (interface{}, error) {
	var p poolAmountParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	account, loanID, pool, err := p.parse()
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	fAmount, err := s.engine.Deposit(account, loanID, pool, amount)
	if err != nil {
		return nil, err
	}
	return map[string]string{"fAmount": formatAmount(fAmount)}, nil
}

func (s *Server) handleDepositFToken(raw json.RawMessage) (interface{}, error) {
	var p poolAmountParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	account, loanID, pool, err := p.parse()
	if err != nil {
		return nil, err
	}
	fAmount, err := parseAmount("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.engine.DepositFToken(account, loanID, pool, fAmount); err != nil {
		return nil, err
	}
	return okResult, nil
}

func (s *Server) handleWithdraw(raw json.RawMessage) (interface{}, error) {
	var p withdrawParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	account, loanID, pool, err := p.parse()
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	fAmount, underlying, err := s.engine.Withdraw(account, loanID, pool, amount, p.IsFAmount)
	if err != nil {
		return nil, err
	}
	return map[string]string{"fAmount": formatAmount(fAmount), "amount": formatAmount(underlying)}, nil
}

func (s *Server) handleWithdrawFToken(raw json.RawMessage) (interface{}, error) {
	var p poolAmountParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	account, loanID, pool, err := p.parse()
	if err != nil {
		return nil, err
	}
	fAmount, err := parseAmount("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.engine.WithdrawFToken(account, loanID, pool, fAmount); err != nil {
		return nil, err
	}
	return okResult, nil
}

func (s *Server) handleBorrow(raw json.RawMessage) (interface{}, error) {
	var p borrowParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	account, loanID, pool, err := p.parse()
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	maxStableRate, err := parseOptionalAmount("maxStableRate", p.MaxStableRate)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Borrow(account, loanID, pool, amount, maxStableRate); err != nil {
		return nil, err
	}
	return okResult, nil
}

type repayResultView struct {
	Interest  string `json:"interest"`
	Principal string `json:"principal"`
	Refund    string `json:"refund"`
	FAmount   string `json:"fAmount,omitempty"`
}

func newRepayResultView(res *lending.RepayResult) repayResultView {
	view := repayResultView{
		Interest:  formatAmount(res.Interest),
		Principal: formatAmount(res.Principal),
		Refund:    formatAmount(res.Refund),
	}
	if res.FAmount != nil {
		view.FAmount = res.FAmount.Dec()
	}
	return view
}

func (s *Server) handleRepay(raw json.RawMessage) (interface{}, error) {
	var p repayParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	account, loanID, pool, err := p.parse()
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	maxOver, err := parseOptionalAmount("maxOverRepayment", p.MaxOverRepayment)
	if err != nil {
		return nil, err
	}
	res, err := s.engine.Repay(account, loanID, pool, amount, maxOver)
	if err != nil {
		return nil, err
	}
	return newRepayResultView(res), nil
}

func (s *Server) handleRepayWithCollateral(raw json.RawMessage) (interface{}, error) {
	var p poolAmountParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	account, loanID, pool, err := p.parse()
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	res, err := s.engine.RepayWithCollateral(account, loanID, pool, amount)
	if err != nil {
		return nil, err
	}
	return newRepayResultView(res), nil
}

func (s *Server) handleLiquidate(raw json.RawMessage) (interface{}, error) {
	var p liquidateParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	violator, err := parseLoanID("violatorLoanId", p.ViolatorLoanID)
	if err != nil {
		return nil, err
	}
	liquidatorLoan, err := parseLoanID("liquidatorLoanId", p.LiquidatorLoanID)
	if err != nil {
		return nil, err
	}
	liquidator, err := parseAccount("liquidator", p.Liquidator)
	if err != nil {
		return nil, err
	}
	repay, err := parseAmount("repayAmount", p.RepayAmount)
	if err != nil {
		return nil, err
	}
	minSeized, err := parseOptionalAmount("minSeizedAmount", p.MinSeizedAmount)
	if err != nil {
		return nil, err
	}
	res, err := s.engine.Liquidate(lending.LiquidationParams{
		ViolatorLoanID:      violator,
		LiquidatorLoanID:    liquidatorLoan,
		LiquidatorAccountID: liquidator,
		CollateralPoolID:    types.PoolID(p.CollateralPool),
		BorrowPoolID:        types.PoolID(p.BorrowPool),
		RepayAmount:         repay,
		MinSeizedAmount:     minSeized,
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"repayAmount":       formatAmount(res.RepayAmount),
		"seizedFAmount":     formatAmount(res.SeizedFAmount),
		"liquidatorFAmount": formatAmount(res.LiquidatorFAmount),
		"reserveFAmount":    formatAmount(res.ReserveFAmount),
		"badDebt":           formatAmount(res.BadDebt),
	}, nil
}

func (s *Server) handleSwitchBorrowType(raw json.RawMessage) (interface{}, error) {
	var p switchParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	account, loanID, err := p.loanRef.parse()
	if err != nil {
		return nil, err
	}
	maxStableRate, err := parseOptionalAmount("maxStableRate", p.MaxStableRate)
	if err != nil {
		return nil, err
	}
	if err := s.engine.SwitchBorrowType(account, loanID, types.PoolID(p.Pool), maxStableRate); err != nil {
		return nil, err
	}
	return okResult, nil
}

func (s *Server) handleRebalanceUp(raw json.RawMessage) (interface{}, error) {
	return s.rebalance(raw, s.engine.RebalanceUp)
}

func (s *Server) handleRebalanceDown(raw json.RawMessage) (interface{}, error) {
	return s.rebalance(raw, s.engine.RebalanceDown)
}

func (s *Server) rebalance(raw json.RawMessage, fn func(types.LoanID, types.PoolID) error) (interface{}, error) {
	var p rebalanceParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	loanID, err := parseLoanID("loanId", p.LoanID)
	if err != nil {
		return nil, err
	}
	if err := fn(loanID, types.PoolID(p.Pool)); err != nil {
		return nil, err
	}
	return okResult, nil
}

type collateralView struct {
	Pool     uint8  `json:"pool"`
	FBalance string `json:"fBalance"`
}

type borrowView struct {
	Pool               uint8  `json:"pool"`
	Amount             string `json:"amount"`
	Balance            string `json:"balance"`
	StableInterestRate string `json:"stableInterestRate"`
	Stable             bool   `json:"stable"`
}

type loanView struct {
	ID          string           `json:"id"`
	Account     string           `json:"account"`
	LoanType    uint16           `json:"loanType"`
	Name        string           `json:"name"`
	Collaterals []collateralView `json:"collaterals"`
	Borrows     []borrowView     `json:"borrows"`
}

func (s *Server) handleGetLoan(raw json.RawMessage) (interface{}, error) {
	var p loanIDParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	loanID, err := parseLoanID("loanId", p.LoanID)
	if err != nil {
		return nil, err
	}
	loan, err := s.engine.GetUserLoan(loanID)
	if err != nil {
		return nil, err
	}
	view := loanView{
		ID:          loan.ID.String(),
		Account:     loan.AccountID.String(),
		LoanType:    uint16(loan.LoanTypeID),
		Name:        loan.Name,
		Collaterals: make([]collateralView, 0, len(loan.Collaterals)),
		Borrows:     make([]borrowView, 0, len(loan.Borrows)),
	}
	for _, c := range loan.Collaterals {
		view.Collaterals = append(view.Collaterals, collateralView{Pool: uint8(c.PoolID), FBalance: formatAmount(c.FBalance)})
	}
	for _, b := range loan.Borrows {
		view.Borrows = append(view.Borrows, borrowView{
			Pool:               uint8(b.PoolID),
			Amount:             formatAmount(b.Amount),
			Balance:            formatAmount(b.Balance),
			StableInterestRate: formatAmount(b.StableInterestRate),
			Stable:             b.IsStable(),
		})
	}
	return view, nil
}

type poolView struct {
	LoanType                  uint16 `json:"loanType"`
	Pool                      uint8  `json:"pool"`
	Deprecated                bool   `json:"deprecated"`
	TotalCollateral           string `json:"totalCollateral"`
	CirculatingFAmount        string `json:"circulatingFAmount"`
	TotalVariableBorrow       string `json:"totalVariableBorrow"`
	TotalStableBorrow         string `json:"totalStableBorrow"`
	VariableInterestIndex     string `json:"variableInterestIndex"`
	DepositInterestIndex      string `json:"depositInterestIndex"`
	VariableInterestRate      string `json:"variableInterestRate"`
	StableInterestRate        string `json:"stableInterestRate"`
	DepositInterestRate       string `json:"depositInterestRate"`
	AverageStableInterestRate string `json:"averageStableInterestRate"`
	TotalRetainedAmount       string `json:"totalRetainedAmount"`
	ReserveFAmount            string `json:"reserveFAmount"`
	LastUpdateTimestamp       uint64 `json:"lastUpdateTimestamp"`
}

func (s *Server) handleGetLoanPool(raw json.RawMessage) (interface{}, error) {
	var p loanPoolParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	pool, err := s.engine.GetLoanPool(types.LoanTypeID(p.LoanType), types.PoolID(p.Pool))
	if err != nil {
		return nil, err
	}
	return poolView{
		LoanType:                  uint16(pool.LoanTypeID),
		Pool:                      uint8(pool.PoolID),
		Deprecated:                pool.Config.Deprecated,
		TotalCollateral:           formatAmount(pool.TotalCollateral),
		CirculatingFAmount:        formatAmount(pool.CirculatingFAmount),
		TotalVariableBorrow:       formatAmount(pool.TotalVariableBorrow),
		TotalStableBorrow:         formatAmount(pool.TotalStableBorrow),
		VariableInterestIndex:     formatAmount(pool.VariableInterestIndex),
		DepositInterestIndex:      formatAmount(pool.DepositInterestIndex),
		VariableInterestRate:      formatAmount(pool.VariableInterestRate),
		StableInterestRate:        formatAmount(pool.StableInterestRate),
		DepositInterestRate:       formatAmount(pool.DepositInterestRate),
		AverageStableInterestRate: formatAmount(pool.AverageStableInterestRate),
		TotalRetainedAmount:       formatAmount(pool.TotalRetainedAmount),
		ReserveFAmount:            formatAmount(pool.ReserveFAmount),
		LastUpdateTimestamp:       pool.LastUpdateTimestamp,
	}, nil
}

type loanTypeView struct {
	ID           uint16 `json:"id"`
	TargetHealth uint64 `json:"targetHealth"`
	Pools        []int  `json:"pools"`
	Deprecated   bool   `json:"deprecated"`
}

func (s *Server) handleGetLoanType(raw json.RawMessage) (interface{}, error) {
	var p loanTypeParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	lt, err := s.engine.GetLoanType(types.LoanTypeID(p.LoanType))
	if err != nil {
		return nil, err
	}
	view := loanTypeView{
		ID:           uint16(lt.ID),
		TargetHealth: lt.LoanTargetHealth,
		Pools:        make([]int, 0, len(lt.Pools)),
		Deprecated:   lt.Deprecated,
	}
	for _, pool := range lt.Pools {
		view.Pools = append(view.Pools, int(pool))
	}
	return view, nil
}

func (s *Server) handleIsLoanActive(raw json.RawMessage) (interface{}, error) {
	var p loanIDParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	loanID, err := parseLoanID("loanId", p.LoanID)
	if err != nil {
		return nil, err
	}
	active, err := s.engine.IsUserLoanActive(loanID)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"active": active}, nil
}

func (s *Server) handleGetPoolRewards(raw json.RawMessage) (interface{}, error) {
	var p rewardsParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	account, err := parseAccount("account", p.Account)
	if err != nil {
		return nil, err
	}
	rewards, err := s.engine.GetUserPoolRewards(account, types.PoolID(p.Pool))
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"collateralPoints":   formatAmount(rewards.CollateralPoints),
		"borrowPoints":       formatAmount(rewards.BorrowPoints),
		"interestPaidPoints": formatAmount(rewards.InterestPaidPoints),
	}, nil
}

type healthView struct {
	CollateralValue          string `json:"collateralValue"`
	EffectiveCollateralValue string `json:"effectiveCollateralValue"`
	BorrowValue              string `json:"borrowValue"`
	EffectiveBorrowValue     string `json:"effectiveBorrowValue"`
	Factor                   string `json:"factor"`
	Healthy                  bool   `json:"healthy"`
}

func (s *Server) handleGetLoanHealth(raw json.RawMessage) (interface{}, error) {
	var p loanIDParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	loanID, err := parseLoanID("loanId", p.LoanID)
	if err != nil {
		return nil, err
	}
	health, err := s.engine.GetLoanHealth(loanID)
	if err != nil {
		return nil, err
	}
	factor, err := health.Factor()
	if err != nil {
		return nil, err
	}
	return healthView{
		CollateralValue:          formatAmount(health.CollateralValue),
		EffectiveCollateralValue: formatAmount(health.EffectiveCollateralValue),
		BorrowValue:              formatAmount(health.BorrowValue),
		EffectiveBorrowValue:     formatAmount(health.EffectiveBorrowValue),
		Factor:                   formatAmount(factor),
		Healthy:                  health.Healthy,
	}, nil
}

// handleOracleSetPrice stores a dollar price with 18 decimals for a pool.
func (s *Server) handleOracleSetPrice(raw json.RawMessage) (interface{}, error) {
	var p setPriceParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	price, err := parseAmount("price", p.Price)
	if err != nil {
		return nil, err
	}
	if err := s.prices.Set(types.PoolID(p.Pool), price, p.Decimals); err != nil {
		return nil, err
	}
	return okResult, nil
}

type broadcastable interface {
	Event() *types.Event
}

type recentEventsParams struct {
	Limit int `json:"limit"`
}

func (s *Server) handleRecentEvents(raw json.RawMessage) (interface{}, error) {
	var p recentEventsParams
	if len(raw) > 0 {
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
	}
	if p.Limit < 0 {
		return nil, invalidParams("limit must not be negative")
	}
	recorded := s.feed.Events()
	if p.Limit > 0 && len(recorded) > p.Limit {
		recorded = recorded[len(recorded)-p.Limit:]
	}
	out := make([]*types.Event, 0, len(recorded))
	for _, evt := range recorded {
		if b, ok := evt.(broadcastable); ok {
			out = append(out, b.Event())
			continue
		}
		out = append(out, types.NewEvent(evt.EventType()))
	}
	return out, nil
}
