package rpc

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"lendhub/core/events"
	"lendhub/core/types"
	nativecommon "lendhub/native/common"
	"lendhub/native/lending"
)

const (
	testSecret   = "rpc-test-secret"
	testIssuer   = "lendhub-hub"
	testAudience = "lendhub"
	ownerHex     = "0x0000000000000000000000000000000000000000000000000000000000000002"
)

type testEnv struct {
	server *httptest.Server
	engine *lending.Engine
	pauses *nativecommon.PauseSwitch
}

func newTestEnv(t *testing.T, limit RateLimit) *testEnv {
	t.Helper()
	admin := types.AccountID{31: 0xAD}
	policy := lending.NewRolePolicy()
	policy.Grant(admin, lending.RoleListingAdmin)
	prices := lending.NewStaticPriceFeed()
	engine := lending.NewEngine(lending.NewMemState(), prices)
	engine.SetPolicy(policy)
	engine.SetClock(func() time.Time { return time.Unix(1_700_000_000, 0) })
	pauses := nativecommon.NewPauseSwitch()
	engine.SetPauses(pauses)

	oneDollar := new(uint256.Int).Set(lending.One18DP)
	require.NoError(t, prices.Set(1, oneDollar, 6))
	require.NoError(t, prices.Set(2, new(uint256.Int).Mul(uint256.NewInt(3000), lending.One18DP), 18))
	require.NoError(t, engine.CreateLoanType(admin, 1, 12_000))
	interest := lending.InterestRateConfig{
		Vr0: 10_000, Vr1: 40_000, Vr2: 300_000,
		Sr0: 10_000, Sr1: 60_000, Sr2: 300_000, Sr3: 40_000,
		OptimalUtilisationRatio:        8_000,
		OptimalStableToTotalDebtRatio:  2_000,
		RetentionRate:                  100_000,
		RebalanceUpUtilisationRatio:    9_500,
		RebalanceUpDepositInterestRate: 4_000,
		RebalanceDownDelta:             2_000,
		StableBorrowPercentageCap:      5_000,
	}
	cfg := lending.LoanPoolConfig{CollateralFactor: 7_000, BorrowFactor: 10_000, LiquidationBonus: 500, LiquidationFee: 1_000}
	for _, pool := range []types.PoolID{1, 2} {
		require.NoError(t, engine.AddPoolToLoanType(admin, 1, pool, cfg, interest))
	}

	feed := events.NewRecorder(16)
	engine.SetEmitter(feed)
	srv := NewServer(engine, prices, Config{
		Auth: AuthConfig{
			HMACSecret: testSecret,
			Issuer:     testIssuer,
			Audience:   testAudience,
		},
		RateLimit: limit,
	}, nil)
	srv.SetEventFeed(feed)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, engine: engine, pauses: pauses}
}

func signToken(t *testing.T, scope string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":   testIssuer,
		"aud":   testAudience,
		"scope": scope,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (env *testEnv) call(t *testing.T, token, method string, params interface{}) (int, RPCResponse) {
	t.Helper()
	body := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		body["params"] = []interface{}{params}
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return env.post(t, token, raw)
}

func (env *testEnv) post(t *testing.T, token string, raw []byte) (int, RPCResponse) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/rpc", bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := env.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NotEmpty(t, resp.Header.Get(requestIDHeader))
	var out RPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func decodeResult(t *testing.T, resp RPCResponse, dst interface{}) {
	t.Helper()
	require.Nil(t, resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, dst))
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	resp, err := env.server.Client().Get(env.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `"ok"`)
}

func TestMutationsRequireHubScope(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	params := map[string]interface{}{"account": ownerHex, "nonce": 1, "loanType": 1}

	status, resp := env.call(t, "", "lending_createLoan", params)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	status, resp = env.call(t, "not-a-jwt", "lending_createLoan", params)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	status, resp = env.call(t, signToken(t, ScopeOracle), "lending_createLoan", params)
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	// Views stay public.
	status, resp = env.call(t, "", "lending_getLoanType", map[string]interface{}{"loanType": 1})
	require.Equal(t, http.StatusOK, status)
	var lt loanTypeView
	decodeResult(t, resp, &lt)
	require.Equal(t, uint64(12_000), lt.TargetHealth)
	require.Equal(t, []int{1, 2}, lt.Pools)
}

func TestLoanLifecycleOverRPC(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	hub := signToken(t, ScopeHub)

	status, resp := env.call(t, hub, "lending_createLoan", map[string]interface{}{
		"account": ownerHex, "nonce": 7, "loanType": 1, "name": "primary",
	})
	require.Equal(t, http.StatusOK, status)
	var created map[string]string
	decodeResult(t, resp, &created)
	owner, err := types.ParseAccountID(ownerHex)
	require.NoError(t, err)
	require.Equal(t, types.DeriveLoanID(owner, [4]byte{0, 0, 0, 7}).String(), created["loanId"])
	loanID := created["loanId"]

	tenEth := "10000000000000000000"
	status, resp = env.call(t, hub, "lending_deposit", map[string]interface{}{
		"account": ownerHex, "loanId": loanID, "pool": 2, "amount": tenEth,
	})
	require.Equal(t, http.StatusOK, status)
	var deposited map[string]string
	decodeResult(t, resp, &deposited)
	require.Equal(t, tenEth, deposited["fAmount"])

	status, resp = env.call(t, hub, "lending_borrow", map[string]interface{}{
		"account": ownerHex, "loanId": loanID, "pool": 2, "amount": "1000000000000000000",
	})
	require.Equal(t, http.StatusOK, status, "%+v", resp.Error)

	status, resp = env.call(t, "", "lending_getLoan", map[string]interface{}{"loanId": loanID})
	require.Equal(t, http.StatusOK, status)
	var loan loanView
	decodeResult(t, resp, &loan)
	require.Equal(t, "primary", loan.Name)
	require.Len(t, loan.Collaterals, 1)
	require.Len(t, loan.Borrows, 1)
	require.Equal(t, "1000000000000000000", loan.Borrows[0].Amount)
	require.False(t, loan.Borrows[0].Stable)

	status, resp = env.call(t, "", "lending_getLoanHealth", map[string]interface{}{"loanId": loanID})
	require.Equal(t, http.StatusOK, status)
	var health healthView
	decodeResult(t, resp, &health)
	require.True(t, health.Healthy)
	require.Equal(t, "70000", health.Factor)

	status, resp = env.call(t, "", "lending_getLoanPool", map[string]interface{}{"loanType": 1, "pool": 2})
	require.Equal(t, http.StatusOK, status)
	var pool poolView
	decodeResult(t, resp, &pool)
	require.Equal(t, tenEth, pool.TotalCollateral)
	require.Equal(t, "1000000000000000000", pool.TotalVariableBorrow)

	status, resp = env.call(t, hub, "lending_repay", map[string]interface{}{
		"account": ownerHex, "loanId": loanID, "pool": 2, "amount": "1000000000000000000", "maxOverRepayment": "1000000000000000000",
	})
	require.Equal(t, http.StatusOK, status, "%+v", resp.Error)
	var repaid repayResultView
	decodeResult(t, resp, &repaid)
	require.Equal(t, "1000000000000000000", repaid.Principal)

	status, resp = env.call(t, hub, "lending_withdraw", map[string]interface{}{
		"account": ownerHex, "loanId": loanID, "pool": 2, "amount": tenEth, "isFAmount": true,
	})
	require.Equal(t, http.StatusOK, status, "%+v", resp.Error)

	status, resp = env.call(t, hub, "lending_deleteLoan", map[string]interface{}{"account": ownerHex, "loanId": loanID})
	require.Equal(t, http.StatusOK, status, "%+v", resp.Error)

	status, resp = env.call(t, "", "lending_isLoanActive", map[string]interface{}{"loanId": loanID})
	require.Equal(t, http.StatusOK, status)
	var active map[string]bool
	decodeResult(t, resp, &active)
	require.False(t, active["active"])

	status, resp = env.call(t, "", "lending_recentEvents", map[string]interface{}{"limit": 2})
	require.Equal(t, http.StatusOK, status)
	var recent []struct {
		Type       string            `json:"type"`
		Attributes map[string]string `json:"attributes"`
	}
	decodeResult(t, resp, &recent)
	require.Len(t, recent, 2)
	require.Equal(t, events.TypeLendingWithdraw, recent[0].Type)
	require.Equal(t, events.TypeLoanDeleted, recent[1].Type)
	require.Equal(t, loanID, recent[1].Attributes["loanId"])
}

func TestErrorCodes(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	hub := signToken(t, ScopeHub)

	status, resp := env.call(t, hub, "lending_createLoan", map[string]interface{}{"account": ownerHex, "nonce": 1, "loanType": 1})
	require.Equal(t, http.StatusOK, status)
	var created map[string]string
	decodeResult(t, resp, &created)
	loanID := created["loanId"]
	status, _ = env.call(t, hub, "lending_deposit", map[string]interface{}{
		"account": ownerHex, "loanId": loanID, "pool": 2, "amount": "10000000000000000000",
	})
	require.Equal(t, http.StatusOK, status)

	tests := []struct {
		name   string
		method string
		params interface{}
		status int
		code   int
	}{
		{
			name:   "under collateralized borrow",
			method: "lending_borrow",
			params: map[string]interface{}{"account": ownerHex, "loanId": loanID, "pool": 2, "amount": "9000000000000000000"},
			status: http.StatusConflict,
			code:   codeSolvency,
		},
		{
			name:   "duplicate loan",
			method: "lending_createLoan",
			params: map[string]interface{}{"account": ownerHex, "nonce": 1, "loanType": 1},
			status: http.StatusBadRequest,
			code:   codeInvalidParams,
		},
		{
			name:   "bad amount",
			method: "lending_deposit",
			params: map[string]interface{}{"account": ownerHex, "loanId": loanID, "pool": 2, "amount": "1.5"},
			status: http.StatusBadRequest,
			code:   codeInvalidParams,
		},
		{
			name:   "unknown field",
			method: "lending_rebalanceUp",
			params: map[string]interface{}{"loanId": loanID, "pool": 2, "extra": true},
			status: http.StatusBadRequest,
			code:   codeInvalidParams,
		},
		{
			name:   "unknown method",
			method: "lending_mint",
			params: map[string]interface{}{},
			status: http.StatusNotFound,
			code:   codeMethodNotFound,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, resp := env.call(t, hub, tc.method, tc.params)
			require.Equal(t, tc.status, status)
			require.NotNil(t, resp.Error)
			require.Equal(t, tc.code, resp.Error.Code)
		})
	}

	status, resp = env.post(t, hub, []byte(`{"jsonrpc":`))
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeParseError, resp.Error.Code)

	status, resp = env.post(t, hub, []byte(`{"jsonrpc":"1.0","id":1,"method":"lending_getLoan"}`))
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidRequest, resp.Error.Code)
}

func TestPausedModule(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	env.pauses.Set("lending", true)
	status, resp := env.call(t, signToken(t, ScopeHub), "lending_createLoan", map[string]interface{}{"account": ownerHex, "nonce": 1, "loanType": 1})
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.Equal(t, codeModulePaused, resp.Error.Code)
}

func TestOracleSetPrice(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	params := map[string]interface{}{"pool": 2, "price": "2500000000000000000000", "decimals": 18}

	status, _ := env.call(t, signToken(t, ScopeHub), "oracle_setPrice", params)
	require.Equal(t, http.StatusForbidden, status)

	status, resp := env.call(t, signToken(t, ScopeOracle), "oracle_setPrice", params)
	require.Equal(t, http.StatusOK, status, "%+v", resp.Error)

	status, resp = env.call(t, signToken(t, ScopeOracle), "oracle_setPrice", map[string]interface{}{"pool": 2, "price": "0", "decimals": 18})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, RateLimit{RequestsPerMinute: 1, Burst: 2})
	for i := 0; i < 2; i++ {
		status, _ := env.call(t, "", "lending_getLoanType", map[string]interface{}{"loanType": 1})
		require.Equal(t, http.StatusOK, status)
	}
	status, resp := env.call(t, "", "lending_getLoanType", map[string]interface{}{"loanType": 1})
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, codeRateLimited, resp.Error.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	status, _ := env.call(t, "", "lending_getLoanType", map[string]interface{}{"loanType": 1})
	require.Equal(t, http.StatusOK, status)

	resp, err := env.server.Client().Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), `lendhub_rpc_requests_total{method="lending_getLoanType",outcome="success"}`))
}

func TestRateLimiterForgetsIdleClients(t *testing.T) {
	limiter := NewRateLimiter(RateLimit{RequestsPerMinute: 1, Burst: 1})
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }
	require.True(t, limiter.Allow("a"))
	require.False(t, limiter.Allow("a"))

	now = now.Add(2 * visitorTTL)
	require.True(t, limiter.Allow("b"))
	limiter.mu.Lock()
	_, kept := limiter.visitors["a"]
	limiter.mu.Unlock()
	require.False(t, kept)
}
