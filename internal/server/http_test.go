package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"StableGuard/internal/core"
	"StableGuard/internal/observability"
	"StableGuard/internal/oracle"
	"StableGuard/internal/server"
)

func newTestServer(t *testing.T) (*httptest.Server, *core.Protocol) {
	t.Helper()

	proto := core.NewProtocol(oracle.NewStaticAdapter(), nil, nil, zerolog.Nop())
	health := observability.NewHealthChecker()
	health.SetReady(true)

	srv := server.NewServer(proto, nil, health, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go srv.RunOperationLoop(ctx)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return ts, proto
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	var e struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return e.Code
}

// ============================================================================
// Test: Operation endpoints
// ============================================================================

func TestServer_InitializePool(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/pools", map[string]string{"asset": "USDC"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status: got %d, want 201", resp.StatusCode)
	}

	var body struct {
		CollateralAsset string `json:"collateral_asset"`
		Sequence        int64  `json:"sequence"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()

	if body.CollateralAsset != "USDC" {
		t.Errorf("asset: got %s, want USDC", body.CollateralAsset)
	}
	if body.Sequence != 1 {
		t.Errorf("sequence: got %d, want 1", body.Sequence)
	}

	// Creating the same pool again conflicts.
	resp = postJSON(t, ts.URL+"/v1/pools", map[string]string{"asset": "USDC"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate status: got %d, want 409", resp.StatusCode)
	}
	if code := decodeError(t, resp); code != "already_initialized" {
		t.Errorf("code: got %s, want already_initialized", code)
	}
}

func TestServer_DepositFlow(t *testing.T) {
	ts, _ := newTestServer(t)
	uw := uuid.New().String()

	postJSON(t, ts.URL+"/v1/pools", map[string]string{"asset": "USDC"}).Body.Close()

	resp := postJSON(t, ts.URL+"/v1/accounts/"+uw+"/fund", map[string]interface{}{
		"asset": "USDC", "amount": 1000,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fund status: got %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/v1/pools/USDC/deposits", map[string]interface{}{
		"depositor": uw, "amount": 1000,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deposit status: got %d, want 200", resp.StatusCode)
	}
	var dep struct {
		SharesMinted uint64 `json:"shares_minted"`
	}
	json.NewDecoder(resp.Body).Decode(&dep)
	resp.Body.Close()
	if dep.SharesMinted != 1000 {
		t.Errorf("shares: got %d, want 1000", dep.SharesMinted)
	}

	// Depositing more than the balance is rejected as unprocessable.
	resp = postJSON(t, ts.URL+"/v1/pools/USDC/deposits", map[string]interface{}{
		"depositor": uw, "amount": 1,
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("overdraw status: got %d, want 422", resp.StatusCode)
	}
	if code := decodeError(t, resp); code != "insufficient_funds" {
		t.Errorf("code: got %s, want insufficient_funds", code)
	}
}

func TestServer_DepositUnknownPool(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/pools/USDT/deposits", map[string]interface{}{
		"depositor": uuid.New().String(), "amount": 100,
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
	if code := decodeError(t, resp); code != "pool_not_found" {
		t.Errorf("code: got %s, want pool_not_found", code)
	}
}

func TestServer_AmountAboveRecordableRange(t *testing.T) {
	ts, _ := newTestServer(t)
	uw := uuid.New().String()

	postJSON(t, ts.URL+"/v1/pools", map[string]string{"asset": "USDC"}).Body.Close()

	// BIGINT columns hold the projection; anything past MaxInt64 is rejected
	// before it can reach the operation log.
	tooLarge := uint64(1) << 63

	resp := postJSON(t, ts.URL+"/v1/pools/USDC/deposits", map[string]interface{}{
		"depositor": uw, "amount": tooLarge,
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("deposit status: got %d, want 422", resp.StatusCode)
	}
	if code := decodeError(t, resp); code != "amount_too_large" {
		t.Errorf("code: got %s, want amount_too_large", code)
	}

	resp = postJSON(t, ts.URL+"/v1/policies", map[string]interface{}{
		"buyer":            uw,
		"policy_id":        tooLarge,
		"insured_asset":    "USDC",
		"insured_amount":   100,
		"premium_currency": "USDC",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("policy status: got %d, want 422", resp.StatusCode)
	}
	if code := decodeError(t, resp); code != "amount_too_large" {
		t.Errorf("code: got %s, want amount_too_large", code)
	}
}

func TestServer_SettleBeforeExpiry(t *testing.T) {
	ts, _ := newTestServer(t)
	buyer := uuid.New().String()

	postJSON(t, ts.URL+"/v1/pools", map[string]string{"asset": "USDC"}).Body.Close()
	postJSON(t, ts.URL+"/v1/accounts/"+buyer+"/fund", map[string]interface{}{
		"asset": "USDC", "amount": 10_000,
	}).Body.Close()

	resp := postJSON(t, ts.URL+"/v1/policies", map[string]interface{}{
		"buyer":            buyer,
		"policy_id":        1,
		"insured_asset":    "USDC",
		"insured_amount":   1_000_000,
		"premium_currency": "USDC",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status: got %d, want 201", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, fmt.Sprintf("%s/v1/policies/%s/1/settle", ts.URL, buyer), nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("settle status: got %d, want 409", resp.StatusCode)
	}
	if code := decodeError(t, resp); code != "policy_not_expired" {
		t.Errorf("code: got %s, want policy_not_expired", code)
	}
}

func TestServer_BadRequestValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/pools/USDC/deposits", map[string]interface{}{
		"depositor": "not-a-uuid", "amount": 100,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

// ============================================================================
// Test: Probes
// ============================================================================

func TestServer_HealthProbes(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz: got %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("readyz: got %d, want 200", resp.StatusCode)
	}
}
