package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"StableGuard/internal/addr"
	"StableGuard/internal/core"
	"StableGuard/internal/observability"
	"StableGuard/internal/protocol"
	"StableGuard/internal/query"
)

// Server exposes the settlement core over HTTP/JSON. Every state-changing
// request is funneled through a single operation loop goroutine, which is
// what makes the lockless core safe: at most one operation executes at a
// time, in arrival order.
type Server struct {
	protocol *core.Protocol
	queries  *query.QueryService
	health   *observability.HealthChecker
	log      zerolog.Logger

	ops chan opRequest
}

type opRequest struct {
	run  func() (interface{}, error)
	done chan opResult
}

type opResult struct {
	value interface{}
	err   error
}

func NewServer(
	proto *core.Protocol,
	queries *query.QueryService,
	health *observability.HealthChecker,
	log zerolog.Logger,
) *Server {
	return &Server{
		protocol: proto,
		queries:  queries,
		health:   health,
		log:      log,
		ops:      make(chan opRequest),
	}
}

// RunOperationLoop executes queued operations one at a time until the
// context is cancelled. Must be running before the HTTP listener accepts
// traffic.
func (s *Server) RunOperationLoop(ctx context.Context) {
	for {
		select {
		case req := <-s.ops:
			value, err := req.run()
			req.done <- opResult{value: value, err: err}
		case <-ctx.Done():
			return
		}
	}
}

// submit runs fn on the operation loop and waits for its result.
func (s *Server) submit(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	req := opRequest{run: fn, done: make(chan opResult, 1)}
	select {
	case s.ops <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-req.done:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Router builds the HTTP route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/v1/pools", s.handleInitializePool).Methods(http.MethodPost)
	r.HandleFunc("/v1/pools", s.handleListPools).Methods(http.MethodGet)
	r.HandleFunc("/v1/pools/{asset}", s.handleGetPool).Methods(http.MethodGet)
	r.HandleFunc("/v1/pools/{asset}/deposits", s.handleDeposit).Methods(http.MethodPost)
	r.HandleFunc("/v1/pools/{asset}/withdrawals", s.handleWithdraw).Methods(http.MethodPost)

	r.HandleFunc("/v1/policies", s.handleCreatePolicy).Methods(http.MethodPost)
	r.HandleFunc("/v1/policies/{buyer}/{policy_id}/settle", s.handleSettle).Methods(http.MethodPost)
	r.HandleFunc("/v1/policies/{buyer}/{policy_id}", s.handleGetPolicy).Methods(http.MethodGet)
	r.HandleFunc("/v1/policies/{buyer}", s.handleListPolicies).Methods(http.MethodGet)

	r.HandleFunc("/v1/operations", s.handleListOperations).Methods(http.MethodGet)
	r.HandleFunc("/v1/integrity", s.handleVerifyIntegrity).Methods(http.MethodGet)

	r.HandleFunc("/v1/accounts/{holder}/fund", s.handleFund).Methods(http.MethodPost)
	r.HandleFunc("/v1/accounts/{holder}/balances/{asset}", s.handleGetBalance).Methods(http.MethodGet)

	r.HandleFunc("/healthz", s.health.LivenessHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.health.ReadinessHandler).Methods(http.MethodGet)

	return r
}

// --- operation handlers ---

type initializePoolRequest struct {
	Asset string `json:"asset"`
}

type poolStateResponse struct {
	Address           string `json:"address"`
	CollateralAsset   string `json:"collateral_asset"`
	ShareMint         string `json:"share_mint"`
	VaultBalance      uint64 `json:"vault_balance"`
	TotalInsuredValue uint64 `json:"total_insured_value"`
	Sequence          int64  `json:"sequence"`
}

func (s *Server) handleInitializePool(w http.ResponseWriter, r *http.Request) {
	var req initializePoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	value, err := s.submit(r.Context(), func() (interface{}, error) {
		pl, err := s.protocol.InitializePool(protocol.Asset(req.Asset), time.Now().UTC())
		if err != nil {
			return nil, err
		}
		return poolStateResponse{
			Address:           pl.Address.String(),
			CollateralAsset:   string(pl.CollateralAsset),
			ShareMint:         pl.ShareMint.String(),
			VaultBalance:      pl.VaultBalance,
			TotalInsuredValue: pl.TotalInsuredValue,
			Sequence:          s.protocol.Sequence(),
		}, nil
	})
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, value)
}

// checkRecordable bounds request values to the BIGINT range of the
// projection tables; above MaxInt64 the projected value would wrap negative
// while the in-memory state stays correct.
func checkRecordable(values ...uint64) error {
	for _, v := range values {
		if v > math.MaxInt64 {
			return fmt.Errorf("%w: %d", protocol.ErrAmountTooLarge, v)
		}
	}
	return nil
}

type depositRequest struct {
	Depositor string `json:"depositor"`
	Amount    uint64 `json:"amount"`
}

type depositResponse struct {
	SharesMinted uint64 `json:"shares_minted"`
	Sequence     int64  `json:"sequence"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	asset := protocol.Asset(mux.Vars(r)["asset"])

	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	depositor, err := uuid.Parse(req.Depositor)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "depositor must be a UUID")
		return
	}
	if err := checkRecordable(req.Amount); err != nil {
		s.writeOpError(w, err)
		return
	}

	value, err := s.submit(r.Context(), func() (interface{}, error) {
		shares, err := s.protocol.DepositCollateral(depositor, asset, req.Amount, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		return depositResponse{SharesMinted: shares, Sequence: s.protocol.Sequence()}, nil
	})
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, value)
}

type withdrawRequest struct {
	Depositor    string `json:"depositor"`
	SharesToBurn uint64 `json:"shares_to_burn"`
}

type withdrawResponse struct {
	CollateralReturned uint64 `json:"collateral_returned"`
	Sequence           int64  `json:"sequence"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	asset := protocol.Asset(mux.Vars(r)["asset"])

	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	depositor, err := uuid.Parse(req.Depositor)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "depositor must be a UUID")
		return
	}
	if err := checkRecordable(req.SharesToBurn); err != nil {
		s.writeOpError(w, err)
		return
	}

	value, err := s.submit(r.Context(), func() (interface{}, error) {
		returned, err := s.protocol.WithdrawCollateral(depositor, asset, req.SharesToBurn, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		return withdrawResponse{CollateralReturned: returned, Sequence: s.protocol.Sequence()}, nil
	})
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, value)
}

type createPolicyRequest struct {
	Buyer           string `json:"buyer"`
	PolicyID        uint64 `json:"policy_id"`
	InsuredAsset    string `json:"insured_asset"`
	InsuredAmount   uint64 `json:"insured_amount"`
	PremiumCurrency string `json:"premium_currency"`
}

type createPolicyResponse struct {
	Address         string    `json:"address"`
	PremiumPaid     uint64    `json:"premium_paid"`
	PayoutAmount    uint64    `json:"payout_amount"`
	StartTimestamp  time.Time `json:"start_timestamp"`
	ExpiryTimestamp time.Time `json:"expiry_timestamp"`
	Status          string    `json:"status"`
	Sequence        int64     `json:"sequence"`
}

func (s *Server) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req createPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	buyer, err := uuid.Parse(req.Buyer)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "buyer must be a UUID")
		return
	}
	if err := checkRecordable(req.PolicyID, req.InsuredAmount); err != nil {
		s.writeOpError(w, err)
		return
	}

	value, err := s.submit(r.Context(), func() (interface{}, error) {
		pol, err := s.protocol.CreatePolicy(
			buyer, req.PolicyID,
			protocol.Asset(req.InsuredAsset), req.InsuredAmount,
			protocol.Asset(req.PremiumCurrency),
			time.Now().UTC(),
		)
		if err != nil {
			return nil, err
		}
		return createPolicyResponse{
			Address:         pol.Address.String(),
			PremiumPaid:     pol.PremiumPaid,
			PayoutAmount:    pol.PayoutAmount,
			StartTimestamp:  pol.StartTimestamp,
			ExpiryTimestamp: pol.ExpiryTimestamp,
			Status:          pol.Status.String(),
			Sequence:        s.protocol.Sequence(),
		}, nil
	})
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, value)
}

type settleResponse struct {
	Status      string `json:"status"`
	ScaledPrice int64  `json:"scaled_price"`
	Paid        uint64 `json:"paid"`
	Sequence    int64  `json:"sequence"`
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	buyer, err := uuid.Parse(vars["buyer"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "buyer must be a UUID")
		return
	}
	policyID, err := strconv.ParseUint(vars["policy_id"], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "policy_id must be an unsigned integer")
		return
	}

	ctx := r.Context()
	value, err := s.submit(ctx, func() (interface{}, error) {
		res, err := s.protocol.CheckAndPayout(ctx, buyer, policyID, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		return settleResponse{
			Status:      res.Status.String(),
			ScaledPrice: res.ScaledPrice,
			Paid:        res.Paid,
			Sequence:    s.protocol.Sequence(),
		}, nil
	})
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, value)
}

type fundRequest struct {
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

type balanceResponse struct {
	Holder  string `json:"holder"`
	Asset   string `json:"asset"`
	Balance uint64 `json:"balance"`
	Shares  uint64 `json:"shares"`
}

// handleFund credits tokens to a holder's account. Operator-facing: in a
// deployment this is driven by a custody bridge, in development it is the
// faucet.
func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	holder, err := uuid.Parse(mux.Vars(r)["holder"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "holder must be a UUID")
		return
	}

	var req fundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.Amount == 0 {
		s.writeError(w, http.StatusBadRequest, "bad_request", "amount must be positive")
		return
	}
	if err := checkRecordable(req.Amount); err != nil {
		s.writeOpError(w, err)
		return
	}

	account := addr.ForParticipant(holder)
	value, err := s.submit(r.Context(), func() (interface{}, error) {
		if err := s.protocol.Bank().Deposit(account, protocol.Asset(req.Asset), req.Amount); err != nil {
			return nil, err
		}
		return balanceResponse{
			Holder:  holder.String(),
			Asset:   req.Asset,
			Balance: s.protocol.Bank().Balance(account, protocol.Asset(req.Asset)),
		}, nil
	})
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, value)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	holder, err := uuid.Parse(vars["holder"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "holder must be a UUID")
		return
	}
	asset := protocol.Asset(vars["asset"])

	account := addr.ForParticipant(holder)
	value, err := s.submit(r.Context(), func() (interface{}, error) {
		resp := balanceResponse{
			Holder:  holder.String(),
			Asset:   string(asset),
			Balance: s.protocol.Bank().Balance(account, asset),
		}
		if pl, err := s.protocol.Registry().Get(asset); err == nil {
			resp.Shares = s.protocol.Bank().ShareBalance(pl.ShareMint, account)
		}
		return resp, nil
	})
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, value)
}

// --- query handlers (read from Postgres projections) ---

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	resp, err := s.queries.GetPool(r.Context(), protocol.Asset(mux.Vars(r)["asset"]))
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	resp, err := s.queries.ListPools(r.Context())
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	buyer, err := uuid.Parse(vars["buyer"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "buyer must be a UUID")
		return
	}
	policyID, err := strconv.ParseInt(vars["policy_id"], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "policy_id must be an integer")
		return
	}

	resp, err := s.queries.GetPolicy(r.Context(), buyer, policyID)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	buyer, err := uuid.Parse(mux.Vars(r)["buyer"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "buyer must be a UUID")
		return
	}

	q := r.URL.Query()
	var status *string
	if v := q.Get("status"); v != "" {
		status = &v
	}
	limit := parseLimit(q.Get("limit"))
	var before *int64
	if v := q.Get("before_policy_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "bad_request", "before_policy_id must be an integer")
			return
		}
		before = &n
	}

	resp, err := s.queries.ListPoliciesByBuyer(r.Context(), buyer, status, limit, before)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var actor *uuid.UUID
	if v := q.Get("actor"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "bad_request", "actor must be a UUID")
			return
		}
		actor = &id
	}
	limit := parseLimit(q.Get("limit"))
	var before *int64
	if v := q.Get("before_sequence"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "bad_request", "before_sequence must be an integer")
			return
		}
		before = &n
	}

	resp, err := s.queries.ListOperations(r.Context(), actor, limit, before)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.queries.VerifyIntegrity(r.Context())
	if err != nil {
		s.writeOpError(w, err)
		return
	}

	// Also report the in-memory chain tip for comparison against the log.
	tip := s.protocol.StateHash()
	s.writeJSON(w, http.StatusOK, struct {
		*query.IntegrityReport
		CoreSequence  int64  `json:"core_sequence"`
		CoreStateHash string `json:"core_state_hash"`
	}{
		IntegrityReport: report,
		CoreSequence:    s.protocol.Sequence(),
		CoreStateHash:   hex.EncodeToString(tip[:]),
	})
}

// --- response plumbing ---

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// writeOpError maps domain errors to HTTP statuses using the protocol error
// code taxonomy.
func (s *Server) writeOpError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}

	code := protocol.Code(err)
	status := http.StatusBadRequest

	switch {
	case errors.Is(err, protocol.ErrPoolNotFound),
		errors.Is(err, protocol.ErrPolicyNotFound):
		status = http.StatusNotFound

	case errors.Is(err, protocol.ErrAlreadyInitialized),
		errors.Is(err, protocol.ErrDuplicatePolicyID),
		errors.Is(err, protocol.ErrPolicyAlreadyProcessed),
		errors.Is(err, protocol.ErrPolicyNotExpired):
		status = http.StatusConflict

	case errors.Is(err, protocol.ErrInsufficientFunds),
		errors.Is(err, protocol.ErrInsufficientSharesToBurn),
		errors.Is(err, protocol.ErrInsufficientPoolCollateral),
		errors.Is(err, protocol.ErrDepositTooSmallToMintShares),
		errors.Is(err, protocol.ErrWithdrawalResultsInZeroCollateral),
		errors.Is(err, protocol.ErrAmountTooLarge):
		status = http.StatusUnprocessableEntity

	case errors.Is(err, protocol.ErrStalePrice),
		errors.Is(err, protocol.ErrFeedUnavailable),
		errors.Is(err, protocol.ErrOracleConfidenceTooWide):
		status = http.StatusServiceUnavailable

	case errors.Is(err, protocol.ErrUnauthorized):
		status = http.StatusForbidden

	case code == "internal":
		status = http.StatusInternalServerError
	}

	s.writeError(w, status, code, err.Error())
}

func parseLimit(raw string) int {
	limit := 50
	if raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	return limit
}
