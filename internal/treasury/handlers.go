// Package treasury — HTTP handlers exposing the protocol operations.
package treasury

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/aniemerg/yieldtoken/internal/model"
	"github.com/aniemerg/yieldtoken/internal/oracle"
	"github.com/aniemerg/yieldtoken/internal/risk"
	"github.com/aniemerg/yieldtoken/internal/token"
)

// --- Request/Response types ---

// VaultRequest is the JSON body for deposits and withdrawals.
type VaultRequest struct {
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
}

// CreateSeriesRequest is the JSON body for series creation.
type CreateSeriesRequest struct {
	MaturityTime time.Time `json:"maturity_time"` // RFC 3339
}

// IssueRequest is the JSON body for POST /series/{seriesID}/issue.
type IssueRequest struct {
	Account    string          `json:"account"`
	Debt       decimal.Decimal `json:"debt"`
	Collateral decimal.Decimal `json:"collateral"`
}

// WipeRequest is the JSON body for POST /series/{seriesID}/wipe.
type WipeRequest struct {
	Account    string          `json:"account"`
	Debt       decimal.Decimal `json:"debt"`       // face value to burn
	Collateral decimal.Decimal `json:"collateral"` // collateral to unlock
}

// LiquidateRequest is the JSON body for POST /series/{seriesID}/liquidate.
type LiquidateRequest struct {
	Liquidator string          `json:"liquidator"`
	Debtor     string          `json:"debtor"`
	Cover      decimal.Decimal `json:"cover"`
}

// RedeemRequest is the JSON body for POST /series/{seriesID}/redeem.
type RedeemRequest struct {
	Account string          `json:"account"`
	Face    decimal.Decimal `json:"face"`
}

// CloseRequest is the JSON body for POST /series/{seriesID}/close.
type CloseRequest struct {
	Account string `json:"account"`
}

// OracleRequest is the JSON body for the one-time POST /oracle call.
// Type is "fixed" (requires price) or "feed" (requires url).
type OracleRequest struct {
	Type  string          `json:"type"`
	Price decimal.Decimal `json:"price,omitempty"`
	URL   string          `json:"url,omitempty"`
}

// TokenResponse is the debt-token snapshot returned from token queries.
type TokenResponse struct {
	Ticker      string           `json:"ticker"`
	TotalSupply decimal.Decimal  `json:"total_supply"`
	Balance     *decimal.Decimal `json:"balance,omitempty"`
}

// --- Handlers ---

// HandleDeposit handles POST /api/v1/vault/deposit
func (s *Service) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	var req VaultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}

	if err := s.TopUpCollateral(r.Context(), model.Account(req.Account), req.Amount); err != nil {
		writeServiceError(w, err)
		return
	}

	balance, err := s.UnlockedBalance(r.Context(), model.Account(req.Account))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"balance": balance})
}

// HandleWithdraw handles POST /api/v1/vault/withdraw
func (s *Service) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req VaultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}

	if err := s.WithdrawCollateral(r.Context(), model.Account(req.Account), req.Amount); err != nil {
		writeServiceError(w, err)
		return
	}

	balance, err := s.UnlockedBalance(r.Context(), model.Account(req.Account))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"balance": balance})
}

// HandleBalance handles GET /api/v1/vault/{account}
func (s *Service) HandleBalance(w http.ResponseWriter, r *http.Request) {
	account := model.Account(chi.URLParam(r, "account"))

	balance, err := s.UnlockedBalance(r.Context(), account)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"balance": balance})
}

// HandleCreateSeries handles POST /api/v1/series
func (s *Service) HandleCreateSeries(w http.ResponseWriter, r *http.Request) {
	var req CreateSeriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	id, err := s.CreateSeries(r.Context(), req.MaturityTime)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	series, err := s.GetSeries(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, series)
}

// HandleListSeries handles GET /api/v1/series
func (s *Service) HandleListSeries(w http.ResponseWriter, r *http.Request) {
	series, err := s.ListSeries(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if series == nil {
		series = []model.Series{}
	}
	writeJSON(w, http.StatusOK, series)
}

// HandleGetSeries handles GET /api/v1/series/{seriesID}
func (s *Service) HandleGetSeries(w http.ResponseWriter, r *http.Request) {
	id, ok := seriesParam(w, r)
	if !ok {
		return
	}

	series, err := s.GetSeries(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

// HandleIssue handles POST /api/v1/series/{seriesID}/issue
func (s *Service) HandleIssue(w http.ResponseWriter, r *http.Request) {
	id, ok := seriesParam(w, r)
	if !ok {
		return
	}

	var req IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}

	if err := s.IssueDebt(r.Context(), model.Account(req.Account), id, req.Debt, req.Collateral); err != nil {
		writeServiceError(w, err)
		return
	}

	repo, err := s.GetRepo(r.Context(), id, model.Account(req.Account))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repo)
}

// HandleWipe handles POST /api/v1/series/{seriesID}/wipe
func (s *Service) HandleWipe(w http.ResponseWriter, r *http.Request) {
	id, ok := seriesParam(w, r)
	if !ok {
		return
	}

	var req WipeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}

	if err := s.WipeDebt(r.Context(), model.Account(req.Account), id, req.Debt, req.Collateral); err != nil {
		writeServiceError(w, err)
		return
	}

	// The wipe may have zeroed the repo; report whatever remains.
	repo, err := s.GetRepo(r.Context(), id, model.Account(req.Account))
	if errors.Is(err, ErrRepoNotFound) {
		repo = &model.Repo{Series: id, Account: model.Account(req.Account), Locked: decimal.Zero, Debt: decimal.Zero}
	} else if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repo)
}

// HandleLiquidate handles POST /api/v1/series/{seriesID}/liquidate
func (s *Service) HandleLiquidate(w http.ResponseWriter, r *http.Request) {
	id, ok := seriesParam(w, r)
	if !ok {
		return
	}

	var req LiquidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Liquidator == "" || req.Debtor == "" {
		writeError(w, "liquidator and debtor are required", http.StatusBadRequest)
		return
	}

	if err := s.Liquidate(r.Context(), model.Account(req.Liquidator), id, model.Account(req.Debtor), req.Cover); err != nil {
		writeServiceError(w, err)
		return
	}

	repo, err := s.GetRepo(r.Context(), id, model.Account(req.Debtor))
	if errors.Is(err, ErrRepoNotFound) {
		repo = &model.Repo{Series: id, Account: model.Account(req.Debtor), Locked: decimal.Zero, Debt: decimal.Zero}
	} else if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repo)
}

// HandleSettle handles POST /api/v1/series/{seriesID}/settle
func (s *Service) HandleSettle(w http.ResponseWriter, r *http.Request) {
	id, ok := seriesParam(w, r)
	if !ok {
		return
	}

	if err := s.Settle(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}

	series, err := s.GetSeries(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

// HandleRedeem handles POST /api/v1/series/{seriesID}/redeem
func (s *Service) HandleRedeem(w http.ResponseWriter, r *http.Request) {
	id, ok := seriesParam(w, r)
	if !ok {
		return
	}

	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}

	if err := s.WithdrawFaceValue(r.Context(), model.Account(req.Account), id, req.Face); err != nil {
		writeServiceError(w, err)
		return
	}

	price, err := s.SettledPrice(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{
		"face":   req.Face,
		"payout": req.Face.Mul(price),
	})
}

// HandleClose handles POST /api/v1/series/{seriesID}/close
func (s *Service) HandleClose(w http.ResponseWriter, r *http.Request) {
	id, ok := seriesParam(w, r)
	if !ok {
		return
	}

	var req CloseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}

	if err := s.CloseRepo(r.Context(), model.Account(req.Account), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// HandleGetRepo handles GET /api/v1/series/{seriesID}/repos/{account}
func (s *Service) HandleGetRepo(w http.ResponseWriter, r *http.Request) {
	id, ok := seriesParam(w, r)
	if !ok {
		return
	}
	account := model.Account(chi.URLParam(r, "account"))

	repo, err := s.GetRepo(r.Context(), id, account)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repo)
}

// HandleGetToken handles GET /api/v1/series/{seriesID}/token
// Optionally includes one holder's balance via ?account=<account>.
func (s *Service) HandleGetToken(w http.ResponseWriter, r *http.Request) {
	id, ok := seriesParam(w, r)
	if !ok {
		return
	}

	tok, err := s.DebtTokenOf(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := TokenResponse{Ticker: tok.Ticker(), TotalSupply: tok.TotalSupply()}
	if account := r.URL.Query().Get("account"); account != "" {
		balance := tok.BalanceOf(model.Account(account))
		resp.Balance = &balance
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleSettledPrice handles GET /api/v1/series/{seriesID}/price
func (s *Service) HandleSettledPrice(w http.ResponseWriter, r *http.Request) {
	id, ok := seriesParam(w, r)
	if !ok {
		return
	}

	price, err := s.SettledPrice(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"settled_price": price})
}

// HandleSeriesJournal handles GET /api/v1/series/{seriesID}/journal
func (s *Service) HandleSeriesJournal(w http.ResponseWriter, r *http.Request) {
	id, ok := seriesParam(w, r)
	if !ok {
		return
	}

	entries, err := s.JournalBySeries(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []model.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleAccountJournal handles GET /api/v1/accounts/{account}/journal
func (s *Service) HandleAccountJournal(w http.ResponseWriter, r *http.Request) {
	account := model.Account(chi.URLParam(r, "account"))

	entries, err := s.JournalByAccount(r.Context(), account)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []model.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleSetOracle handles the one-time POST /api/v1/oracle call.
func (s *Service) HandleSetOracle(w http.ResponseWriter, r *http.Request) {
	var req OracleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var src oracle.Oracle
	switch req.Type {
	case "fixed":
		fixed, err := oracle.NewFixed(req.Price)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		src = fixed
	case "feed":
		if req.URL == "" {
			writeError(w, "url is required for feed oracles", http.StatusBadRequest)
			return
		}
		src = oracle.NewHTTPFeed(req.URL)
	default:
		writeError(w, "type must be fixed or feed", http.StatusBadRequest)
		return
	}

	if err := s.SetOracle(src); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"source": src.Source()})
}

// HandleGetOracle handles GET /api/v1/oracle
func (s *Service) HandleGetOracle(w http.ResponseWriter, r *http.Request) {
	source, err := s.OracleSource()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"source": source})
}

// --- Helpers ---

func seriesParam(w http.ResponseWriter, r *http.Request) (model.SeriesID, bool) {
	raw := chi.URLParam(r, "seriesID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		writeError(w, "invalid series id", http.StatusBadRequest)
		return 0, false
	}
	return model.SeriesID(id), true
}

// writeServiceError maps protocol error kinds to HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, err.Error(), statusFor(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidMaturity),
		errors.Is(err, oracle.ErrInvalidPrice):
		return http.StatusBadRequest
	case errors.Is(err, ErrSeriesNotFound),
		errors.Is(err, ErrRepoNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrInsufficientTokenBalance),
		errors.Is(err, ErrUnderCollateralized),
		errors.Is(err, ErrNotLiquidatable),
		errors.Is(err, ErrExcessiveLiquidation),
		errors.Is(err, ErrNotMatured),
		errors.Is(err, ErrAlreadySettled),
		errors.Is(err, ErrNotSettled),
		errors.Is(err, ErrOracleAlreadySet),
		errors.Is(err, token.ErrInsufficientFunds),
		errors.Is(err, risk.ErrRepoLimitExceeded),
		errors.Is(err, risk.ErrAccountLimitExceeded):
		return http.StatusConflict
	case errors.Is(err, ErrOracleNotSet),
		errors.Is(err, oracle.ErrFeedUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
