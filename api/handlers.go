/*
handlers.go - HTTP API handlers for the expense ledger

PURPOSE:
  Exposes the ledger Tracker via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the tracker.

ENDPOINTS:
  State:
    GET    /api/state                    Whole ledger (members, groups, ...)

  Members:
    GET    /api/members                  List members
    POST   /api/members                  Create member
    PUT    /api/members/{id}             Update name/email/avatar
    DELETE /api/members/{id}             Delete (only without activity)

  Groups:
    GET    /api/groups                   List groups
    POST   /api/groups                   Create group
    PUT    /api/groups/{id}              Update group
    DELETE /api/groups/{id}              Delete group with its expenses/settlements
    GET    /api/groups/{id}/balances     Per-member owes/owed/net
    GET    /api/groups/{id}/settle-up    Suggested transfers

  Expenses:
    POST   /api/expenses                 Create expense
    PUT    /api/expenses/{id}            Replace expense
    DELETE /api/expenses/{id}            Delete expense

  Settlements:
    POST   /api/settlements              Record settlement
    DELETE /api/settlements/{id}         Delete settlement

  Scenarios:
    GET    /api/scenarios                List demo scenarios
    POST   /api/scenarios/load           Load a demo scenario

REQUEST FLOW:
  1. Parse HTTP request
  2. Convert DTO to tracker input
  3. Call the tracker (validates, persists, publishes)
  4. Serialize response
  5. Map errors with writeLedgerError

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Another writer saved first (reload and retry)
  - 503: Storage failure (retryable)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/warp/expense-ledger/ledger"
	"github.com/warp/expense-ledger/tracker"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Tracker *tracker.Tracker
	log     *slog.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler around the given tracker.
func NewHandler(t *tracker.Tracker, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{Tracker: t, log: log}
}

// =============================================================================
// STATE
// =============================================================================

// GetState returns the whole ledger.
// GET /api/state
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Tracker.State())
}

// Healthz reports liveness. Storage that fails its ping answers 503.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.Tracker.Ping(r.Context()); err != nil {
		h.log.Error("health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"revision": h.Tracker.State().Revision,
	})
}

// ListCurrencies returns the supported group currencies.
// GET /api/currencies
func (h *Handler) ListCurrencies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ledger.Currencies())
}

// =============================================================================
// MEMBER ENDPOINTS
// =============================================================================

// ListMembers returns all members.
// GET /api/members
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Tracker.State().Members)
}

// CreateMember adds a member.
// POST /api/members
func (h *Handler) CreateMember(w http.ResponseWriter, r *http.Request) {
	var req MemberRequest
	if !decodeBody(w, r, &req) {
		return
	}

	id, err := h.Tracker.AddMember(r.Context(), tracker.MemberInput(req))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	member, _ := h.Tracker.State().Member(id)
	writeJSON(w, http.StatusCreated, member)
}

// UpdateMember replaces a member's name, email and avatar.
// PUT /api/members/{id}
func (h *Handler) UpdateMember(w http.ResponseWriter, r *http.Request) {
	id := ledger.MemberID(chi.URLParam(r, "id"))
	var req MemberRequest
	if !decodeBody(w, r, &req) {
		return
	}

	state, err := h.Tracker.UpdateMember(r.Context(), id, tracker.MemberInput(req))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	member, _ := state.Member(id)
	writeJSON(w, http.StatusOK, member)
}

// DeleteMember removes a member with no expenses or settlements.
// DELETE /api/members/{id}
func (h *Handler) DeleteMember(w http.ResponseWriter, r *http.Request) {
	id := ledger.MemberID(chi.URLParam(r, "id"))
	if _, err := h.Tracker.DeleteMember(r.Context(), id); err != nil {
		h.writeLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// GROUP ENDPOINTS
// =============================================================================

// ListGroups returns all groups.
// GET /api/groups
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Tracker.State().Groups)
}

// CreateGroup adds a group.
// POST /api/groups
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req GroupRequest
	if !decodeBody(w, r, &req) {
		return
	}

	id, err := h.Tracker.AddGroup(r.Context(), tracker.GroupInput(req))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	group, _ := h.Tracker.State().Group(id)
	writeJSON(w, http.StatusCreated, group)
}

// UpdateGroup replaces a group's name, type, currency and members.
// PUT /api/groups/{id}
func (h *Handler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	id := ledger.GroupID(chi.URLParam(r, "id"))
	var req GroupRequest
	if !decodeBody(w, r, &req) {
		return
	}

	state, err := h.Tracker.UpdateGroup(r.Context(), id, tracker.GroupInput(req))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	group, _ := state.Group(id)
	writeJSON(w, http.StatusOK, group)
}

// DeleteGroup removes a group and everything recorded in it.
// DELETE /api/groups/{id}
func (h *Handler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	id := ledger.GroupID(chi.URLParam(r, "id"))
	if _, err := h.Tracker.DeleteGroup(r.Context(), id); err != nil {
		h.writeLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetGroupBalances returns total spend and per-member balances.
// GET /api/groups/{id}/balances
func (h *Handler) GetGroupBalances(w http.ResponseWriter, r *http.Request) {
	id := ledger.GroupID(chi.URLParam(r, "id"))
	summary, err := h.Tracker.GroupSummary(id)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	resp := GroupBalancesResponse{
		GroupID:    id,
		Currency:   summary.Group.Currency,
		TotalSpent: summary.TotalSpent,
		Balances:   make([]BalanceDTO, 0, len(summary.Balances)),
	}
	for _, row := range summary.Balances {
		resp.Balances = append(resp.Balances, BalanceDTO{
			MemberID: row.MemberID,
			Name:     row.Name,
			Owes:     row.Owes,
			Owed:     row.Owed,
			Net:      row.Net,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSettleUp returns suggested transfers that zero the group.
// GET /api/groups/{id}/settle-up
func (h *Handler) GetSettleUp(w http.ResponseWriter, r *http.Request) {
	id := ledger.GroupID(chi.URLParam(r, "id"))
	transfers, err := h.Tracker.SuggestSettlements(id)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	state := h.Tracker.State()
	dtos := make([]TransferDTO, 0, len(transfers))
	for _, t := range transfers {
		dtos = append(dtos, TransferDTO{
			From:     t.From,
			FromName: memberName(state, t.From),
			To:       t.To,
			ToName:   memberName(state, t.To),
			Amount:   t.Amount,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// EXPENSE ENDPOINTS
// =============================================================================

func expenseInput(req ExpenseRequest) (tracker.ExpenseInput, error) {
	date, err := parseDate(req.Date)
	if err != nil {
		return tracker.ExpenseInput{}, err
	}
	mode := ledger.SplitEqual
	if req.SplitMode != "" {
		var ok bool
		if mode, ok = ledger.ParseSplitMode(req.SplitMode); !ok {
			return tracker.ExpenseInput{}, &ledger.ValidationError{Field: "splitMode", Reason: "must be equal, percentage or manual"}
		}
	}
	return tracker.ExpenseInput{
		GroupID:      req.GroupID,
		Description:  req.Description,
		Amount:       req.Amount,
		PaidBy:       req.PaidBy,
		SplitBetween: req.SplitBetween,
		SplitMode:    mode,
		Shares:       req.Shares,
		Date:         date,
		Notes:        req.Notes,
	}, nil
}

// CreateExpense records an expense.
// POST /api/expenses
func (h *Handler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	var req ExpenseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	in, err := expenseInput(req)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	id, err := h.Tracker.AddExpense(r.Context(), in)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	expense, _ := h.Tracker.State().Expense(id)
	writeJSON(w, http.StatusCreated, expense)
}

// UpdateExpense replaces an expense.
// PUT /api/expenses/{id}
func (h *Handler) UpdateExpense(w http.ResponseWriter, r *http.Request) {
	id := ledger.ExpenseID(chi.URLParam(r, "id"))
	var req ExpenseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	in, err := expenseInput(req)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	state, err := h.Tracker.UpdateExpense(r.Context(), id, in)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	expense, _ := state.Expense(id)
	writeJSON(w, http.StatusOK, expense)
}

// DeleteExpense removes an expense.
// DELETE /api/expenses/{id}
func (h *Handler) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	id := ledger.ExpenseID(chi.URLParam(r, "id"))
	if _, err := h.Tracker.DeleteExpense(r.Context(), id); err != nil {
		h.writeLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SETTLEMENT ENDPOINTS
// =============================================================================

// CreateSettlement records a transfer between two members.
// POST /api/settlements
func (h *Handler) CreateSettlement(w http.ResponseWriter, r *http.Request) {
	var req SettlementRequest
	if !decodeBody(w, r, &req) {
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	id, err := h.Tracker.AddSettlement(r.Context(), tracker.SettlementInput{
		GroupID:      req.GroupID,
		FromMemberID: req.FromMemberID,
		ToMemberID:   req.ToMemberID,
		Amount:       req.Amount,
		Date:         date,
		Notes:        req.Notes,
	})
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	settlement, _ := h.Tracker.State().Settlement(id)
	writeJSON(w, http.StatusCreated, settlement)
}

// DeleteSettlement removes a settlement.
// DELETE /api/settlements/{id}
func (h *Handler) DeleteSettlement(w http.ResponseWriter, r *http.Request) {
	id := ledger.SettlementID(chi.URLParam(r, "id"))
	if _, err := h.Tracker.DeleteSettlement(r.Context(), id); err != nil {
		h.writeLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// writeLedgerError maps ledger error kinds to HTTP statuses.
func (h *Handler) writeLedgerError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Details: err.Error()}
	var status int

	var verr *ledger.ValidationError
	switch {
	case errors.As(err, &verr):
		status, resp.Error, resp.Code, resp.Field = http.StatusBadRequest, "Validation failed", "validation", verr.Field
	case ledger.IsNotFound(err):
		status, resp.Error, resp.Code = http.StatusNotFound, "Not found", "not_found"
	case errors.Is(err, ledger.ErrConflict):
		status, resp.Error, resp.Code = http.StatusConflict, "Ledger was modified by another writer", "conflict"
		resp.Retryable = true
	case errors.Is(err, ledger.ErrStorage):
		status, resp.Error, resp.Code = http.StatusServiceUnavailable, "Storage unavailable", "storage"
		resp.Retryable = true
	default:
		status, resp.Error, resp.Code = http.StatusInternalServerError, "Internal error", "internal"
	}

	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "status", status, "err", err)
	}
	writeJSON(w, status, resp)
}
