package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/baller-exchange/internal/core/domain"
	"github.com/rl1809/baller-exchange/internal/core/service"
)

const maxBodyBytes = 64 << 10

type HTTPHandler struct {
	ledger   *service.LedgerService
	rolls    *service.RollService
	trades   *service.TradeService
	queries  *service.QueryService
	validate *validator.Validate
	log      logrus.FieldLogger
}

type RollRequest struct {
	Pack      bool   `json:"pack"`
	RequestID string `json:"request_id" validate:"omitempty,max=128"`
}

type ProposeTradeRequest struct {
	RecipientID    string   `json:"recipient_id" validate:"required,max=128"`
	SenderItems    []string `json:"sender_items" validate:"required,min=1,dive,required,max=128"`
	RecipientItems []string `json:"recipient_items" validate:"required,min=1,dive,required,max=128"`
}

type ResolveTradeRequest struct {
	Action domain.TradeAction `json:"action" validate:"required,oneof=accept reject cancel"`
}

type ItemView struct {
	ID           string            `json:"id"`
	Owner        string            `json:"owner"`
	Attributes   domain.Attributes `json:"attributes"`
	TradeLock    string            `json:"trade_lock,omitempty"`
	CreationTime int64             `json:"creation_time"`
}

type TradeView struct {
	ID             string             `json:"id"`
	SenderID       string             `json:"sender_id"`
	RecipientID    string             `json:"recipient_id"`
	SenderItems    []string           `json:"sender_items"`
	RecipientItems []string           `json:"recipient_items"`
	Status         domain.TradeStatus `json:"status"`
	CreationTime   int64              `json:"creation_time"`
	ResolvedTime   int64              `json:"resolved_time,omitempty"`
}

type UserView struct {
	ID              string   `json:"id"`
	DisplayName     string   `json:"display_name"`
	AvatarURL       string   `json:"avatar_url,omitempty"`
	Inventory       []string `json:"inventory,omitempty"`
	CurrencyBalance *int64   `json:"currency_balance,omitempty"`
	PendingTrades   []string `json:"pending_trades,omitempty"`
	CreationTime    int64    `json:"creation_time"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewHTTPHandler(
	ledger *service.LedgerService,
	rolls *service.RollService,
	trades *service.TradeService,
	queries *service.QueryService,
	log logrus.FieldLogger,
) *HTTPHandler {
	return &HTTPHandler{
		ledger:   ledger,
		rolls:    rolls,
		trades:   trades,
		queries:  queries,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
	}
}

func (h *HTTPHandler) Roll(w http.ResponseWriter, r *http.Request) {
	var req RollRequest
	if r.ContentLength > 0 {
		if !h.decode(w, r, &req) {
			return
		}
	}
	if pack := r.URL.Query().Get("pack"); pack != "" {
		req.Pack, _ = strconv.ParseBool(pack)
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		req.RequestID = key
	}

	result, err := h.rolls.Roll(r.Context(), req.RequestID, UserID(r.Context()), req.Pack)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if result.NewUser {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

func (h *HTTPHandler) Accrue(w http.ResponseWriter, r *http.Request) {
	result, err := h.ledger.Accrue(r.Context(), UserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *HTTPHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	page, ok := pageFrom(w, r)
	if !ok {
		return
	}
	viewer := UserID(r.Context())
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		owner = viewer
	}

	items, err := h.queries.ListItems(r.Context(), viewer, owner, page)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]ItemView, len(items))
	for i, it := range items {
		out[i] = itemView(it)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	page, ok := pageFrom(w, r)
	if !ok {
		return
	}
	status := domain.TradeStatus(r.URL.Query().Get("status"))

	trades, err := h.queries.ListTrades(r.Context(), UserID(r.Context()), status, page)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]TradeView, len(trades))
	for i, t := range trades {
		out[i] = tradeView(t)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) GetTrade(w http.ResponseWriter, r *http.Request) {
	t, err := h.queries.GetTrade(r.Context(), chi.URLParam(r, "tradeID"), UserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tradeView(t))
}

func (h *HTTPHandler) ProposeTrade(w http.ResponseWriter, r *http.Request) {
	var req ProposeTradeRequest
	if !h.decode(w, r, &req) {
		return
	}

	t, err := h.trades.Propose(r.Context(), service.Proposal{
		SenderID:       UserID(r.Context()),
		RecipientID:    req.RecipientID,
		SenderItems:    req.SenderItems,
		RecipientItems: req.RecipientItems,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tradeView(t))
}

func (h *HTTPHandler) ResolveTrade(w http.ResponseWriter, r *http.Request) {
	var req ResolveTradeRequest
	if !h.decode(w, r, &req) {
		return
	}

	t, err := h.trades.Resolve(r.Context(), chi.URLParam(r, "tradeID"), UserID(r.Context()), req.Action)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tradeView(t))
}

func (h *HTTPHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.queries.SearchUsers(r.Context(), r.URL.Query().Get("like"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]UserView, len(users))
	for i, u := range users {
		out[i] = publicUserView(u)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.queries.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, publicUserView(u))
}

// Me returns the caller's full record, balance and pending trades included.
func (h *HTTPHandler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.queries.GetUser(r.Context(), UserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	view := publicUserView(u)
	balance := u.CurrencyBalance
	view.CurrencyBalance = &balance
	view.PendingTrades = u.PendingTrades
	writeJSON(w, http.StatusOK, view)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads and validates a JSON body, answering 400 itself on failure.
func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, http.StatusBadRequest, "invalid field "+verrs[0].Field())
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (h *HTTPHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, _, msg := classify(err)
	if status >= http.StatusInternalServerError {
		h.log.WithFields(logrus.Fields{
			"request_id": requestID(r.Context()),
			"path":       r.URL.Path,
		}).WithError(err).Error("request failed")
	}
	writeError(w, status, msg)
}

func pageFrom(w http.ResponseWriter, r *http.Request) (service.Page, bool) {
	var page service.Page
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *int
	}{{"offset", &page.Offset}, {"limit", &page.Limit}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+p.name)
			return page, false
		}
		*p.dst = n
	}
	return page, true
}

func itemView(it *domain.Item) ItemView {
	return ItemView{
		ID:           it.ID,
		Owner:        it.Owner,
		Attributes:   it.Attributes,
		TradeLock:    it.TradeLock,
		CreationTime: it.CreationTime,
	}
}

func tradeView(t *domain.Trade) TradeView {
	return TradeView{
		ID:             t.ID,
		SenderID:       t.SenderID,
		RecipientID:    t.RecipientID,
		SenderItems:    t.SenderItems,
		RecipientItems: t.RecipientItems,
		Status:         t.Status,
		CreationTime:   t.CreationTime,
		ResolvedTime:   t.ResolvedTime,
	}
}

func publicUserView(u *domain.User) UserView {
	return UserView{
		ID:           u.ID,
		DisplayName:  u.DisplayName,
		AvatarURL:    u.AvatarURL,
		Inventory:    u.Inventory,
		CreationTime: u.CreationTime,
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
