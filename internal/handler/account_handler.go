package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/logging"
	"github.com/unclebandit/outreach-engine/internal/service"
)

// AccountHandler serves mailbox connection and inbox polling.
type AccountHandler struct {
	Accounts *service.AccountService
	Inbound  *service.InboundService
	Logger   *zap.Logger
}

func NewAccountHandler(accounts *service.AccountService, inbound *service.InboundService, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{
		Accounts: accounts,
		Inbound:  inbound,
		Logger:   logging.OrNop(logger),
	}
}

func (h *AccountHandler) Routes(r chi.Router) {
	r.Post("/accounts", h.ConnectAccountHandler)
	r.Delete("/accounts/{id}", h.DisconnectAccountHandler)
	r.Post("/accounts/{id}/ingest", h.IngestHandler)
}

// ConnectAccountHandler stores a new account. Tokens never appear in the response.
func (h *AccountHandler) ConnectAccountHandler(w http.ResponseWriter, r *http.Request) {
	var payload service.ConnectAccountInput
	if err := Decode(r, &payload); err != nil {
		WriteError(w, h.Logger, err)
		return
	}

	acc, err := h.Accounts.ConnectAccount(r.Context(), payload)
	if err != nil {
		WriteError(w, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, acc)
}

func (h *AccountHandler) DisconnectAccountHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.Accounts.DisconnectAccount(r.Context(), chi.URLParam(r, "id")); err != nil {
		WriteError(w, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// IngestHandler polls the account's inbox and processes one batch of replies.
func (h *AccountHandler) IngestHandler(w http.ResponseWriter, r *http.Request) {
	res, err := h.Inbound.Ingest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}
