package ticket_api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-ticket-gate/internal/logger"
	"ms-ticket-gate/internal/models"
	"ms-ticket-gate/internal/sse"
	"ms-ticket-gate/internal/tickets/service"
	"ms-ticket-gate/internal/utils"
)

const maxBodyBytes = 64 << 10

type Handler struct {
	TicketService *service.TicketService
	Logger        *logger.Logger
	// Events feeds GET /api/admin/events; nil leaves the route unregistered.
	Events *sse.TicketEventEmitter
}

func NewHandler(ticketService *service.TicketService, log *logger.Logger) *Handler {
	return &Handler{TicketService: ticketService, Logger: log}
}

type checkoutRequest struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	TicketType     string `json:"ticketType"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// SignedPayload is what the holder keeps. Payload is the exact signed byte
// sequence as a string; Token is the compact form encoded in the QR code.
type SignedPayload struct {
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
	Token     string `json:"token"`
}

type checkoutResponse struct {
	ID            string               `json:"id"`
	SignedPayload SignedPayload        `json:"signedPayload"`
	Order         models.OrderResponse `json:"order"`
	Replayed      bool                 `json:"replayed,omitempty"`
}

type ticketClaims struct {
	ID         string            `json:"id"`
	TicketType models.TicketType `json:"ticketType"`
	Name       string            `json:"name"`
	Email      string            `json:"email"`
	IssuedAt   time.Time         `json:"issuedAt"`
}

type verifyResponse struct {
	OK     bool          `json:"ok"`
	Status models.Status `json:"status"`
	UsedAt *time.Time    `json:"usedAt"`
	Ticket ticketClaims  `json:"ticket"`
}

type listResponse struct {
	Orders []models.OrderResponse `json:"orders"`
	Count  int                    `json:"count"`
}

func (h *Handler) sendError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := errorResponse(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s %s failed: %v", r.Method, r.URL.Path, err))
	}
	_ = utils.SendError(w, status, resp)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

// Checkout issues a ticket.
// Expected POST body: {"name", "email", "ticketType", "idempotencyKey"?}.
// The key may also come in the Idempotency-Key header.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		h.sendError(w, r, &service.ValidationError{Field: "request", Message: "body too large or unreadable"})
		return
	}

	var req checkoutRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.sendError(w, r, &service.ValidationError{Field: "request", Message: "invalid JSON body"})
		return
	}

	headerKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	bodyKey := strings.TrimSpace(req.IdempotencyKey)
	key := bodyKey
	switch {
	case bodyKey == "":
		key = headerKey
	case headerKey != "" && headerKey != bodyKey:
		h.sendError(w, r, &service.ValidationError{Field: "idempotencyKey", Message: "header and body keys differ"})
		return
	}

	result, err := h.TicketService.Issue(r.Context(), service.IssueInput{
		Name:           req.Name,
		Email:          req.Email,
		TicketType:     req.TicketType,
		IdempotencyKey: key,
	})
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	w.Header().Set("Location", "/api/tickets/"+result.Order.ID)
	_ = utils.SendJSON(w, status, checkoutResponse{
		ID: result.Order.ID,
		SignedPayload: SignedPayload{
			Payload:   string(result.Payload),
			Signature: result.Signature,
			Token:     result.Token,
		},
		Order:    result.Order.Response(),
		Replayed: result.Replayed,
	})
}

func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	order, err := h.TicketService.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	_ = utils.SendJSON(w, http.StatusOK, order.Response())
}

// GetTicketQR serves the PNG rendered at issuance.
func (h *Handler) GetTicketQR(w http.ResponseWriter, r *http.Request) {
	order, err := h.TicketService.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	if len(order.QRCode) == 0 {
		_ = utils.SendError(w, http.StatusNotFound, utils.NewErrorResponse(CodeNotFound, "no QR code stored for this ticket"))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(order.QRCode)))
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(order.QRCode)
}

func (h *Handler) parseProof(w http.ResponseWriter, r *http.Request) (service.Proof, bool) {
	body, err := readBody(w, r)
	if err != nil {
		h.sendError(w, r, ErrMalformedProof)
		return service.Proof{}, false
	}
	proof, form, err := ParseProof(body)
	if err != nil {
		h.sendError(w, r, err)
		return service.Proof{}, false
	}
	h.Logger.Debug("API", fmt.Sprintf("proof received in %s form", form))
	return proof, true
}

// Verify checks a presented ticket without changing it.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	proof, ok := h.parseProof(w, r)
	if !ok {
		return
	}

	result, err := h.TicketService.Verify(r.Context(), proof)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	_ = utils.SendJSON(w, http.StatusOK, verifyResponse{
		OK:     true,
		Status: result.Status(),
		UsedAt: result.UsedAt(),
		Ticket: ticketClaims{
			ID:         result.Claims.OrderID,
			TicketType: result.Claims.TicketType,
			Name:       result.Claims.HolderName,
			Email:      result.Claims.Email,
			IssuedAt:   result.Claims.IssuedAtTime(),
		},
	})
}

// Redeem admits the ticket holder, once.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	proof, ok := h.parseProof(w, r)
	if !ok {
		return
	}

	order, err := h.TicketService.Redeem(r.Context(), proof)
	if err != nil {
		h.sendError(w, r, err)
		return
	}
	_ = utils.SendJSON(w, http.StatusOK, order.Response())
}

// ListOrders is the read-only admin listing, most recent first.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.sendError(w, r, &service.ValidationError{Field: "limit", Message: "must be a positive integer"})
			return
		}
		limit = parsed
	}

	orders, err := h.TicketService.ListOrders(r.Context(), limit)
	if err != nil {
		h.sendError(w, r, err)
		return
	}

	resp := listResponse{Orders: make([]models.OrderResponse, 0, len(orders))}
	for _, o := range orders {
		resp.Orders = append(resp.Orders, o.Response())
	}
	resp.Count = len(resp.Orders)
	_ = utils.SendJSON(w, http.StatusOK, resp)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	_ = utils.SendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
