/**
 * @description
 * This file contains the HTTP handlers for the pix-service's API endpoints.
 * Handlers parse incoming requests, call the application service or the
 * session registry, and write the HTTP response. Session responses carry a
 * `reset_to` directive whenever the lifecycle manager forced a navigation
 * reset, so the client can unwind to the unauthenticated entry screen.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/session, internal/store: For
 *   service logic, models, session lifecycle and custom errors.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rosebank/pix-service/internal/app"
	"github.com/rosebank/pix-service/internal/domain"
	"github.com/rosebank/pix-service/internal/session"
	"github.com/rosebank/pix-service/internal/store"
)

// PixHandlers holds the application service and session registry.
type PixHandlers struct {
	service            *app.Service
	sessions           *session.Registry
	reconcileStale     time.Duration
	reconcileBatchSize int
}

// NewPixHandlers creates a new instance of PixHandlers.
func NewPixHandlers(service *app.Service, sessions *session.Registry, reconcileStale time.Duration, reconcileBatchSize int) *PixHandlers {
	return &PixHandlers{
		service:            service,
		sessions:           sessions,
		reconcileStale:     reconcileStale,
		reconcileBatchSize: reconcileBatchSize,
	}
}

// paymentIntentResponse mirrors the shape the mobile client renders on the
// confirmation and receipt screens.
type paymentIntentResponse struct {
	IntentID      string            `json:"intent_id"`
	Status        string            `json:"status"`
	QRKind        string            `json:"qr_kind,omitempty"`
	PixKey        string            `json:"pix_key,omitempty"`
	Recipient     *domain.Recipient `json:"recipient,omitempty"`
	Amount        int64             `json:"amount"`
	AmountDisplay string            `json:"amount_display,omitempty"`
	AmountFixed   bool              `json:"amount_fixed"`
	TransactionID *string           `json:"transaction_id,omitempty"`
	FailureReason *string           `json:"failure_reason,omitempty"`
	Receipt       *domain.Receipt   `json:"receipt,omitempty"`
}

func buildPaymentIntentResponse(intent *domain.PaymentIntent, receipt *domain.Receipt) paymentIntentResponse {
	resp := paymentIntentResponse{
		IntentID:      intent.ID.String(),
		Status:        string(intent.Status),
		QRKind:        string(intent.QRKind),
		PixKey:        intent.PixKey,
		Amount:        intent.Amount,
		AmountFixed:   intent.AmountFixed,
		TransactionID: intent.TransactionID,
		FailureReason: intent.FailureReason,
		Receipt:       receipt,
	}
	if intent.Recipient != (domain.Recipient{}) {
		recipient := intent.Recipient
		resp.Recipient = &recipient
	}
	if intent.Amount > 0 {
		resp.AmountDisplay = domain.FormatAmount(intent.Amount)
	}
	return resp
}

func (h *PixHandlers) authenticatedUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userIDStr, ok := GetAuthUserID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		log.Printf("level=warn component=api msg=\"token subject is not a uuid\" sub=%s", userIDStr)
		http.Error(w, "Invalid user ID format", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return userID, true
}

// DecodePaymentHandler handles POST /payments/decode: EMV decode plus
// recipient resolution, returning an intent ready for confirmation.
func (h *PixHandlers) DecodePaymentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Code) == "" {
		log.Printf("level=warn component=api endpoint=decode_payment outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "A QR code payload is required")
		return
	}

	intent, err := h.service.DecodePayment(r.Context(), userID, req.Code)
	if err != nil {
		if intent != nil {
			// The attempt exists and is terminal; hand the failed intent back.
			h.writeJSON(w, http.StatusUnprocessableEntity, buildPaymentIntentResponse(intent, nil))
			return
		}
		log.Printf("level=error component=api endpoint=decode_payment user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to decode payment")
		return
	}

	h.writeJSON(w, http.StatusOK, buildPaymentIntentResponse(intent, nil))
}

// SubmitPaymentHandler handles POST /payments: amount confirmation, the PIN
// gate, submission and settlement polling, returning the terminal outcome.
func (h *PixHandlers) SubmitPaymentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	var req struct {
		IntentID       string `json:"intent_id"`
		Amount         string `json:"amount,omitempty"`
		TransactionPIN string `json:"transaction_pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=submit_payment outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	intentID, err := uuid.Parse(req.IntentID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid intent id")
		return
	}

	intent, err := h.service.ConfirmPayment(r.Context(), userID, intentID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrIntentNotFound):
			h.writeError(w, http.StatusNotFound, "Payment not found")
		case errors.Is(err, app.ErrWrongPaymentState):
			h.writeError(w, http.StatusConflict, "Payment is not awaiting confirmation")
		case errors.Is(err, app.ErrAmountImmutable):
			h.writeError(w, http.StatusUnprocessableEntity, "This QR code fixes the amount; it cannot be changed")
		case errors.Is(err, app.ErrAmountRequired), errors.Is(err, domain.ErrInvalidAmount):
			h.writeError(w, http.StatusBadRequest, "Amount must be a positive value with exactly two decimal places")
		default:
			log.Printf("level=error component=api endpoint=submit_payment user_id=%s intent_id=%s err=%v", userID, intentID, err)
			h.writeError(w, http.StatusInternalServerError, "Unable to confirm payment")
		}
		return
	}

	intent, err = h.service.ExecutePayment(r.Context(), userID, intent.ID, req.TransactionPIN)
	if err != nil {
		if !h.writeTransactionPINError(w, userID, err) {
			log.Printf("level=error component=api endpoint=submit_payment user_id=%s intent_id=%s err=%v", userID, intentID, err)
			h.writeError(w, http.StatusInternalServerError, "Unable to submit payment")
		}
		return
	}

	var receipt *domain.Receipt
	if intent.Status == domain.StateConfirmed {
		if rec, recErr := h.service.GetReceipt(r.Context(), userID, intent.ID); recErr == nil {
			receipt = rec
		}
	}
	h.writeJSON(w, http.StatusOK, buildPaymentIntentResponse(intent, receipt))
}

// writeTransactionPINError maps PIN verification failures. Invalid PIN and
// malformed PIN share one generic message so attempt state never leaks.
func (h *PixHandlers) writeTransactionPINError(w http.ResponseWriter, userID uuid.UUID, err error) bool {
	switch {
	case errors.Is(err, store.ErrTransactionPINNotSet):
		h.writeError(w, http.StatusPreconditionFailed, "Transaction PIN is not set. Please create your PIN first.")
	case errors.Is(err, app.ErrTransactionPINLocked):
		h.writeError(w, http.StatusLocked, "Too many incorrect PIN attempts. Please wait and try again.")
	case errors.Is(err, app.ErrTransactionPINRateLimited):
		h.writeError(w, http.StatusTooManyRequests, "Too many attempts. Please wait and try again.")
	case errors.Is(err, app.ErrInvalidTransactionPIN):
		h.writeError(w, http.StatusUnauthorized, "Invalid transaction PIN.")
	case errors.Is(err, app.ErrWrongPaymentState):
		h.writeError(w, http.StatusConflict, "Payment is not awaiting its PIN")
	default:
		return false
	}
	return true
}

// GetPaymentHandler handles GET /payments/{id}.
func (h *PixHandlers) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}
	intentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid intent id")
		return
	}

	intent, err := h.service.GetPaymentIntent(r.Context(), userID, intentID)
	if err != nil {
		if errors.Is(err, store.ErrIntentNotFound) {
			h.writeError(w, http.StatusNotFound, "Payment not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_payment user_id=%s intent_id=%s err=%v", userID, intentID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to fetch payment")
		return
	}

	var receipt *domain.Receipt
	if intent.Status == domain.StateConfirmed {
		if rec, recErr := h.service.GetReceipt(r.Context(), userID, intent.ID); recErr == nil {
			receipt = rec
		}
	}
	h.writeJSON(w, http.StatusOK, buildPaymentIntentResponse(intent, receipt))
}

// CreatePINHandler handles POST /pin.
func (h *PixHandlers) CreatePINHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	var req struct {
		PIN string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.SetTransactionPIN(r.Context(), userID, req.PIN); err != nil {
		if errors.Is(err, app.ErrInvalidPINFormat) {
			h.writeError(w, http.StatusBadRequest, "PIN must be exactly 6 digits")
			return
		}
		log.Printf("level=error component=api endpoint=create_pin user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to set PIN")
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]bool{"created": true})
}

// PINExistsHandler handles GET /pin/exists.
func (h *PixHandlers) PINExistsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	exists, err := h.service.HasTransactionPIN(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api endpoint=pin_exists user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to check PIN")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

// ReconcileHandler handles POST /internal/reconcile: an on-demand pass of
// the stale-intent reconciliation job, in addition to the cron schedule.
func (h *PixHandlers) ReconcileHandler(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.ReconcileStaleIntents(r.Context(), h.reconcileStale, h.reconcileBatchSize)
	if err != nil {
		log.Printf("level=error component=api endpoint=reconcile err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Reconciliation pass failed")
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// sessionResponse is returned by every session endpoint. ResetTo is present
// when the lifecycle manager forced a navigation reset since the client's
// last call. HasTransactionPIN tells the client whether to route to PIN
// creation before its first payment.
type sessionResponse struct {
	Authenticated     bool       `json:"authenticated"`
	UserID            string     `json:"user_id,omitempty"`
	Email             string     `json:"email,omitempty"`
	HasTransactionPIN bool       `json:"has_transaction_pin"`
	IdleDeadline      *time.Time `json:"idle_deadline,omitempty"`
	ResetTo           string     `json:"reset_to,omitempty"`
}

func (h *PixHandlers) buildSessionResponse(ctx context.Context, mgr *session.Manager, recorder *session.ResetRecorder) sessionResponse {
	resp := sessionResponse{Authenticated: mgr.IsAuthenticated()}
	if current := mgr.Current(); current != nil {
		resp.UserID = current.UserID
		resp.Email = current.Email
		if userID, err := uuid.Parse(current.UserID); err == nil {
			exists, pinErr := h.service.HasTransactionPIN(ctx, userID)
			if pinErr != nil {
				log.Printf("level=warn component=api msg=\"pin existence check failed\" user_id=%s err=%v", current.UserID, pinErr)
			} else {
				resp.HasTransactionPIN = exists
			}
		}
	}
	if deadline, scheduled := mgr.IdleDeadline(); scheduled {
		resp.IdleDeadline = &deadline
	}
	if route, pending := recorder.Consume(); pending {
		resp.ResetTo = route
	}
	return resp
}

func deviceID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Device-Id")); id != "" {
		return id
	}
	return "default"
}

// LoginHandler handles POST /session/login.
func (h *PixHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		DeviceID string `json:"device_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		h.writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	device := strings.TrimSpace(req.DeviceID)
	if device == "" {
		device = deviceID(r)
	}
	mgr, recorder := h.sessions.Handle(device)

	if _, err := mgr.SignIn(r.Context(), req.Email, req.Password); err != nil {
		log.Printf("level=warn component=api endpoint=login outcome=reject device_id=%s err=%v", device, err)
		h.writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	h.writeJSON(w, http.StatusOK, h.buildSessionResponse(r.Context(), mgr, recorder))
}

// CheckSessionHandler handles POST /session/check: one remote validity
// check; any failure leaves the client unauthenticated.
func (h *PixHandlers) CheckSessionHandler(w http.ResponseWriter, r *http.Request) {
	token, _ := bearerToken(r)
	mgr, recorder := h.sessions.Handle(deviceID(r))

	if err := mgr.CheckSession(r.Context(), token); err != nil {
		log.Printf("level=warn component=api endpoint=session_check err=%v", err)
	}
	h.writeJSON(w, http.StatusOK, h.buildSessionResponse(r.Context(), mgr, recorder))
}

// ActivityHandler handles POST /session/activity: a detected user
// interaction; pushes the inactivity deadline forward.
func (h *PixHandlers) ActivityHandler(w http.ResponseWriter, r *http.Request) {
	mgr, recorder := h.sessions.Handle(deviceID(r))
	mgr.ResetActivityTimer()
	h.writeJSON(w, http.StatusOK, h.buildSessionResponse(r.Context(), mgr, recorder))
}

// AppStateHandler handles POST /session/app-state: an OS lifecycle
// transition reported by the client.
func (h *PixHandlers) AppStateHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	mgr, recorder := h.sessions.Handle(deviceID(r))
	if err := mgr.OnAppStateChange(r.Context(), domain.AppState(req.State)); err != nil {
		if !domain.AppState(req.State).Valid() {
			h.writeError(w, http.StatusBadRequest, "Unknown app state")
			return
		}
		// Remote sign-out failed; local state is already safe.
		log.Printf("level=warn component=api endpoint=app_state state=%s err=%v", req.State, err)
	}
	h.writeJSON(w, http.StatusOK, h.buildSessionResponse(r.Context(), mgr, recorder))
}

// LogoutHandler handles POST /session/logout. Teardown is idempotent; a
// remote sign-out failure never blocks the local logout.
func (h *PixHandlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	mgr, recorder := h.sessions.Handle(deviceID(r))
	if err := mgr.Logout(r.Context()); err != nil {
		log.Printf("level=warn component=api endpoint=logout msg=\"remote sign-out failed after local teardown\" err=%v", err)
	}
	h.writeJSON(w, http.StatusOK, h.buildSessionResponse(r.Context(), mgr, recorder))
}

// writeJSON is a helper for writing JSON responses.
func (h *PixHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *PixHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
