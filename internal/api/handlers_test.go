package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rosebank/pix-service/internal/app"
	"github.com/rosebank/pix-service/internal/domain"
	"github.com/rosebank/pix-service/internal/session"
	"github.com/rosebank/pix-service/internal/store"
)

// sessionAuthStub answers every auth call with the configured session.
type sessionAuthStub struct {
	session *domain.Session
}

func (s *sessionAuthStub) GetSession(ctx context.Context, accessToken string) (*domain.Session, error) {
	return s.session, nil
}

func (s *sessionAuthStub) SignInWithPassword(ctx context.Context, identifier, secret string) (*domain.Session, error) {
	return s.session, nil
}

func (s *sessionAuthStub) SignOut(ctx context.Context, accessToken string) error {
	return nil
}

// credentialRepoStub serves only the PIN credential lookup.
type credentialRepoStub struct {
	store.Repository

	credential *domain.UserSecurityCredential
}

func (r *credentialRepoStub) GetUserSecurityCredentialByUserID(ctx context.Context, userID uuid.UUID) (*domain.UserSecurityCredential, error) {
	if r.credential == nil || r.credential.TransactionPINHash == "" {
		return nil, store.ErrTransactionPINNotSet
	}
	copied := *r.credential
	return &copied, nil
}

func sessionTestHandlers(repo store.Repository, userID uuid.UUID) *PixHandlers {
	svc := app.NewService(repo, nil, nil, nil, app.Config{})
	auth := &sessionAuthStub{session: &domain.Session{
		UserID:      userID.String(),
		Email:       "ana@example.com",
		AccessToken: "token-1",
	}}
	registry := session.NewRegistry(auth, time.Minute)
	return NewPixHandlers(svc, registry, 2*time.Minute, 100)
}

func postLogin(t *testing.T, h *PixHandlers) sessionResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/session/login",
		strings.NewReader(`{"email":"ana@example.com","password":"secret"}`))
	req.Header.Set("X-Device-Id", "device-1")
	rec := httptest.NewRecorder()

	h.LoginHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login returned status %d: %s", rec.Code, rec.Body.String())
	}

	var resp sessionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode session response: %v", err)
	}
	return resp
}

func TestLoginHandler_ReportsTransactionPINExistence(t *testing.T) {
	userID := uuid.New()
	repo := &credentialRepoStub{credential: &domain.UserSecurityCredential{
		UserID:             userID,
		TransactionPINHash: "$2a$04$notarealhashnotarealhashnotarea",
	}}

	resp := postLogin(t, sessionTestHandlers(repo, userID))
	if !resp.Authenticated {
		t.Fatal("expected an authenticated session response")
	}
	if resp.UserID != userID.String() {
		t.Fatalf("expected user id %s, got %s", userID, resp.UserID)
	}
	if !resp.HasTransactionPIN {
		t.Fatal("expected has_transaction_pin to reflect the stored credential")
	}
}

func TestLoginHandler_ReportsMissingTransactionPIN(t *testing.T) {
	userID := uuid.New()

	resp := postLogin(t, sessionTestHandlers(&credentialRepoStub{}, userID))
	if !resp.Authenticated {
		t.Fatal("expected an authenticated session response")
	}
	if resp.HasTransactionPIN {
		t.Fatal("expected has_transaction_pin to be false before PIN creation")
	}
}
