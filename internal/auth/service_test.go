package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	pkgAuth "github.com/angelmondragon/apexlabs-backend/pkg/auth"
	"github.com/angelmondragon/apexlabs-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/apexlabs-backend/pkg/errors"
	"github.com/angelmondragon/apexlabs-backend/pkg/security"
)

type stubSessions struct {
	created   []string
	revoked   []string
	createErr error
}

func (s *stubSessions) Create(context.Context) (string, error) {
	if s.createErr != nil {
		return "", s.createErr
	}
	id := "session-" + string(rune('a'+len(s.created)))
	s.created = append(s.created, id)
	return id, nil
}

func (s *stubSessions) Revoke(_ context.Context, accessID string) error {
	s.revoked = append(s.revoked, accessID)
	return nil
}

func testConfig() config.JWTConfig {
	return config.JWTConfig{Secret: "secret", Issuer: "apexlabs", ExpirationMinutes: 1440}
}

func testHash(t *testing.T) string {
	t.Helper()
	hash, err := security.HashPassword("correct horse", config.PasswordConfig{
		ArgonMemoryKB: 8 * 1024, ArgonTime: 1, ArgonParallelism: 1, ArgonSaltLen: 16, ArgonKeyLen: 32,
	})
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return hash
}

func newTestService(t *testing.T, sessions *stubSessions) *service {
	t.Helper()
	svc, err := NewService(ServiceParams{SessionManager: sessions, JWTConfig: testConfig(), PasswordHash: testHash(t)})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	impl := svc.(*service)
	impl.now = func() time.Time { return time.Now().UTC() }
	return impl
}

func TestLoginIssuesTokenBoundToSession(t *testing.T) {
	sessions := &stubSessions{}
	svc := newTestService(t, sessions)

	resp, err := svc.Login(context.Background(), LoginRequest{Password: "correct horse"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := pkgAuth.ParseAdminToken(testConfig(), resp.Token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if len(sessions.created) != 1 || claims.ID != sessions.created[0] {
		t.Fatalf("token jti %q not bound to session %v", claims.ID, sessions.created)
	}
	if time.Until(resp.ExpiresAt) < 23*time.Hour {
		t.Fatalf("expected ~24h expiry, got %v", resp.ExpiresAt)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	sessions := &stubSessions{}
	svc := newTestService(t, sessions)

	_, err := svc.Login(context.Background(), LoginRequest{Password: "wrong"})
	if !pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if len(sessions.created) != 0 {
		t.Fatalf("no session should be created on failure")
	}

	_, err = svc.Login(context.Background(), LoginRequest{Password: " "})
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLoginSessionStoreDown(t *testing.T) {
	svc := newTestService(t, &stubSessions{createErr: errors.New("redis down")})
	_, err := svc.Login(context.Background(), LoginRequest{Password: "correct horse"})
	if !pkgerrors.HasCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	sessions := &stubSessions{}
	svc := newTestService(t, sessions)

	if err := svc.Logout(context.Background(), "session-a"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if len(sessions.revoked) != 1 || sessions.revoked[0] != "session-a" {
		t.Fatalf("unexpected revoked sessions %v", sessions.revoked)
	}
	if err := svc.Logout(context.Background(), ""); !pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized for blank session, got %v", err)
	}
}

func TestNewServiceRequiresHash(t *testing.T) {
	if _, err := NewService(ServiceParams{SessionManager: &stubSessions{}}); err == nil {
		t.Fatal("expected missing hash error")
	}
}
