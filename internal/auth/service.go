package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	pkgAuth "github.com/angelmondragon/apexlabs-backend/pkg/auth"
	"github.com/angelmondragon/apexlabs-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/apexlabs-backend/pkg/errors"
	"github.com/angelmondragon/apexlabs-backend/pkg/security"
)

const invalidCredentialsMessage = "invalid credentials"

// Service defines the behavior needed by the admin auth controller.
type Service interface {
	Login(ctx context.Context, req LoginRequest) (*LoginResponse, error)
	Logout(ctx context.Context, accessID string) error
}

type sessionManager interface {
	Create(ctx context.Context) (string, error)
	Revoke(ctx context.Context, accessID string) error
}

type passwordVerifier func(password, encoded string) (bool, error)

type service struct {
	session      sessionManager
	jwtCfg       config.JWTConfig
	passwordHash string
	verify       passwordVerifier
	now          func() time.Time
}

// ServiceParams bundles the dependencies required to build an auth service.
type ServiceParams struct {
	SessionManager sessionManager
	JWTConfig      config.JWTConfig
	// PasswordHash is the argon2id hash of the shared admin password.
	PasswordHash string
}

// NewService constructs the admin login service.
func NewService(params ServiceParams) (Service, error) {
	if params.SessionManager == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if strings.TrimSpace(params.PasswordHash) == "" {
		return nil, fmt.Errorf("admin password hash is required")
	}
	return &service{
		session:      params.SessionManager,
		jwtCfg:       params.JWTConfig,
		passwordHash: strings.TrimSpace(params.PasswordHash),
		verify:       security.VerifyPassword,
		now:          time.Now,
	}, nil
}

func (s *service) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	if strings.TrimSpace(req.Password) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "password is required")
	}

	ok, err := s.verify(req.Password, s.passwordHash)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify admin password")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}

	accessID, err := s.session.Create(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create admin session")
	}

	token, expiresAt, err := pkgAuth.MintAdminToken(s.jwtCfg, s.now().UTC(), accessID)
	if err != nil {
		_ = s.session.Revoke(context.WithoutCancel(ctx), accessID)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint admin token")
	}

	return &LoginResponse{Token: token, ExpiresAt: expiresAt}, nil
}

func (s *service) Logout(ctx context.Context, accessID string) error {
	if strings.TrimSpace(accessID) == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "admin session required")
	}
	if err := s.session.Revoke(ctx, accessID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "revoke admin session")
	}
	return nil
}
