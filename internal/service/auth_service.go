package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/d4l-network/d4l-gateway/internal/domain"
	"github.com/d4l-network/d4l-gateway/internal/observability"
	"github.com/d4l-network/d4l-gateway/internal/repository"
	"github.com/d4l-network/d4l-gateway/internal/security"
)

// sessionStateTTL bounds how long a revoked session can still pass verify on
// another replica that cached it as active.
const sessionStateTTL = 30 * time.Second

type NonceChallenge struct {
	Address   string    `json:"address"`
	Nonce     string    `json:"nonce"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type LoginInput struct {
	Address   string
	Signature string
	Nonce     string
	UserAgent string
	IP        string
}

type LoginResult struct {
	Token     string
	Address   string
	TokenID   string
	ExpiresAt time.Time
}

type SessionInfo struct {
	Address   string
	TokenID   string
	ExpiresAt time.Time
}

type SessionView struct {
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	UserAgent string    `json:"userAgent"`
	IP        string    `json:"ip"`
	IsCurrent bool      `json:"isCurrent"`
}

type AuthService struct {
	nonces     NonceStore
	sessions   repository.SessionRepository
	stateCache SessionStateCache
	jwt        *security.JWTManager
	nonceTTL   time.Duration
	sessionTTL time.Duration
	now        func() time.Time
}

func NewAuthService(nonces NonceStore, sessions repository.SessionRepository, stateCache SessionStateCache, jwtMgr *security.JWTManager, nonceTTL, sessionTTL time.Duration) *AuthService {
	if stateCache == nil {
		stateCache = NewNoopSessionStateCache()
	}
	return &AuthService{
		nonces:     nonces,
		sessions:   sessions,
		stateCache: stateCache,
		jwt:        jwtMgr,
		nonceTTL:   nonceTTL,
		sessionTTL: sessionTTL,
		now:        time.Now,
	}
}

func (s *AuthService) IssueNonce(ctx context.Context, address string) (*NonceChallenge, error) {
	if !security.IsAddress(strings.TrimSpace(address)) {
		observability.RecordNonceIssued("invalid_address")
		return nil, ErrInvalidAddress
	}
	address = security.NormalizeAddress(address)
	nonce, err := security.NewNonce()
	if err != nil {
		observability.RecordNonceIssued("error")
		return nil, err
	}
	expiresAt := s.now().UTC().Add(s.nonceTTL).Truncate(time.Second)
	if err := s.nonces.Put(ctx, address, NonceRecord{Nonce: nonce, ExpiresAt: expiresAt}); err != nil {
		observability.RecordNonceIssued("error")
		return nil, err
	}
	observability.RecordNonceIssued("success")
	return &NonceChallenge{
		Address:   address,
		Nonce:     nonce,
		Message:   security.LoginMessage(address, nonce, expiresAt),
		ExpiresAt: expiresAt,
	}, nil
}

// Login verifies a signed challenge. The presented nonce is consumed before
// the signature is checked, so a captured login payload cannot be replayed. A
// login naming an unknown nonce consumes nothing.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	address := strings.TrimSpace(in.Address)
	if address == "" || strings.TrimSpace(in.Signature) == "" || strings.TrimSpace(in.Nonce) == "" {
		observability.RecordAuthLogin("bad_request")
		return nil, ErrMissingCredentials
	}
	if !security.IsAddress(address) {
		observability.RecordAuthLogin("bad_request")
		return nil, ErrInvalidAddress
	}

	rec, ok, err := s.nonces.Consume(ctx, address, strings.TrimSpace(in.Nonce))
	if err != nil {
		observability.RecordAuthLogin("error")
		return nil, err
	}
	if !ok {
		observability.RecordAuthLogin("invalid_nonce")
		return nil, ErrInvalidNonce
	}

	message := security.LoginMessage(security.NormalizeAddress(address), rec.Nonce, rec.ExpiresAt)
	if err := security.VerifyWalletSignature(address, message, in.Signature); err != nil {
		observability.RecordAuthLogin("invalid_signature")
		slog.WarnContext(ctx, "wallet signature rejected", "address", security.NormalizeAddress(address), "error", err)
		return nil, ErrInvalidSignature
	}

	token, claims, err := s.jwt.SignSessionToken(address, security.SignatureFingerprint(in.Signature), s.sessionTTL)
	if err != nil {
		observability.RecordAuthLogin("error")
		return nil, err
	}
	session := &domain.Session{
		WalletAddress:  claims.Address,
		TokenID:        claims.ID,
		SignatureProof: claims.SignatureProof,
		UserAgent:      truncate(in.UserAgent, 512),
		IP:             truncate(in.IP, 64),
		IssuedAt:       claims.IssuedAt.Time.UTC(),
		ExpiresAt:      claims.ExpiresAt.Time.UTC(),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		observability.RecordAuthLogin("error")
		return nil, err
	}
	observability.RecordAuthLogin("success")
	return &LoginResult{Token: token, Address: claims.Address, TokenID: claims.ID, ExpiresAt: session.ExpiresAt}, nil
}

// Verify checks a session token's signature and expiry, then its mirrored
// server-side state so that logout takes effect before the token expires.
func (s *AuthService) Verify(ctx context.Context, raw string) (*SessionInfo, error) {
	if strings.TrimSpace(raw) == "" {
		observability.RecordSessionTokenValidation(ctx, "missing", "verify")
		return nil, ErrSessionInvalid
	}
	claims, err := s.jwt.ParseSessionToken(raw)
	if err != nil {
		observability.RecordSessionTokenValidation(ctx, "invalid", "verify")
		return nil, ErrSessionInvalid
	}
	if expiresAt, ok, err := s.stateCache.Get(ctx, claims.Address, claims.ID); err == nil && ok {
		observability.RecordSessionTokenValidation(ctx, "valid", "cache")
		return &SessionInfo{Address: claims.Address, TokenID: claims.ID, ExpiresAt: expiresAt}, nil
	}

	session, err := s.sessions.FindActiveByTokenID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			observability.RecordSessionTokenValidation(ctx, "revoked", "verify")
			return nil, ErrSessionInvalid
		}
		return nil, err
	}
	if !security.SameAddress(session.WalletAddress, claims.Address) || session.SignatureProof != claims.SignatureProof {
		observability.RecordSessionTokenValidation(ctx, "mismatch", "verify")
		return nil, ErrSessionInvalid
	}
	_ = s.stateCache.Set(ctx, claims.Address, claims.ID, session.ExpiresAt, sessionStateTTL)
	observability.RecordSessionTokenValidation(ctx, "valid", "database")
	return &SessionInfo{Address: claims.Address, TokenID: claims.ID, ExpiresAt: session.ExpiresAt}, nil
}

// Logout revokes the token's session. An invalid token is not an error: the
// caller clears the cookie either way.
func (s *AuthService) Logout(ctx context.Context, raw string) error {
	claims, err := s.jwt.ParseSessionToken(raw)
	if err != nil {
		observability.RecordAuthLogout("invalid_token")
		return nil
	}
	if _, err := s.sessions.RevokeByTokenID(ctx, claims.ID); err != nil {
		observability.RecordAuthLogout("error")
		return err
	}
	_ = s.stateCache.InvalidateAddress(ctx, claims.Address)
	observability.RecordAuthLogout("success")
	return nil
}

func (s *AuthService) ListSessions(ctx context.Context, info *SessionInfo) ([]SessionView, error) {
	sessions, err := s.sessions.ListActiveByAddress(ctx, info.Address)
	if err != nil {
		return nil, err
	}
	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, SessionView{
			IssuedAt:  session.IssuedAt,
			ExpiresAt: session.ExpiresAt,
			UserAgent: session.UserAgent,
			IP:        session.IP,
			IsCurrent: session.TokenID == info.TokenID,
		})
	}
	return views, nil
}

func (s *AuthService) LogoutAll(ctx context.Context, address string) (int64, error) {
	n, err := s.sessions.RevokeByAddress(ctx, security.NormalizeAddress(address))
	if err != nil {
		observability.RecordAuthLogout("error")
		return 0, err
	}
	_ = s.stateCache.InvalidateAddress(ctx, address)
	observability.RecordAuthLogout("success_all")
	return n, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
