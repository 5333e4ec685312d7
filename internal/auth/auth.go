package auth

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/matthewgall/binder/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserDisabled       = errors.New("user disabled")
	ErrSessionExpired     = errors.New("session expired")
	ErrNoSession          = errors.New("no active session")
)

const (
	SessionCookieName = "binder_session"

	defaultTokenTTL        = 24 * time.Hour
	defaultIdleTimeout     = 3 * time.Hour
	defaultRefreshInterval = time.Hour
	issuer                 = "binder"
)

type Claims struct {
	SessionID   string `json:"sid"`
	UserID      int64  `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	LastActive  int64  `json:"last_active"`
	jwt.RegisteredClaims
}

// Session is what the identity provider hands a signed-in client.
type Session struct {
	ID          string
	UserID      int64
	Email       string
	DisplayName string
	Token       string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	LastActive  time.Time
}

type Options struct {
	BcryptCost      int
	TokenTTL        time.Duration
	IdleTimeout     time.Duration
	RefreshInterval time.Duration
	Now             func() time.Time
}

type AuthService struct {
	secretKey       []byte
	bcryptCost      int
	tokenTTL        time.Duration
	idleTimeout     time.Duration
	refreshInterval time.Duration
	now             func() time.Time
}

func NewAuthService(secretKey string, opts Options) *AuthService {
	s := &AuthService{
		secretKey:       []byte(secretKey),
		bcryptCost:      opts.BcryptCost,
		tokenTTL:        opts.TokenTTL,
		idleTimeout:     opts.IdleTimeout,
		refreshInterval: opts.RefreshInterval,
		now:             opts.Now,
	}
	if s.bcryptCost < bcrypt.MinCost || s.bcryptCost > bcrypt.MaxCost {
		s.bcryptCost = bcrypt.DefaultCost
	}
	if s.tokenTTL <= 0 {
		s.tokenTTL = defaultTokenTTL
	}
	if s.idleTimeout <= 0 {
		s.idleTimeout = defaultIdleTimeout
	}
	if s.refreshInterval <= 0 {
		s.refreshInterval = defaultRefreshInterval
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (s *AuthService) CheckPassword(password, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// IssueSession signs a fresh token for user. An empty sessionID starts a new session.
func (s *AuthService) IssueSession(user *models.User, sessionID string, lastActive time.Time) (*Session, error) {
	if user == nil || user.ID == 0 {
		return nil, ErrUserNotFound
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	now := s.now()
	expiresAt := now.Add(s.tokenTTL)
	claims := &Claims{
		SessionID:   sessionID,
		UserID:      user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		LastActive:  lastActive.Unix(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   fmt.Sprintf("%d", user.ID),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
	if err != nil {
		return nil, fmt.Errorf("signing session token: %w", err)
	}

	return &Session{
		ID:          sessionID,
		UserID:      user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Token:       token,
		IssuedAt:    now.Truncate(time.Second),
		ExpiresAt:   expiresAt.Truncate(time.Second),
		LastActive:  lastActive,
	}, nil
}

func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return s.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// SessionFromClaims rebuilds a session from a validated token.
func SessionFromClaims(token string, claims *Claims) *Session {
	session := &Session{
		ID:          claims.SessionID,
		UserID:      claims.UserID,
		Email:       claims.Email,
		DisplayName: claims.DisplayName,
		Token:       token,
		LastActive:  time.Unix(claims.LastActive, 0),
	}
	if claims.IssuedAt != nil {
		session.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session
}

func (s *AuthService) idle(session *Session) bool {
	return s.now().Sub(session.LastActive) > s.idleTimeout
}

func (s *AuthService) needsRefresh(session *Session) bool {
	return s.now().Sub(session.IssuedAt) >= s.refreshInterval
}

func secureCookies() bool {
	return os.Getenv("BINDER_ENV") == "production"
}

func SetSessionCookie(w http.ResponseWriter, session *Session) {
	maxAge := int(time.Until(session.ExpiresAt).Seconds())
	if maxAge <= 0 {
		maxAge = int(defaultTokenTTL.Seconds())
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    session.Token,
		Path:     "/",
		MaxAge:   maxAge,
		Secure:   secureCookies(),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   secureCookies(),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func GetSessionCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}
