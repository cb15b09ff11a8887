package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/telecare/telecare/internal/platform/apperr"
	"github.com/telecare/telecare/internal/platform/kv"
)

const (
	accountKeyPrefix  = "auth_account:"
	minPasswordLength = 6
	localIssuer       = "telecare"
)

// Account is a stored credential record.
type Account struct {
	ID           string                 `json:"id"`
	Email        string                 `json:"email"`
	PasswordHash string                 `json:"passwordHash"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
}

// User is the public view of an account, shaped like a hosted identity
// provider's user object.
type User struct {
	ID           string                 `json:"id"`
	Email        string                 `json:"email"`
	UserMetadata map[string]interface{} `json:"user_metadata,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

type NewUser struct {
	Email    string
	Password string
	Metadata map[string]interface{}
}

// Session is the result of a successful login.
type Session struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int64  `json:"expiresIn"`
	User        *User  `json:"user"`
}

// LocalProvider stands in for a hosted identity provider: it keeps bcrypt
// hashed credentials in the record store and issues HS256 tokens that a
// JWTVerifier built from LocalProvider.VerifierConfig accepts.
type LocalProvider struct {
	store      kv.Store
	signingKey []byte
	ttl        time.Duration
	hashCost   int
	now        func() time.Time
}

func NewLocalProvider(store kv.Store, signingKey []byte, ttl time.Duration) *LocalProvider {
	return &LocalProvider{
		store:      store,
		signingKey: signingKey,
		ttl:        ttl,
		hashCost:   bcrypt.DefaultCost,
		now:        time.Now,
	}
}

// SetHashCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func (p *LocalProvider) SetHashCost(cost int) { p.hashCost = cost }

// VerifierConfig returns the config for verifying tokens this provider issues.
func (p *LocalProvider) VerifierConfig() JWTConfig {
	return JWTConfig{SigningKey: p.signingKey, Issuer: localIssuer}
}

func accountKey(email string) string {
	return accountKeyPrefix + strings.ToLower(strings.TrimSpace(email))
}

// CreateUser registers a new account. The account id is a fresh UUID.
func (p *LocalProvider) CreateUser(ctx context.Context, nu NewUser) (*User, error) {
	email := strings.TrimSpace(nu.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperr.Validation("Invalid email address")
	}
	if len(nu.Password) < minPasswordLength {
		return nil, apperr.Validation("Password should be at least %d characters", minPasswordLength)
	}

	key := accountKey(email)
	if _, err := p.store.Get(ctx, key); err == nil {
		return nil, apperr.Validation("A user with this email address has already been registered")
	} else if !errors.Is(err, kv.ErrNotFound) {
		return nil, apperr.Internal("lookup account", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(nu.Password), p.hashCost)
	if err != nil {
		return nil, apperr.Internal("hash password", err)
	}

	acct := &Account{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
		Metadata:     nu.Metadata,
		CreatedAt:    p.now().UTC(),
	}
	if err := kv.SetJSON(ctx, p.store, key, acct); err != nil {
		return nil, apperr.Internal("store account", err)
	}
	return acct.user(), nil
}

// DeleteUser removes the account registered under email. A missing account
// is not an error.
func (p *LocalProvider) DeleteUser(ctx context.Context, email string) error {
	if err := p.store.Delete(ctx, accountKey(email)); err != nil {
		return apperr.Internal("delete account", err)
	}
	return nil
}

// Login checks credentials and issues an access token.
func (p *LocalProvider) Login(ctx context.Context, email, password string) (*Session, error) {
	var acct Account
	if err := kv.GetJSON(ctx, p.store, accountKey(email), &acct); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, apperr.Unauthorized("Invalid login credentials")
		}
		return nil, apperr.Internal("lookup account", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) != nil {
		return nil, apperr.Unauthorized("Invalid login credentials")
	}

	u := acct.user()
	token, err := p.IssueToken(u)
	if err != nil {
		return nil, apperr.Internal("issue token", err)
	}
	return &Session{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(p.ttl.Seconds()),
		User:        u,
	}, nil
}

// IssueToken signs an access token for u.
func (p *LocalProvider) IssueToken(u *User) (string, error) {
	now := p.now()
	userType, _ := u.UserMetadata["userType"].(string)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    localIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
			ID:        uuid.New().String(),
		},
		Email:    u.Email,
		UserType: userType,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (a *Account) user() *User {
	return &User{ID: a.ID, Email: a.Email, UserMetadata: a.Metadata, CreatedAt: a.CreatedAt}
}
