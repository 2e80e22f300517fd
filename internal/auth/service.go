package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"
)

const (
	RoleAdmin   = "admin"
	RoleCreator = "creator"
)

var (
	// ErrDuplicateEmail is returned when registering with an email that already exists.
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidRole        = errors.New("invalid role")
	ErrInvalidToken       = errors.New("invalid token")
)

// Operator is a dashboard login: an admin, or a creator bound to one creator record.
type Operator struct {
	ID          uuid.UUID  `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	Role        string     `json:"role"`
	CreatorID   *uuid.UUID `json:"creator_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Claims is what a validated token says about its bearer.
type Claims struct {
	OperatorID uuid.UUID
	Role       string
	CreatorID  *uuid.UUID
}

// CanRead reports whether the bearer may read the given creator's data.
func (c *Claims) CanRead(creatorID uuid.UUID) bool {
	if c == nil {
		return false
	}
	if c.Role == RoleAdmin {
		return true
	}
	return c.Role == RoleCreator && c.CreatorID != nil && *c.CreatorID == creatorID
}

type RegisterInput struct {
	Email       string     `json:"email"`
	Password    string     `json:"password"`
	DisplayName string     `json:"display_name"`
	Role        string     `json:"role"`
	CreatorID   *uuid.UUID `json:"creator_id"`
}

type Service interface {
	Register(ctx context.Context, in RegisterInput) (*Operator, error)
	Login(ctx context.Context, email, password string) (string, error)
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

type Store interface {
	Create(ctx context.Context, op *Operator, passwordHash string) error
	// GetByEmail returns nil without error when no operator has the email.
	GetByEmail(ctx context.Context, email string) (*Operator, string, error)
}

type service struct {
	repo   Store
	secret []byte
	ttl    time.Duration
	clock  clockwork.Clock
	cost   int
}

func NewService(repo Store, secret string, ttl time.Duration, clock clockwork.Clock) *service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &service{repo: repo, secret: []byte(secret), ttl: ttl, clock: clock, cost: bcrypt.DefaultCost}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
	Role      string `json:"role"`
	CreatorID string `json:"creator_id,omitempty"`
}

func (s *service) Register(ctx context.Context, in RegisterInput) (*Operator, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || in.Password == "" {
		return nil, errors.New("email and password are required")
	}
	switch in.Role {
	case RoleAdmin:
		in.CreatorID = nil
	case RoleCreator:
		if in.CreatorID == nil {
			return nil, fmt.Errorf("%w: creator logins need a creator_id", ErrInvalidRole)
		}
	default:
		return nil, ErrInvalidRole
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, err
	}
	op := &Operator{
		ID:          uuid.New(),
		Email:       email,
		DisplayName: strings.TrimSpace(in.DisplayName),
		Role:        in.Role,
		CreatorID:   in.CreatorID,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.repo.Create(ctx, op, string(hash)); err != nil {
		return nil, err
	}
	return op, nil
}

// EnsureAdmin registers an admin with the given credentials unless the email is taken.
func (s *service) EnsureAdmin(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return nil
	}
	existing, _, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	_, err = s.Register(ctx, RegisterInput{Email: email, Password: password, DisplayName: "Administrator", Role: RoleAdmin})
	return err
}

func (s *service) Login(ctx context.Context, email, password string) (string, error) {
	op, hash, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return "", err
	}
	if op == nil {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.issueToken(op)
}

func (s *service) issueToken(op *Operator) (string, error) {
	now := s.clock.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   op.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Role: op.Role,
	}
	if op.CreatorID != nil {
		c.CreatorID = op.CreatorID.String()
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return nil, ErrInvalidToken
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: subject: %v", ErrInvalidToken, err)
	}
	out := &Claims{OperatorID: id, Role: c.Role}
	if c.CreatorID != "" {
		cid, err := uuid.Parse(c.CreatorID)
		if err != nil {
			return nil, fmt.Errorf("%w: creator_id: %v", ErrInvalidToken, err)
		}
		out.CreatorID = &cid
	}
	return out, nil
}
