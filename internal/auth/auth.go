package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/unifi/internal/db"
	"github.com/xtrntr/unifi/internal/models"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrDuplicateIdentity is returned when the email or wallet is already registered
	ErrDuplicateIdentity = errors.New("identity already registered")
	// ErrEmailRegistered is the email flavour of ErrDuplicateIdentity
	ErrEmailRegistered = fmt.Errorf("email already registered: %w", ErrDuplicateIdentity)
	// ErrWalletRegistered is the wallet flavour of ErrDuplicateIdentity
	ErrWalletRegistered = fmt.Errorf("wallet already registered: %w", ErrDuplicateIdentity)

	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrWalletNotRegistered = errors.New("wallet not registered")
	ErrSignatureUnverified = errors.New("wallet signature verification is not available")
	ErrInvalidToken        = errors.New("invalid or expired token")
	ErrUserNotFound        = errors.New("user not found")
)

// Session is an authenticated user together with a signed token
type Session struct {
	User      *models.User
	Token     string
	ExpiresAt time.Time
}

// ProfileUpdate holds the editable profile fields. Nil fields are left unchanged;
// an empty wallet address removes the wallet.
type ProfileUpdate struct {
	Name          *string `json:"name"`
	Avatar        *string `json:"avatar"`
	WalletAddress *string `json:"walletAddress"`
}

// Service handles user authentication and profiles
type Service struct {
	Store          db.Store
	Tokens         *Tokens
	Verifier       SignatureVerifier
	InitialBalance decimal.Decimal
	Logger         *slog.Logger

	now func() time.Time
}

// NewService creates an auth service that rejects wallet signatures until a verifier is set
func NewService(store db.Store, tokens *Tokens) *Service {
	return &Service{
		Store:    store,
		Tokens:   tokens,
		Verifier: RejectUnverified{},
		Logger:   slog.Default(),
		now:      time.Now,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Register creates the user and its portfolio in one transaction and signs a token
func (s *Service) Register(ctx context.Context, reg Registration) (*Session, error) {
	if reg == nil {
		return nil, models.Invalid("", "credentials required")
	}
	if err := reg.validate(); err != nil {
		return nil, err
	}

	user := &models.User{
		ID:       uuid.NewString(),
		JoinDate: s.now().UTC(),
	}

	switch r := reg.(type) {
	case PasswordRegistration:
		hash, err := bcrypt.GenerateFromPassword([]byte(r.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		user.Email = &r.Email
		user.PasswordHash = string(hash)
		user.Name = r.Username
		user.WalletAddress = optional(r.WalletAddress)
	case WalletRegistration:
		user.WalletAddress = &r.WalletAddress
		user.Email = optional(r.Email)
		user.Name = r.Name
		user.Avatar = r.Avatar
	default:
		return nil, models.Invalid("", "unsupported credentials")
	}

	portfolio := &models.Portfolio{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Balance:   s.InitialBalance,
		TotalPL:   decimal.Zero,
		UpdatedAt: user.JoinDate,
	}

	err := s.Store.WithTx(ctx, func(tx db.Queries) error {
		if err := checkIdentityFree(ctx, tx, user); err != nil {
			return err
		}
		if err := tx.CreateUser(ctx, user); err != nil {
			if errors.Is(err, db.ErrDuplicate) {
				return ErrDuplicateIdentity
			}
			return err
		}
		return tx.CreatePortfolio(ctx, portfolio)
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateIdentity) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to register user: %w", err)
	}

	s.Logger.InfoContext(ctx, "user registered", "user_id", user.ID, "wallet", user.WalletAddress != nil)
	user.Portfolio = portfolio
	return s.issue(user)
}

func checkIdentityFree(ctx context.Context, q db.Queries, user *models.User) error {
	if user.Email != nil {
		if err := lookupFree(q.GetUserByEmail(ctx, *user.Email)); err != nil {
			if errors.Is(err, ErrDuplicateIdentity) {
				return ErrEmailRegistered
			}
			return err
		}
	}
	if user.WalletAddress != nil {
		if err := lookupFree(q.GetUserByWallet(ctx, *user.WalletAddress)); err != nil {
			if errors.Is(err, ErrDuplicateIdentity) {
				return ErrWalletRegistered
			}
			return err
		}
	}
	return nil
}

func lookupFree(existing *models.User, err error) error {
	switch {
	case err == nil:
		return ErrDuplicateIdentity
	case errors.Is(err, db.ErrNotFound):
		return nil
	default:
		return err
	}
}

// Login verifies credentials and signs a token
func (s *Service) Login(ctx context.Context, creds LoginCredentials) (*Session, error) {
	if creds == nil {
		return nil, models.Invalid("", "credentials required")
	}
	if err := creds.validate(); err != nil {
		return nil, err
	}

	switch c := creds.(type) {
	case PasswordLogin:
		user, err := s.Store.GetUserByEmail(ctx, c.Email)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return nil, ErrInvalidCredentials
			}
			return nil, err
		}
		if !user.HasPassword() {
			return nil, ErrInvalidCredentials
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(c.Password)); err != nil {
			return nil, ErrInvalidCredentials
		}
		return s.issue(user)

	case WalletLogin:
		user, err := s.Store.GetUserByWallet(ctx, c.WalletAddress)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return nil, ErrWalletNotRegistered
			}
			return nil, err
		}
		if err := s.Verifier.Verify(ctx, c.WalletAddress, c.Signature); err != nil {
			s.Logger.WarnContext(ctx, "wallet login refused", "user_id", user.ID, "error", err)
			return nil, err
		}
		return s.issue(user)
	}
	return nil, models.Invalid("", "unsupported credentials")
}

// Authenticate validates a token and loads the user it was issued for
func (s *Service) Authenticate(ctx context.Context, token string) (*models.User, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return nil, ErrInvalidToken
	}
	userID, err := s.Tokens.Validate(token)
	if err != nil {
		return nil, err
	}
	user, err := s.Store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// Refresh issues a new token with a full lifetime for an authenticated user
func (s *Service) Refresh(ctx context.Context, userID string) (*Session, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.issue(user)
}

// GetUser loads a user together with its portfolio
func (s *Service) GetUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.Store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	portfolio, err := s.Store.GetPortfolio(ctx, userID)
	switch {
	case err == nil:
		user.Portfolio = portfolio
	case !errors.Is(err, db.ErrNotFound):
		return nil, err
	}
	return user, nil
}

// UpdateProfile changes name, avatar and wallet address
func (s *Service) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (*models.User, error) {
	user, err := s.Store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if err := validateName("name", name); err != nil {
			return nil, err
		}
		user.Name = name
	}
	if update.Avatar != nil {
		user.Avatar = strings.TrimSpace(*update.Avatar)
	}
	if update.WalletAddress != nil {
		wallet := strings.TrimSpace(*update.WalletAddress)
		if wallet != "" {
			if err := ValidateWallet(wallet); err != nil {
				return nil, err
			}
		}
		if wallet == "" && user.Email == nil {
			return nil, models.Invalid("walletAddress", "cannot be removed from an account without email")
		}
		user.WalletAddress = optional(wallet)
	}

	if err := s.Store.UpdateUser(ctx, user); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return nil, ErrWalletRegistered
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return user, nil
}

func (s *Service) issue(user *models.User) (*Session, error) {
	token, expiresAt, err := s.Tokens.Issue(user.ID)
	if err != nil {
		return nil, err
	}
	return &Session{User: user, Token: token, ExpiresAt: expiresAt}, nil
}
