package auth

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/xtrntr/unifi/internal/models"
)

var (
	emailPattern  = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	walletPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

const (
	minPasswordLength = 6
	maxPasswordLength = 72 // bcrypt input limit
	minNameLength     = 2
	// column widths of users.name and users.email
	maxNameLength  = 100
	maxEmailLength = 255
)

// Registration is either a PasswordRegistration or a WalletRegistration
type Registration interface {
	validate() error
}

// PasswordRegistration signs up with email and password
type PasswordRegistration struct {
	Email         string
	Password      string
	Username      string
	WalletAddress string
}

// WalletRegistration signs up with a wallet address only
type WalletRegistration struct {
	WalletAddress string
	Name          string
	Email         string
	Avatar        string
}

// LoginCredentials is either a PasswordLogin or a WalletLogin
type LoginCredentials interface {
	validate() error
}

// PasswordLogin authenticates with email and password
type PasswordLogin struct {
	Email    string
	Password string
}

// WalletLogin authenticates with a wallet address and a signed message
type WalletLogin struct {
	WalletAddress string
	Signature     string
}

// credentialPayload is the union of every accepted JSON field
type credentialPayload struct {
	Email         *string `json:"email"`
	Password      *string `json:"password"`
	Username      *string `json:"username"`
	WalletAddress *string `json:"walletAddress"`
	Name          *string `json:"name"`
	Avatar        *string `json:"avatar"`
	Signature     *string `json:"signature"`
}

func value(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func decodePayload(data []byte) (*credentialPayload, error) {
	var p credentialPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, models.Invalid("", "invalid request body")
	}
	return &p, nil
}

// ParseRegistration picks the registration kind from the payload shape:
// a password field means email registration, anything else is a wallet registration.
func ParseRegistration(data []byte) (Registration, error) {
	p, err := decodePayload(data)
	if err != nil {
		return nil, err
	}
	var reg Registration
	if p.Password != nil {
		reg = PasswordRegistration{
			Email:         normalizeEmail(value(p.Email)),
			Password:      *p.Password,
			Username:      value(p.Username),
			WalletAddress: value(p.WalletAddress),
		}
	} else {
		reg = WalletRegistration{
			WalletAddress: value(p.WalletAddress),
			Name:          value(p.Name),
			Email:         normalizeEmail(value(p.Email)),
			Avatar:        value(p.Avatar),
		}
	}
	if err := reg.validate(); err != nil {
		return nil, err
	}
	return reg, nil
}

// ParseLogin picks the login kind from the payload shape the same way ParseRegistration does
func ParseLogin(data []byte) (LoginCredentials, error) {
	p, err := decodePayload(data)
	if err != nil {
		return nil, err
	}
	var creds LoginCredentials
	if p.Password != nil {
		creds = PasswordLogin{Email: normalizeEmail(value(p.Email)), Password: *p.Password}
	} else {
		creds = WalletLogin{WalletAddress: value(p.WalletAddress), Signature: value(p.Signature)}
	}
	if err := creds.validate(); err != nil {
		return nil, err
	}
	return creds, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(email)
}

func validateEmail(email string) error {
	if utf8.RuneCountInString(email) > maxEmailLength {
		return models.Invalid("email", "must be at most 255 characters")
	}
	if !emailPattern.MatchString(email) {
		return models.Invalid("email", "must be a valid email address")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return models.Invalid("password", "must be at least 6 characters")
	}
	if len(password) > maxPasswordLength {
		return models.Invalid("password", "must be at most 72 characters")
	}
	return nil
}

// ValidateWallet checks the 42 character 0x-prefixed hex form
func ValidateWallet(wallet string) error {
	if !walletPattern.MatchString(wallet) {
		return models.Invalid("walletAddress", "must be a valid 42-character Ethereum address starting with 0x")
	}
	return nil
}

func validateName(field, name string) error {
	n := utf8.RuneCountInString(name)
	if n < minNameLength {
		return models.Invalid(field, "must be at least 2 characters")
	}
	if n > maxNameLength {
		return models.Invalid(field, "must be at most 100 characters")
	}
	return nil
}

func (r PasswordRegistration) validate() error {
	if err := validateEmail(r.Email); err != nil {
		return err
	}
	if err := validatePassword(r.Password); err != nil {
		return err
	}
	if err := validateName("username", r.Username); err != nil {
		return err
	}
	if r.WalletAddress != "" {
		return ValidateWallet(r.WalletAddress)
	}
	return nil
}

func (r WalletRegistration) validate() error {
	if err := ValidateWallet(r.WalletAddress); err != nil {
		return err
	}
	if r.Name != "" {
		if err := validateName("name", r.Name); err != nil {
			return err
		}
	}
	if r.Email != "" {
		return validateEmail(r.Email)
	}
	return nil
}

func (l PasswordLogin) validate() error {
	if err := validateEmail(l.Email); err != nil {
		return err
	}
	if l.Password == "" {
		return models.Invalid("password", "is required")
	}
	return nil
}

func (l WalletLogin) validate() error {
	if err := ValidateWallet(l.WalletAddress); err != nil {
		return err
	}
	if l.Signature == "" {
		return models.Invalid("signature", "is required")
	}
	return nil
}
