package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/unifi/internal/db"
	"github.com/xtrntr/unifi/internal/models"
)

var testWallet = "0x" + strings.Repeat("ab", 20)

func newTestService(t *testing.T) (*Service, *db.Memory) {
	t.Helper()
	store := db.NewMemory()
	tokens, err := NewTokens("test-secret", 0)
	require.NoError(t, err)
	return NewService(store, tokens), store
}

func TestParseRegistration(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantKind  Registration
		wantField string
	}{
		{
			name:     "PasswordShape",
			body:     `{"email":"A@X.com","password":"secret1","username":"alice"}`,
			wantKind: PasswordRegistration{},
		},
		{
			name:     "WalletShape",
			body:     `{"walletAddress":"` + testWallet + `","name":"bob"}`,
			wantKind: WalletRegistration{},
		},
		{
			name:      "ShortPassword",
			body:      `{"email":"a@x.com","password":"123","username":"alice"}`,
			wantField: "password",
		},
		{
			name:      "BadEmail",
			body:      `{"email":"not-an-email","password":"secret1","username":"alice"}`,
			wantField: "email",
		},
		{
			name:      "ShortUsername",
			body:      `{"email":"a@x.com","password":"secret1","username":"a"}`,
			wantField: "username",
		},
		{
			name:      "LongUsername",
			body:      `{"email":"a@x.com","password":"secret1","username":"` + strings.Repeat("n", 101) + `"}`,
			wantField: "username",
		},
		{
			name:     "UsernameAtColumnWidth",
			body:     `{"email":"a@x.com","password":"secret1","username":"` + strings.Repeat("n", 100) + `"}`,
			wantKind: PasswordRegistration{},
		},
		{
			name:      "LongEmail",
			body:      `{"email":"` + strings.Repeat("e", 250) + `@x.com","password":"secret1","username":"alice"}`,
			wantField: "email",
		},
		{
			name:      "WalletWithLongName",
			body:      `{"walletAddress":"` + testWallet + `","name":"` + strings.Repeat("n", 101) + `"}`,
			wantField: "name",
		},
		{
			name:      "PasswordWithBadWallet",
			body:      `{"email":"a@x.com","password":"secret1","username":"alice","walletAddress":"0x123"}`,
			wantField: "walletAddress",
		},
		{
			name:      "WalletWrongLength",
			body:      `{"walletAddress":"0xabc"}`,
			wantField: "walletAddress",
		},
		{
			name:      "WalletMissingPrefix",
			body:      `{"walletAddress":"` + strings.Repeat("a", 42) + `"}`,
			wantField: "walletAddress",
		},
		{
			name:      "EmptyBody",
			body:      `{}`,
			wantField: "walletAddress",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := ParseRegistration([]byte(tt.body))
			if tt.wantField != "" {
				var verr *models.ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, tt.wantField, verr.Field)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.wantKind, reg)
		})
	}
}

func TestParseRegistration_NormalizesEmail(t *testing.T) {
	reg, err := ParseRegistration([]byte(`{"email":" Alice@X.com ","password":"secret1","username":"alice"}`))
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", reg.(PasswordRegistration).Email)
}

func TestParseLogin(t *testing.T) {
	creds, err := ParseLogin([]byte(`{"email":"a@x.com","password":"secret1"}`))
	require.NoError(t, err)
	assert.IsType(t, PasswordLogin{}, creds)

	creds, err = ParseLogin([]byte(`{"walletAddress":"` + testWallet + `","signature":"0xsig"}`))
	require.NoError(t, err)
	assert.IsType(t, WalletLogin{}, creds)

	_, err = ParseLogin([]byte(`{"walletAddress":"` + testWallet + `"}`))
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "signature", verr.Field)

	_, err = ParseLogin([]byte(`not json`))
	require.ErrorAs(t, err, &verr)
}

func TestService_Register(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	session, err := svc.Register(ctx, PasswordRegistration{Email: "a@x.com", Password: "secret1", Username: "alice"})
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, "alice", session.User.Name)
	require.NotNil(t, session.User.Portfolio)
	assert.True(t, session.User.Portfolio.Balance.IsZero())

	portfolio, err := store.GetPortfolio(ctx, session.User.ID)
	require.NoError(t, err)
	assert.True(t, portfolio.Balance.IsZero())

	stored, err := store.GetUserByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.NotEqual(t, "secret1", stored.PasswordHash)

	// Duplicate email
	_, err = svc.Register(ctx, PasswordRegistration{Email: "a@x.com", Password: "secret2", Username: "alice2"})
	assert.ErrorIs(t, err, ErrDuplicateIdentity)
	assert.ErrorIs(t, err, ErrEmailRegistered)

	// Wallet registration, then duplicate wallet
	session, err = svc.Register(ctx, WalletRegistration{WalletAddress: testWallet})
	require.NoError(t, err)
	assert.Nil(t, session.User.Email)

	_, err = svc.Register(ctx, WalletRegistration{WalletAddress: testWallet, Name: "bob"})
	assert.ErrorIs(t, err, ErrWalletRegistered)

	// Wallet already taken by a password registration
	_, err = svc.Register(ctx, PasswordRegistration{Email: "c@x.com", Password: "secret1", Username: "carol", WalletAddress: testWallet})
	assert.ErrorIs(t, err, ErrDuplicateIdentity)
	_, err = store.GetUserByEmail(ctx, "c@x.com")
	assert.ErrorIs(t, err, db.ErrNotFound, "failed registration must not persist")
}

func TestService_RegisterInitialBalance(t *testing.T) {
	svc, store := newTestService(t)
	svc.InitialBalance = decimal.NewFromInt(1000)

	session, err := svc.Register(context.Background(), WalletRegistration{WalletAddress: testWallet})
	require.NoError(t, err)

	p, err := store.GetPortfolio(context.Background(), session.User.ID)
	require.NoError(t, err)
	assert.True(t, p.Balance.Equal(decimal.NewFromInt(1000)))
}

func TestService_Login(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, PasswordRegistration{Email: "a@x.com", Password: "secret1", Username: "alice"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, WalletRegistration{WalletAddress: testWallet, Email: "w@x.com"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		creds   LoginCredentials
		wantErr error
	}{
		{name: "Success", creds: PasswordLogin{Email: "a@x.com", Password: "secret1"}},
		{name: "WrongPassword", creds: PasswordLogin{Email: "a@x.com", Password: "wrong12"}, wantErr: ErrInvalidCredentials},
		{name: "UnknownEmail", creds: PasswordLogin{Email: "nobody@x.com", Password: "secret1"}, wantErr: ErrInvalidCredentials},
		{name: "WalletUserHasNoPassword", creds: PasswordLogin{Email: "w@x.com", Password: "secret1"}, wantErr: ErrInvalidCredentials},
		{name: "UnregisteredWallet", creds: WalletLogin{WalletAddress: "0x" + strings.Repeat("cd", 20), Signature: "sig"}, wantErr: ErrWalletNotRegistered},
		{name: "UnverifiedSignature", creds: WalletLogin{WalletAddress: testWallet, Signature: "sig"}, wantErr: ErrSignatureUnverified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, err := svc.Login(ctx, tt.creds)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, session)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, session.Token)
		})
	}
}

func TestService_LoginTrustedWallet(t *testing.T) {
	svc, _ := newTestService(t)
	svc.Verifier = TrustUnverified{}
	ctx := context.Background()

	registered, err := svc.Register(ctx, WalletRegistration{WalletAddress: testWallet})
	require.NoError(t, err)

	session, err := svc.Login(ctx, WalletLogin{WalletAddress: testWallet, Signature: "anything"})
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, session.User.ID)
}

func TestService_Authenticate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.Register(ctx, PasswordRegistration{Email: "a@x.com", Password: "secret1", Username: "alice"})
	require.NoError(t, err)

	user, err := svc.Authenticate(ctx, "Bearer "+session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, user.ID)

	_, err = svc.Authenticate(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Authenticate(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidToken)

	orphan, _, err := svc.Tokens.Issue("deleted-user")
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, orphan)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestTokens_Expiry(t *testing.T) {
	tokens, err := NewTokens("test-secret", 0)
	require.NoError(t, err)

	issuedAt := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tokens.now = func() time.Time { return issuedAt }
	token, expiresAt, err := tokens.Issue("u1")
	require.NoError(t, err)
	assert.Equal(t, issuedAt.Add(5*24*time.Hour), expiresAt)

	tests := []struct {
		name  string
		at    time.Time
		valid bool
	}{
		{name: "Fresh", at: issuedAt, valid: true},
		{name: "JustBeforeExpiry", at: issuedAt.Add(5*24*time.Hour - time.Second), valid: true},
		{name: "AfterExpiry", at: issuedAt.Add(5*24*time.Hour + time.Second), valid: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens.now = func() time.Time { return tt.at }
			userID, err := tokens.Validate(token)
			if !tt.valid {
				assert.ErrorIs(t, err, ErrInvalidToken)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "u1", userID)
		})
	}
}

func TestTokens_RejectsForeignTokens(t *testing.T) {
	tokens, err := NewTokens("test-secret", time.Hour)
	require.NoError(t, err)
	other, err := NewTokens("other-secret", time.Hour)
	require.NoError(t, err)

	foreign, _, err := other.Issue("u1")
	require.NoError(t, err)
	_, err = tokens.Validate(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Same secret, different algorithm
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = tokens.Validate(hs512)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// No expiry
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1"}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = tokens.Validate(noExp)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewTokens("", time.Hour)
	assert.Error(t, err)
}

func TestService_Refresh(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.Register(ctx, PasswordRegistration{Email: "a@x.com", Password: "secret1", Username: "alice"})
	require.NoError(t, err)

	later := time.Now().Add(48 * time.Hour)
	svc.Tokens.now = func() time.Time { return later }
	refreshed, err := svc.Refresh(ctx, session.User.ID)
	require.NoError(t, err)
	assert.True(t, refreshed.ExpiresAt.After(session.ExpiresAt))
	assert.Equal(t, later.Add(DefaultTokenTTL), refreshed.ExpiresAt)

	_, err = svc.Refresh(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestService_UpdateProfile(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	alice, err := svc.Register(ctx, PasswordRegistration{Email: "a@x.com", Password: "secret1", Username: "alice"})
	require.NoError(t, err)
	bob, err := svc.Register(ctx, WalletRegistration{WalletAddress: testWallet})
	require.NoError(t, err)

	name, avatar := "Alice Liddell", "https://example.com/a.png"
	user, err := svc.UpdateProfile(ctx, alice.User.ID, ProfileUpdate{Name: &name, Avatar: &avatar})
	require.NoError(t, err)
	assert.Equal(t, name, user.Name)
	assert.Equal(t, avatar, user.Avatar)

	short := "A"
	_, err = svc.UpdateProfile(ctx, alice.User.ID, ProfileUpdate{Name: &short})
	var verr *models.ValidationError
	assert.ErrorAs(t, err, &verr)

	taken := testWallet
	_, err = svc.UpdateProfile(ctx, alice.User.ID, ProfileUpdate{WalletAddress: &taken})
	assert.ErrorIs(t, err, ErrWalletRegistered)

	empty := ""
	_, err = svc.UpdateProfile(ctx, bob.User.ID, ProfileUpdate{WalletAddress: &empty})
	assert.ErrorAs(t, err, &verr)

	_, err = svc.UpdateProfile(ctx, "missing", ProfileUpdate{Name: &name})
	assert.ErrorIs(t, err, ErrUserNotFound)

	loaded, err := svc.GetUser(ctx, alice.User.ID)
	require.NoError(t, err)
	assert.Equal(t, name, loaded.Name)
	assert.NotNil(t, loaded.Portfolio)
}
