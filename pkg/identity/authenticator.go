package identity

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Account is a user record with its password hash.
type Account struct {
	User         *User
	PasswordHash []byte
}

// Directory looks up accounts by normalized email.
type Directory interface {
	FindByEmail(ctx context.Context, email string) (*Account, error)
}

// MemoryDirectory is a Directory backed by a map.
type MemoryDirectory struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{accounts: make(map[string]Account)}
}

// Add registers an account under the user's normalized email.
func (d *MemoryDirectory) Add(user *User, passwordHash []byte) error {
	if err := user.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[NormalizeEmail(user.Email)] = Account{User: user.Clone(), PasswordHash: passwordHash}
	return nil
}

func (d *MemoryDirectory) FindByEmail(_ context.Context, email string) (*Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.accounts[NormalizeEmail(email)]
	if !ok {
		return nil, ErrInvalidCredentials
	}
	return &Account{User: a.User.Clone(), PasswordHash: a.PasswordHash}, nil
}

// HashPassword returns a bcrypt hash suitable for Account.PasswordHash.
func HashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// compareDummy spends the same bcrypt work for unknown emails.
func compareDummy(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("tenantguard-dummy"), bcrypt.DefaultCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

// Authenticator creates, renews and restores sessions.
type Authenticator struct {
	dir    Directory
	issuer *TokenIssuer
	store  Store
}

func NewAuthenticator(dir Directory, issuer *TokenIssuer, store Store) *Authenticator {
	return &Authenticator{dir: dir, issuer: issuer, store: store}
}

// SignIn verifies credentials and persists a new session. Unknown emails and
// wrong passwords both yield ErrInvalidCredentials.
func (a *Authenticator) SignIn(ctx context.Context, email, password string) (*Session, error) {
	acc, err := a.dir.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		compareDummy(password)
		if errors.Is(err, ErrInvalidCredentials) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword(acc.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	sess, err := a.issuer.Issue(acc.User)
	if err != nil {
		return nil, err
	}
	if err := a.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Renew replaces a live session with a freshly issued one.
func (a *Authenticator) Renew(ctx context.Context, token string) (*Session, error) {
	current, err := a.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	next, err := a.issuer.Issue(current.User)
	if err != nil {
		return nil, err
	}
	if err := a.store.Save(ctx, next); err != nil {
		return nil, err
	}
	if err := a.store.Delete(ctx, token); err != nil {
		return nil, err
	}
	return next, nil
}

// SignOut revokes the token.
func (a *Authenticator) SignOut(ctx context.Context, token string) error {
	return a.store.Delete(ctx, token)
}

// Verify checks the credential signature and that it has not been revoked.
func (a *Authenticator) Verify(ctx context.Context, token string) (*Session, error) {
	return a.lookup(ctx, token)
}

// Restorer returns a Restorer that rebuilds the session for token.
func (a *Authenticator) Restorer(token string) Restorer {
	return RestoreFunc(func(ctx context.Context) (*Session, error) {
		return a.lookup(ctx, token)
	})
}

func (a *Authenticator) lookup(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrSessionNotFound
	}
	claimed, err := a.issuer.Parse(token)
	if err != nil {
		return nil, err
	}
	stored, err := a.store.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	// The signed claims are authoritative; the store only proves the token
	// has not been revoked.
	if stored.User == nil || stored.User.ID != claimed.User.ID {
		return nil, ErrInvalidToken
	}
	return claimed, nil
}
