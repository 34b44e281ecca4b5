package authcore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/halcyon-health/authcore/audit"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte("test-signing-secret-0123456789ab")
	// Cheap argon2 so the suite stays fast.
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

// mockUserStore is an in-memory UserStore with call counters for the paths
// tests care about.
type mockUserStore struct {
	mu    sync.Mutex
	users map[string]*UserRecord
	totp  map[string]*TOTPRecord
	codes map[string]map[[32]byte]struct{}

	consumeCalls int
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users: make(map[string]*UserRecord),
		totp:  make(map[string]*TOTPRecord),
		codes: make(map[string]map[[32]byte]struct{}),
	}
}

func (m *mockUserStore) GetByIdentifier(_ context.Context, identifier string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == identifier || u.Email == identifier {
			return *u, nil
		}
	}
	return UserRecord{}, ErrUserNotFound
}

func (m *mockUserStore) GetByID(_ context.Context, userID string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return *u, nil
}

func (m *mockUserStore) Create(_ context.Context, input CreateUserInput) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == input.Username || u.Email == input.Email {
			return UserRecord{}, ErrDuplicateIdentity
		}
	}
	u := &UserRecord{
		UserID:       input.UserID,
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: input.PasswordHash,
		Role:         input.Role,
		Active:       true,
		CreatedAt:    time.Now(),
	}
	m.users[input.UserID] = u
	return *u, nil
}

func (m *mockUserStore) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = newHash
	return nil
}

func (m *mockUserStore) UpdateRole(_ context.Context, userID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.Role = role
	return nil
}

func (m *mockUserStore) SetActive(_ context.Context, userID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.Active = active
	return nil
}

func (m *mockUserStore) GetTOTPSecret(_ context.Context, userID string) (*TOTPRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return nil, ErrUserNotFound
	}
	rec, ok := m.totp[userID]
	if !ok {
		return &TOTPRecord{}, nil
	}
	out := *rec
	return &out, nil
}

func (m *mockUserStore) EnableTOTP(_ context.Context, userID string, secret []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	m.totp[userID] = &TOTPRecord{Secret: secret, Enabled: true}
	u.MFAEnabled = true
	return nil
}

func (m *mockUserStore) DisableTOTP(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	delete(m.totp, userID)
	u.MFAEnabled = false
	return nil
}

func (m *mockUserStore) UpdateTOTPLastUsedCounter(_ context.Context, userID string, counter int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.totp[userID]
	if !ok {
		return ErrMFANotConfigured
	}
	rec.LastUsedCounter = counter
	return nil
}

func (m *mockUserStore) ReplaceBackupCodes(_ context.Context, userID string, codes []BackupCodeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[[32]byte]struct{}, len(codes))
	for _, c := range codes {
		set[c.Hash] = struct{}{}
	}
	m.codes[userID] = set
	return nil
}

func (m *mockUserStore) ConsumeBackupCode(_ context.Context, userID string, codeHash [32]byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumeCalls++
	set, ok := m.codes[userID]
	if !ok {
		return false, nil
	}
	if _, ok := set[codeHash]; !ok {
		return false, nil
	}
	delete(set, codeHash)
	return true, nil
}

type testEnv struct {
	engine *Engine
	mr     *miniredis.Miniredis
	users  *mockUserStore
	audit  *audit.MemoryStore
}

func newTestEngine(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	mr, rdb := newTestRedis(t)
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})

	users := newMockUserStore()
	store := audit.NewMemoryStore()

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(users).
		WithAuditStore(store).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	return &testEnv{engine: engine, mr: mr, users: users, audit: store}
}

// mustRegister creates an account straight through the engine so the stored
// hash matches the engine's hasher.
func (env *testEnv) mustRegister(t *testing.T, username, email, pass, role string) string {
	t.Helper()

	result, err := env.engine.Register(context.Background(), RegisterRequest{
		Username: username,
		Email:    email,
		Password: pass,
		Role:     role,
	}, RequestMeta{IP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", username, err)
	}
	return result.UserID
}

func (env *testEnv) mustLogin(t *testing.T, identifier, pass string) *LoginResult {
	t.Helper()

	result, err := env.engine.Login(context.Background(), identifier, pass, RequestMeta{IP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("Login(%s) failed: %v", identifier, err)
	}
	return result
}

const testPassword = "Correct-Horse-9!"
