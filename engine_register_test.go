package authcore

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRegisterRejectsWeakPasswords(t *testing.T) {
	env := newTestEngine(t, testConfig())
	ctx := context.Background()

	cases := []struct {
		name     string
		password string
	}{
		{"too short", "Ab1!short"},
		{"no upper", "lowercase-only-99!"},
		{"no lower", "UPPERCASE-ONLY-99!"},
		{"no digit", "No-Digits-Here!!"},
		{"no symbol", "NoSymbolsHere999"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.engine.Register(ctx, RegisterRequest{
				Username: "u-" + tc.name,
				Email:    tc.name + "@clinic.example",
				Password: tc.password,
				Role:     RoleNurse,
			}, RequestMeta{})
			if !errors.Is(err, ErrWeakPassword) {
				t.Fatalf("password %q: expected ErrWeakPassword, got %v", tc.password, err)
			}
		})
	}
}

func TestRegisterRejectsDuplicateIdentity(t *testing.T) {
	env := newTestEngine(t, testConfig())
	env.mustRegister(t, "alice", "alice@clinic.example", testPassword, RoleNurse)
	ctx := context.Background()

	_, err := env.engine.Register(ctx, RegisterRequest{
		Username: "alice",
		Email:    "other@clinic.example",
		Password: testPassword,
		Role:     RoleNurse,
	}, RequestMeta{})
	if !errors.Is(err, ErrDuplicateIdentity) {
		t.Fatalf("duplicate username: expected ErrDuplicateIdentity, got %v", err)
	}

	_, err = env.engine.Register(ctx, RegisterRequest{
		Username: "alice2",
		Email:    "alice@clinic.example",
		Password: testPassword,
		Role:     RoleNurse,
	}, RequestMeta{})
	if !errors.Is(err, ErrDuplicateIdentity) {
		t.Fatalf("duplicate email: expected ErrDuplicateIdentity, got %v", err)
	}
}

func TestRegisterRejectsUnknownRole(t *testing.T) {
	env := newTestEngine(t, testConfig())

	_, err := env.engine.Register(context.Background(), RegisterRequest{
		Username: "bob",
		Email:    "bob@clinic.example",
		Password: testPassword,
		Role:     "janitor",
	}, RequestMeta{})
	if !errors.Is(err, ErrRoleUnknown) {
		t.Fatalf("expected ErrRoleUnknown, got %v", err)
	}
}

func TestRegisterStoresHashNotPassword(t *testing.T) {
	env := newTestEngine(t, testConfig())
	uid := env.mustRegister(t, "alice", "alice@clinic.example", testPassword, RoleNurse)

	user, err := env.users.GetByID(context.Background(), uid)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if user.PasswordHash == testPassword || strings.Contains(user.PasswordHash, testPassword) {
		t.Fatal("plaintext password reached the store")
	}
	if !strings.HasPrefix(user.PasswordHash, "$argon2id$") {
		t.Fatalf("expected argon2id PHC hash, got %q", user.PasswordHash)
	}
}

func TestRegisterNormalizesEmail(t *testing.T) {
	env := newTestEngine(t, testConfig())

	result, err := env.engine.Register(context.Background(), RegisterRequest{
		Username: "alice",
		Email:    "  Alice@Clinic.Example ",
		Password: testPassword,
		Role:     RoleNurse,
	}, RequestMeta{})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if result.Email != "alice@clinic.example" {
		t.Fatalf("email not normalized: %q", result.Email)
	}
}
