package service

import (
	"errors"
	"testing"

	"github.com/ademjemaa/42-push-sub000/internal/config"
	"github.com/ademjemaa/42-push-sub000/internal/db"

	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Connect(":memory:")
	if err != nil {
		t.Fatalf("db.Connect() error = %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("db.Migrate() error = %v", err)
	}
	return gdb
}

func testConfig() config.Config {
	return config.Config{
		Port:                  "8080",
		DatabasePath:          ":memory:",
		JWTSecret:             "test-secret",
		Env:                   "test",
		AccessTokenTTLMinutes: 15,
		RefreshTokenTTLDays:   7,
	}
}

func TestValidPhone(t *testing.T) {
	tests := []struct {
		name  string
		phone string
		want  bool
	}{
		{"valid", "0612345678", true},
		{"too short", "061234567", false},
		{"too long", "06123456789", false},
		{"no leading zero", "1612345678", false},
		{"letters", "061234567a", false},
		{"empty", "", false},
		{"spaces", "06 2345678", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidPhone(tt.phone); got != tt.want {
				t.Errorf("ValidPhone(%q) = %v, want %v", tt.phone, got, tt.want)
			}
		})
	}
}

func TestUserService_Register(t *testing.T) {
	svc := NewUserService(newTestDB(t), testConfig())

	u, err := svc.Register("0612345678", "alice", "password123")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if u.ID == 0 {
		t.Error("Register() returned zero ID")
	}
	if u.Phone != "0612345678" || u.Username != "alice" {
		t.Errorf("Register() = %+v, want phone 0612345678 username alice", u)
	}
}

func TestUserService_Register_InvalidPhone(t *testing.T) {
	svc := NewUserService(newTestDB(t), testConfig())

	_, err := svc.Register("12345", "alice", "password123")
	if !errors.Is(err, ErrInvalidPhone) {
		t.Errorf("Register() error = %v, want ErrInvalidPhone", err)
	}
}

func TestUserService_Register_PhoneTaken(t *testing.T) {
	svc := NewUserService(newTestDB(t), testConfig())

	if _, err := svc.Register("0612345678", "alice", "pw1"); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	_, err := svc.Register("0612345678", "bob", "pw2")
	if !errors.Is(err, ErrPhoneTaken) {
		t.Errorf("second Register() error = %v, want ErrPhoneTaken", err)
	}
}

func TestUserService_Login(t *testing.T) {
	svc := NewUserService(newTestDB(t), testConfig())

	if _, err := svc.Register("0612345678", "alice", "password123"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	res, err := svc.Login("0612345678", "password123")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Error("Login() returned empty token pair")
	}
	if res.User.Username != "alice" {
		t.Errorf("Login() user = %v, want alice", res.User.Username)
	}
}

func TestUserService_Login_WrongPassword(t *testing.T) {
	svc := NewUserService(newTestDB(t), testConfig())

	if _, err := svc.Register("0612345678", "alice", "password123"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	tests := []struct {
		name     string
		phone    string
		password string
	}{
		{"wrong password", "0612345678", "nope"},
		{"unknown phone", "0699999999", "password123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(tt.phone, tt.password)
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
			}
		})
	}
}

func TestUserService_RefreshTokens_Rotation(t *testing.T) {
	svc := NewUserService(newTestDB(t), testConfig())

	if _, err := svc.Register("0612345678", "alice", "password123"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	login, err := svc.Login("0612345678", "password123")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	res, err := svc.RefreshTokens(login.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshTokens() error = %v", err)
	}
	if res.RefreshToken == login.RefreshToken {
		t.Error("RefreshTokens() should rotate the refresh token")
	}

	// The old token is revoked and must not refresh again.
	if _, err := svc.RefreshTokens(login.RefreshToken); err == nil {
		t.Error("RefreshTokens() should reject a revoked token")
	}
}

func TestUserService_UpdateProfile(t *testing.T) {
	svc := NewUserService(newTestDB(t), testConfig())

	u, err := svc.Register("0612345678", "alice", "pw")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	updated, err := svc.UpdateProfile(u.ID, "alice2")
	if err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	if updated.Username != "alice2" {
		t.Errorf("UpdateProfile() username = %v, want alice2", updated.Username)
	}
}

func TestUserService_Avatar(t *testing.T) {
	svc := NewUserService(newTestDB(t), testConfig())

	u, err := svc.Register("0612345678", "alice", "pw")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	blob := []byte{0x89, 0x50, 0x4e, 0x47}
	if err := svc.SetAvatar(u.ID, blob); err != nil {
		t.Fatalf("SetAvatar() error = %v", err)
	}
	got, err := svc.Avatar(u.ID)
	if err != nil {
		t.Fatalf("Avatar() error = %v", err)
	}
	if string(got) != string(blob) {
		t.Errorf("Avatar() = %v, want %v", got, blob)
	}

	if err := svc.SetAvatar(999, blob); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("SetAvatar(unknown) error = %v, want ErrUserNotFound", err)
	}
}
