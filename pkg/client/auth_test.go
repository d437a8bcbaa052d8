package client

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestLogin_Success(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signedToken(t, exp)

	var got map[string]string
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/login" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"token": token},
		})
	}))
	defer ts.Close()

	tf, err := c.Login(context.Background(), "dev@example.com", "secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got["email"] != "dev@example.com" || got["password"] != "secret" {
		t.Errorf("unexpected body %v", got)
	}
	if tf.Token != token {
		t.Error("expected token returned")
	}
	if !tf.ExpiresAt.Equal(exp) {
		t.Errorf("expected expiry %v, got %v", exp, tf.ExpiresAt)
	}
}

func TestLogin_FieldErrors(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"success":false,"message":"Validation failed","errors":[{"field":"email","message":"invalid"}]}`))
	}))
	defer ts.Close()

	_, err := c.Login(context.Background(), "bad", "x")
	if err == nil || !strings.Contains(err.Error(), "email: invalid") {
		t.Fatalf("expected field error, got %v", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	if got := TokenExpiry(signedToken(t, exp)); !got.Equal(exp) {
		t.Errorf("expected %v, got %v", exp, got)
	}
	if got := TokenExpiry("opaque-token"); !got.IsZero() {
		t.Errorf("expected zero expiry for opaque token, got %v", got)
	}
}

func TestTokenFile_SaveLoadDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	tf := &TokenFile{Token: "abc", Server: "http://localhost:4000", Email: "dev@example.com"}

	if err := SaveToken(path, tf); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected 0600, got %v", info.Mode().Perm())
	}

	loaded, err := LoadToken(path)
	if err != nil {
		t.Fatalf("LoadToken: %v", err)
	}
	if loaded.Token != "abc" || loaded.Email != "dev@example.com" {
		t.Errorf("unexpected token file %+v", loaded)
	}
	if loaded.IsExpired(time.Hour) {
		t.Error("token without expiry should not expire")
	}

	if err := DeleteToken(path); err != nil {
		t.Fatalf("DeleteToken: %v", err)
	}
	if err := DeleteToken(path); err != nil {
		t.Errorf("deleting a missing token should succeed, got %v", err)
	}
}

func TestTokenFile_IsExpired(t *testing.T) {
	tf := &TokenFile{ExpiresAt: time.Now().Add(30 * time.Minute)}
	if tf.IsExpired(0) {
		t.Error("should not be expired yet")
	}
	if !tf.IsExpired(time.Hour) {
		t.Error("should be expired within a one hour margin")
	}
}
