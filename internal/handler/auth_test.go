package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/antonio12761/roxy-bar-sub004/internal/auth"
	"github.com/antonio12761/roxy-bar-sub004/internal/database"
	"github.com/antonio12761/roxy-bar-sub004/internal/enum"
	"github.com/antonio12761/roxy-bar-sub004/internal/handler"
)

type stubAuthStore struct {
	users map[string]database.User
}

func (s *stubAuthStore) GetUserByUsername(_ context.Context, username string) (database.User, error) {
	u, ok := s.users[username]
	if !ok {
		return database.User{}, pgx.ErrNoRows
	}
	return u, nil
}

func TestLogin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correcthorse"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	userID := uuid.New()
	store := &stubAuthStore{users: map[string]database.User{
		"anna": {
			ID:             userID,
			Username:       "anna",
			FullName:       "Anna Bianchi",
			Role:           enum.UserRoleCashier,
			HashedPassword: string(hash),
		},
	}}

	h := handler.NewAuthHandler(store, testJWTSecret, zap.NewNop())
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	doLogin := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	t.Run("success", func(t *testing.T) {
		rec := doLogin(`{"username":"anna","password":"correcthorse"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status: got %d, want 200; body %s", rec.Code, rec.Body.String())
		}

		var resp struct {
			AccessToken string `json:"access_token"`
			User        struct {
				Username string `json:"username"`
				Role     string `json:"role"`
			} `json:"user"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.User.Username != "anna" || resp.User.Role != enum.UserRoleCashier {
			t.Errorf("user: %+v", resp.User)
		}

		claims, err := auth.ValidateToken(testJWTSecret, resp.AccessToken)
		if err != nil {
			t.Fatalf("token does not validate: %v", err)
		}
		if claims.UserID != userID || claims.Role != enum.UserRoleCashier {
			t.Errorf("claims: %+v", claims)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		if rec := doLogin(`{"username":"anna","password":"nope"}`); rec.Code != http.StatusUnauthorized {
			t.Errorf("status: got %d, want 401", rec.Code)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		if rec := doLogin(`{"username":"ghost","password":"correcthorse"}`); rec.Code != http.StatusUnauthorized {
			t.Errorf("status: got %d, want 401", rec.Code)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		if rec := doLogin(`{"username":"anna"}`); rec.Code != http.StatusBadRequest {
			t.Errorf("status: got %d, want 400", rec.Code)
		}
	})
}
