package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// testKeyID — идентификатор ключа для тестов.
const testKeyID = "test-key"

// generateTestKey генерирует RSA ключ для тестов.
func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("генерация RSA ключа: %v", err)
	}
	return key
}

// generateTestToken подписывает JWT с тестовыми claims.
func generateTestToken(t *testing.T, key *rsa.PrivateKey, claims jwt.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("подпись токена: %v", err)
	}
	return signed
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	nB64 := base64.RawURLEncoding.EncodeToString(pub.N.Bytes())
	eB64 := base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes())

	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   nB64,
				"e":   eB64,
			},
		},
	}

	data, _ := json.Marshal(jwks)
	return data
}

// newTestJWTAuth создаёт JWTAuth со статическим JWKS.
func newTestJWTAuth(t *testing.T, key *rsa.PrivateKey) *JWTAuth {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("создание keyfunc из JWKS JSON: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewJWTAuthWithKeyfunc(kf,
		[]string{"/staffdesk-admins"},
		[]string{"/staffdesk-recruiters"},
		logger,
	)
}

// baseClaims возвращает валидные RegisteredClaims.
func baseClaims(sub string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
}

// TestJWTAuth_UserToken проверяет извлечение claims пользователя
// и маппинг групп IdP в роль.
func TestJWTAuth_UserToken(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	var got *AuthClaims
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tokenString := generateTestToken(t, key, &keycloakClaims{
		RegisteredClaims:  baseClaims("user-1"),
		PreferredUsername: "ivanov",
		Groups:            []string{"/staffdesk-recruiters", "/other"},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/presence", nil)
	req.Header.Set("Authorization", "Bearer "+tokenString)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидался 200", rec.Code)
	}
	if got == nil {
		t.Fatal("claims не попали в контекст")
	}
	if got.SubjectType != SubjectTypeUser {
		t.Errorf("SubjectType = %s, ожидался user", got.SubjectType)
	}
	if got.EffectiveRole != RoleRecruiter {
		t.Errorf("EffectiveRole = %q, ожидалась recruiter", got.EffectiveRole)
	}
	if got.Subject != "user-1" {
		t.Errorf("Subject = %q, ожидался user-1", got.Subject)
	}
}

// TestJWTAuth_SAToken проверяет распознавание Service Account.
func TestJWTAuth_SAToken(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	var got *AuthClaims
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tokenString := generateTestToken(t, key, &keycloakClaims{
		RegisteredClaims: baseClaims("sa-uuid"),
		ClientID:         "reporting-bot",
		Scope:            "views:read other:scope",
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/presence", nil)
	req.Header.Set("Authorization", "Bearer "+tokenString)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидался 200", rec.Code)
	}
	if got.SubjectType != SubjectTypeSA {
		t.Errorf("SubjectType = %s, ожидался service_account", got.SubjectType)
	}
	if !got.HasScope("views:read") {
		t.Errorf("scope views:read не найден: %v", got.Scopes)
	}
}

// TestJWTAuth_Unauthorized проверяет отказ без токена и с мусорным токеном.
func TestJWTAuth_Unauthorized(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
	}{
		{"без заголовка", ""},
		{"не Bearer", "Basic dXNlcjpwYXNz"},
		{"мусорный токен", "Bearer not-a-jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/presence", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("статус = %d, ожидался 401", rec.Code)
			}
		})
	}
}

// TestJWTAuth_ExpiredToken проверяет отказ по истёкшему токену.
func TestJWTAuth_ExpiredToken(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tokenString := generateTestToken(t, key, &keycloakClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/presence", nil)
	req.Header.Set("Authorization", "Bearer "+tokenString)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("статус = %d, ожидался 401", rec.Code)
	}
}

// withClaims кладёт claims в контекст запроса.
func withClaims(r *http.Request, claims *AuthClaims) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), ContextKeyClaims, claims))
}

// TestRequireRoleOrScope проверяет RBAC: User — по ролям, SA — по scopes.
func TestRequireRoleOrScope(t *testing.T) {
	mw := RequireRoleOrScope(
		[]string{RoleAdmin, RoleRecruiter},
		[]string{"views:read"},
	)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		claims     *AuthClaims
		wantStatus int
	}{
		{
			name:       "user с ролью recruiter",
			claims:     &AuthClaims{SubjectType: SubjectTypeUser, EffectiveRole: RoleRecruiter},
			wantStatus: http.StatusOK,
		},
		{
			name:       "user с ролью admin",
			claims:     &AuthClaims{SubjectType: SubjectTypeUser, EffectiveRole: RoleAdmin},
			wantStatus: http.StatusOK,
		},
		{
			name:       "user без роли",
			claims:     &AuthClaims{SubjectType: SubjectTypeUser},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "SA с нужным scope",
			claims:     &AuthClaims{SubjectType: SubjectTypeSA, Scopes: []string{"views:read"}},
			wantStatus: http.StatusOK,
		},
		{
			name:       "SA с чужим scope",
			claims:     &AuthClaims{SubjectType: SubjectTypeSA, Scopes: []string{"files:write"}},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "без claims",
			claims:     nil,
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/views/consultants", nil)
			if tt.claims != nil {
				req = withClaims(req, tt.claims)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("статус = %d, ожидался %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

// TestMapGroupsToRole проверяет маппинг групп IdP в роль.
func TestMapGroupsToRole(t *testing.T) {
	admins := []string{"/staffdesk-admins"}
	recruiters := []string{"/staffdesk-recruiters"}

	tests := []struct {
		name   string
		groups []string
		want   string
	}{
		{"только recruiter", []string{"/staffdesk-recruiters"}, RoleRecruiter},
		{"только admin", []string{"/staffdesk-admins"}, RoleAdmin},
		{"обе группы — берётся старшая", []string{"/staffdesk-recruiters", "/staffdesk-admins"}, RoleAdmin},
		{"чужие группы", []string{"/devops"}, ""},
		{"пусто", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapGroupsToRole(tt.groups, admins, recruiters)
			if got != tt.want {
				t.Errorf("mapGroupsToRole(%v) = %q, ожидалась %q", tt.groups, got, tt.want)
			}
		})
	}
}
