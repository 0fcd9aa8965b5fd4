package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/contactbook/apiserver/types"
)

func TestRegisterCreatesUnverifiedUser(t *testing.T) {
	api := newTestAPI(t, 5)

	rec := api.do(t, http.MethodPost, "/register", "", map[string]string{
		"email":    "alice@example.com",
		"password": "s3cret",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var user types.User
	if err := json.NewDecoder(rec.Body).Decode(&user); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("unexpected email: %q", user.Email)
	}
	if user.IsVerified {
		t.Fatalf("new user must start unverified")
	}
	if !user.IsActive {
		t.Fatalf("new user must be active")
	}
	if strings.Contains(rec.Body.String(), "s3cret") {
		t.Fatalf("response must not leak the password")
	}
}

func TestRegisterEnqueuesVerificationMail(t *testing.T) {
	api := newTestAPI(t, 5)

	api.register(t, "alice@example.com", "s3cret", false)

	jobs := api.queue.jobs(t)
	if len(jobs) != 1 {
		t.Fatalf("expected one queued job, got %d", len(jobs))
	}
	if jobs[0].To != "alice@example.com" {
		t.Fatalf("unexpected recipient: %q", jobs[0].To)
	}

	// The queued token must redeem against the verification endpoint.
	subject, err := api.tokens.Validate(jobs[0].Token)
	if err != nil {
		t.Fatalf("validate queued token: %v", err)
	}
	if subject != "alice@example.com" {
		t.Fatalf("unexpected token subject: %q", subject)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	api := newTestAPI(t, 5)
	api.register(t, "alice@example.com", "s3cret", false)

	rec := api.do(t, http.MethodPost, "/register", "", map[string]string{
		"email":    "alice@example.com",
		"password": "other",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRegisterSucceedsWhenQueueIsDown(t *testing.T) {
	api := newTestAPI(t, 5)
	api.queue.failNext = true

	rec := api.do(t, http.MethodPost, "/register", "", map[string]string{
		"email":    "alice@example.com",
		"password": "s3cret",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("publish failure must not fail registration, got %d", rec.Code)
	}
}

func TestLoginReturnsTokenPair(t *testing.T) {
	api := newTestAPI(t, 5)
	api.register(t, "alice@example.com", "s3cret", false)

	token := api.login(t, "alice@example.com", "s3cret")

	subject, err := api.tokens.Validate(token)
	if err != nil {
		t.Fatalf("validate access token: %v", err)
	}
	if subject != "alice@example.com" {
		t.Fatalf("unexpected subject: %q", subject)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	api := newTestAPI(t, 5)
	api.register(t, "alice@example.com", "s3cret", false)

	cases := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong password", "alice@example.com", "nope"},
		{"unknown user", "ghost@example.com", "s3cret"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := api.do(t, http.MethodPost, "/login", "", map[string]string{
				"email":    tc.email,
				"password": tc.password,
			})
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestVerifyEmailFlow(t *testing.T) {
	api := newTestAPI(t, 5)
	api.register(t, "alice@example.com", "s3cret", false)

	jobs := api.queue.jobs(t)
	if len(jobs) != 1 {
		t.Fatalf("expected one queued job, got %d", len(jobs))
	}

	rec := api.do(t, http.MethodGet, "/verify-email?token="+url.QueryEscape(jobs[0].Token), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	user, err := api.users.GetByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !user.IsVerified {
		t.Fatalf("user must be verified after redemption")
	}

	// A second redemption of the same token is rejected.
	rec = api.do(t, http.MethodGet, "/verify-email?token="+url.QueryEscape(jobs[0].Token), "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on re-redemption, got %d", rec.Code)
	}
}

func TestVerifyEmailBadToken(t *testing.T) {
	api := newTestAPI(t, 5)

	for _, token := range []string{"", "not-a-jwt"} {
		rec := api.do(t, http.MethodGet, "/verify-email?token="+url.QueryEscape(token), "", nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("token %q: expected 400, got %d", token, rec.Code)
		}
	}
}

func TestVerifyEmailUnknownUser(t *testing.T) {
	api := newTestAPI(t, 5)

	token, err := api.tokens.IssueAccess("ghost@example.com")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	rec := api.do(t, http.MethodGet, "/verify-email?token="+url.QueryEscape(token), "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRequireAuthRejectsBadTokens(t *testing.T) {
	api := newTestAPI(t, 5)

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"garbage token", "Bearer garbage"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/contacts/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			api.router.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestUploadAvatar(t *testing.T) {
	api := newTestAPI(t, 5)
	api.register(t, "alice@example.com", "s3cret", true)
	token := api.login(t, "alice@example.com", "s3cret")

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "me.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("png-bytes")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/users/avatar/", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var parsed struct {
		AvatarURL string `json:"avatar_url"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.HasPrefix(parsed.AvatarURL, "http://storage.test/avatars-bucket/avatars/") {
		t.Fatalf("unexpected avatar URL: %q", parsed.AvatarURL)
	}
	if !strings.HasSuffix(parsed.AvatarURL, ".png") {
		t.Fatalf("avatar key must keep the file extension: %q", parsed.AvatarURL)
	}

	user, err := api.users.GetByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.AvatarURL != parsed.AvatarURL {
		t.Fatalf("avatar URL not persisted: %q", user.AvatarURL)
	}
}

func TestUploadAvatarMissingFile(t *testing.T) {
	api := newTestAPI(t, 5)
	api.register(t, "alice@example.com", "s3cret", true)
	token := api.login(t, "alice@example.com", "s3cret")

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("other", "value"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/users/avatar/", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUploadAvatarStorageFailure(t *testing.T) {
	api := newTestAPI(t, 5)
	api.register(t, "alice@example.com", "s3cret", true)
	token := api.login(t, "alice@example.com", "s3cret")
	api.objects.failPut = true

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "me.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("png-bytes")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/users/avatar/", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t, 5)

	rec := api.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}
