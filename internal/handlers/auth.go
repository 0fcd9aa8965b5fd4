package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/contactbook/apiserver/internal/auth"
	"github.com/contactbook/apiserver/internal/mailq"
	"github.com/contactbook/apiserver/internal/services"
	"github.com/contactbook/apiserver/internal/storage"
	"github.com/contactbook/apiserver/internal/store"
	"github.com/contactbook/apiserver/types"
	"github.com/go-chi/chi/v5"
)

const (
	maxAvatarMemory = 8 << 20
	maxAvatarBytes  = 8 << 20
	formFieldFile   = "file"
)

// AuthHandler provides registration, login, email verification, and
// avatar-upload endpoints.
type AuthHandler struct {
	userService *services.UserService
	tokens      *auth.TokenService
	mailQueue   *mailq.Queue
	avatars     *storage.Storage
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(
	userService *services.UserService,
	tokens *auth.TokenService,
	mailQueue *mailq.Queue,
	avatars *storage.Storage,
) *AuthHandler {
	return &AuthHandler{
		userService: userService,
		tokens:      tokens,
		mailQueue:   mailQueue,
		avatars:     avatars,
	}
}

// AuthRouter registers the unauthenticated auth routes on the given router.
func AuthRouter(r chi.Router, handler *AuthHandler) {
	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.Get("/verify-email", handler.VerifyEmail)
}

// UserRouter registers authenticated user routes on the given router.
func UserRouter(r chi.Router, handler *AuthHandler) {
	r.Use(handler.RequireAuth)
	r.Post("/avatar/", handler.UploadAvatar)
}

// RequireAuth validates the bearer token, resolves the owning user, and
// injects it into the request context. Any failure is a 401.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		subject, err := h.tokens.Validate(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		user, err := h.userService.GetByEmail(r.Context(), subject)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		ctx := context.WithValue(r.Context(), contextUserKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireVerified rejects identities that have not redeemed their
// verification email. Must run after RequireAuth.
func (h *AuthHandler) RequireVerified(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := userFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !user.IsVerified {
			writeError(w, http.StatusForbidden, "email not verified")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Register creates an unverified account and queues the verification email.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing required fields")
		return
	}

	if _, err := h.userService.GetByEmail(r.Context(), req.Email); err == nil {
		writeError(w, http.StatusConflict, "email already registered")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "failed to check user")
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	user, err := h.userService.Create(r.Context(), types.User{
		Email:        req.Email,
		PasswordHash: hashed,
		IsActive:     true,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	h.queueVerificationMail(r.Context(), user.Email)

	writeJSON(w, http.StatusCreated, user)
}

// queueVerificationMail publishes the verification job. The account is
// already committed; a publish failure is logged and never surfaced.
func (h *AuthHandler) queueVerificationMail(ctx context.Context, email string) {
	token, err := h.tokens.IssueAccess(email)
	if err != nil {
		log.Printf("issue verification token for %s: %v", email, err)
		return
	}
	if _, err := h.mailQueue.Enqueue(ctx, mailq.Job{To: email, Token: token}); err != nil {
		log.Printf("enqueue verification mail for %s: %v", email, err)
	}
}

// Login verifies credentials and returns an access/refresh token pair.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing credentials")
		return
	}

	user, err := h.userService.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to authenticate")
		return
	}

	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	accessToken, err := h.tokens.IssueAccess(user.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}
	refreshToken, err := h.tokens.IssueRefresh(user.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}

	writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
	})
}

// VerifyEmail redeems a verification token and marks the account verified.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	tokenString := strings.TrimSpace(r.URL.Query().Get("token"))
	if tokenString == "" {
		writeError(w, http.StatusBadRequest, "invalid or expired token")
		return
	}

	subject, err := h.tokens.Validate(tokenString)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid or expired token")
		return
	}

	if _, err := h.userService.MarkVerified(r.Context(), subject); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "user not found")
		case errors.Is(err, services.ErrAlreadyVerified):
			writeError(w, http.StatusBadRequest, "email already verified")
		default:
			writeError(w, http.StatusInternalServerError, "failed to verify email")
		}
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "email verified"})
}

// UploadAvatar stores the uploaded image and persists its public URL.
func (h *AuthHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := r.ParseMultipartForm(maxAvatarMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile(formFieldFile)
	if err != nil {
		writeError(w, http.StatusBadRequest, "avatar file is required")
		return
	}
	defer file.Close()

	data, err := readFileLimited(file, maxAvatarBytes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	contentType := header.Header.Get("Content-Type")
	avatarURL, err := h.avatars.UploadAvatar(
		r.Context(),
		user.ID,
		header.Filename,
		bytes.NewReader(data),
		int64(len(data)),
		contentType,
	)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to upload avatar")
		return
	}

	if err := h.userService.SetAvatarURL(r.Context(), user.ID, avatarURL); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to upload avatar")
		return
	}

	writeJSON(w, http.StatusOK, AvatarResponse{AvatarURL: avatarURL})
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type AvatarResponse struct {
	AvatarURL string `json:"avatar_url"`
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if authHeader == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}

func readFileLimited(reader io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(reader, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, errors.New("failed to read upload")
	}
	if int64(len(data)) > limit {
		return nil, errors.New("uploaded file too large")
	}
	return data, nil
}
