package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/contactbook/apiserver/internal/auth"
	"github.com/contactbook/apiserver/internal/handlers"
	"github.com/contactbook/apiserver/internal/mailq"
	"github.com/contactbook/apiserver/internal/ratelimit"
	"github.com/contactbook/apiserver/internal/services"
	"github.com/contactbook/apiserver/internal/storage"
	"github.com/contactbook/apiserver/internal/store"
	"github.com/contactbook/apiserver/types"
	"github.com/go-chi/chi/v5"
)

type fakeUserRepo struct {
	mu     sync.Mutex
	users  []types.User
	nextID int
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{nextID: 1}
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id int) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.ID == id {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *fakeUserRepo) Create(ctx context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return types.User{}, store.ErrConflict
		}
	}
	user.ID = r.nextID
	r.nextID++
	r.users = append(r.users, user)
	return user, nil
}

func (r *fakeUserRepo) SetVerified(ctx context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, user := range r.users {
		if user.ID == id {
			r.users[i].IsVerified = true
			return nil
		}
	}
	return store.ErrNotFound
}

func (r *fakeUserRepo) SetAvatarURL(ctx context.Context, id int, avatarURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, user := range r.users {
		if user.ID == id {
			r.users[i].AvatarURL = avatarURL
			return nil
		}
	}
	return store.ErrNotFound
}

type fakeContactRepo struct {
	mu            sync.Mutex
	contacts      []types.Contact
	nextID        int
	lastListLimit int
}

func newFakeContactRepo() *fakeContactRepo {
	return &fakeContactRepo{nextID: 1}
}

func (r *fakeContactRepo) List(ctx context.Context, userID, offset, limit int) ([]types.Contact, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastListLimit = limit
	owned := []types.Contact{}
	for _, contact := range r.contacts {
		if contact.UserID == userID {
			owned = append(owned, contact)
		}
	}
	total := len(owned)
	if offset >= len(owned) {
		return []types.Contact{}, total, nil
	}
	owned = owned[offset:]
	if len(owned) > limit {
		owned = owned[:limit]
	}
	return owned, total, nil
}

func (r *fakeContactRepo) Get(ctx context.Context, userID, id int) (types.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, contact := range r.contacts {
		if contact.ID == id && contact.UserID == userID {
			return contact, nil
		}
	}
	return types.Contact{}, store.ErrNotFound
}

func (r *fakeContactRepo) GetByEmail(ctx context.Context, userID int, email string) (types.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, contact := range r.contacts {
		if contact.UserID == userID && contact.Email == email {
			return contact, nil
		}
	}
	return types.Contact{}, store.ErrNotFound
}

func (r *fakeContactRepo) Create(ctx context.Context, contact types.Contact) (types.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	contact.ID = r.nextID
	r.nextID++
	r.contacts = append(r.contacts, contact)
	return contact, nil
}

func (r *fakeContactRepo) Update(ctx context.Context, contact types.Contact) (types.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.contacts {
		if existing.ID == contact.ID && existing.UserID == contact.UserID {
			r.contacts[i] = contact
			return contact, nil
		}
	}
	return types.Contact{}, store.ErrNotFound
}

func (r *fakeContactRepo) Delete(ctx context.Context, userID, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, contact := range r.contacts {
		if contact.ID == id && contact.UserID == userID {
			r.contacts = append(r.contacts[:i], r.contacts[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (r *fakeContactRepo) Search(ctx context.Context, userID int, query string) ([]types.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	needle := strings.ToLower(query)
	matched := []types.Contact{}
	for _, contact := range r.contacts {
		if contact.UserID != userID {
			continue
		}
		haystack := strings.ToLower(contact.FirstName + " " + contact.LastName + " " + contact.Email)
		if strings.Contains(haystack, needle) {
			matched = append(matched, contact)
		}
	}
	return matched, nil
}

func (r *fakeContactRepo) BirthdaysInRange(ctx context.Context, userID int, from, to time.Time) ([]types.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fromKey := from.Format("0102")
	toKey := to.Format("0102")
	matched := []types.Contact{}
	for _, contact := range r.contacts {
		if contact.UserID != userID || contact.Birthday.IsZero() {
			continue
		}
		key := contact.Birthday.Format("0102")
		inRange := key >= fromKey && key <= toKey
		if fromKey > toKey {
			inRange = key >= fromKey || key <= toKey
		}
		if inRange {
			matched = append(matched, contact)
		}
	}
	return matched, nil
}

type fakeQueueBackend struct {
	mu        sync.Mutex
	published [][]byte
	failNext  bool
}

func (b *fakeQueueBackend) Publish(ctx context.Context, queue string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failNext {
		b.failNext = false
		return "", fmt.Errorf("broker unavailable")
	}
	b.published = append(b.published, data)
	return fmt.Sprintf("msg-%d", len(b.published)), nil
}

func (b *fakeQueueBackend) Subscribe(ctx context.Context, queue string, handler func(ctx context.Context, data []byte) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func (b *fakeQueueBackend) Close() error { return nil }

func (b *fakeQueueBackend) jobs(t *testing.T) []mailq.Job {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	jobs := make([]mailq.Job, 0, len(b.published))
	for _, data := range b.published {
		var job mailq.Job
		if err := json.Unmarshal(data, &job); err != nil {
			t.Fatalf("decode published job: %v", err)
		}
		jobs = append(jobs, job)
	}
	return jobs
}

type fakeObjectStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut bool
}

func newFakeObjectStorage() *fakeObjectStorage {
	return &fakeObjectStorage{objects: make(map[string][]byte)}
}

func (s *fakeObjectStorage) EnsureBucket(ctx context.Context) error { return nil }

func (s *fakeObjectStorage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if s.failPut {
		return fmt.Errorf("storage unavailable")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.objects[key] = data
	s.mu.Unlock()
	return nil
}

func (s *fakeObjectStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

func (s *fakeObjectStorage) PublicURL(key string) string {
	return "http://storage.test/avatars-bucket/" + key
}

func (s *fakeObjectStorage) Bucket() string { return "avatars-bucket" }

type testAPI struct {
	router   *chi.Mux
	users    *fakeUserRepo
	contacts *fakeContactRepo
	tokens   *auth.TokenService
	queue    *fakeQueueBackend
	objects  *fakeObjectStorage
}

func newTestAPI(t *testing.T, rateLimit int) *testAPI {
	t.Helper()

	users := newFakeUserRepo()
	contacts := newFakeContactRepo()
	queueBackend := &fakeQueueBackend{}
	objects := newFakeObjectStorage()

	tokens := auth.NewTokenService("test-secret", time.Minute, time.Hour)
	userService := services.NewUserService(users)
	contactService := services.NewContactService(contacts)
	mailQueue := mailq.NewQueue(queueBackend, "verification-mail")
	avatars := storage.NewStorage(objects)
	limiter := ratelimit.NewMemoryLimiter(rateLimit, time.Minute)
	t.Cleanup(func() { _ = limiter.Close() })

	authHandler := handlers.NewAuthHandler(userService, tokens, mailQueue, avatars)
	contactHandler := handlers.NewContactHandler(contactService, limiter)

	router := chi.NewRouter()
	router.Get("/healthz", handlers.Healthz)
	handlers.AuthRouter(router, authHandler)
	router.Route("/users", func(r chi.Router) {
		handlers.UserRouter(r, authHandler)
	})
	router.Route("/contacts", func(r chi.Router) {
		r.Use(authHandler.RequireAuth)
		handlers.ContactRouter(r, contactHandler, authHandler.RequireVerified)
	})

	return &testAPI{
		router:   router,
		users:    users,
		contacts: contacts,
		tokens:   tokens,
		queue:    queueBackend,
		objects:  objects,
	}
}

func (api *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	return rec
}

// register creates an account and returns it. Verification state is
// controlled by the caller through verify.
func (api *testAPI) register(t *testing.T, email, password string, verify bool) types.User {
	t.Helper()

	rec := api.do(t, http.MethodPost, "/register", "", map[string]string{
		"email":    email,
		"password": password,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status %d: %s", rec.Code, rec.Body.String())
	}

	var user types.User
	if err := json.NewDecoder(rec.Body).Decode(&user); err != nil {
		t.Fatalf("decode register response: %v", err)
	}

	if verify {
		if err := api.users.SetVerified(context.Background(), user.ID); err != nil {
			t.Fatalf("mark verified: %v", err)
		}
		user.IsVerified = true
	}
	return user
}

func (api *testAPI) login(t *testing.T, email, password string) string {
	t.Helper()

	rec := api.do(t, http.MethodPost, "/login", "", map[string]string{
		"email":    email,
		"password": password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status %d: %s", rec.Code, rec.Body.String())
	}

	var parsed struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if parsed.TokenType != "bearer" {
		t.Fatalf("unexpected token type: %q", parsed.TokenType)
	}
	if parsed.AccessToken == "" || parsed.RefreshToken == "" {
		t.Fatalf("missing tokens in login response")
	}
	return parsed.AccessToken
}

func contactPayload(email string) map[string]any {
	return map[string]any{
		"first_name":   "Grace",
		"last_name":    "Hopper",
		"email":        email,
		"phone_number": "+1-555-0100",
		"birthday":     "1906-12-09",
		"note":         "compilers",
	}
}
