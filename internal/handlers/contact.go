package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/contactbook/apiserver/internal/ratelimit"
	"github.com/contactbook/apiserver/internal/services"
	"github.com/contactbook/apiserver/internal/store"
	"github.com/contactbook/apiserver/types"
	"github.com/go-chi/chi/v5"
)

// ContactHandler provides HTTP handlers for the authenticated contact CRUD,
// search, and birthday endpoints.
type ContactHandler struct {
	contactService *services.ContactService
	limiter        ratelimit.Limiter
}

// NewContactHandler constructs a handler with the provided dependencies.
func NewContactHandler(contactService *services.ContactService, limiter ratelimit.Limiter) *ContactHandler {
	return &ContactHandler{
		contactService: contactService,
		limiter:        limiter,
	}
}

// ContactRouter registers contact routes on the given router. All routes
// require authentication; creation additionally requires a verified identity
// and passes the per-identity rate limiter.
func ContactRouter(r chi.Router, handler *ContactHandler, requireVerified func(http.Handler) http.Handler) {
	r.Get("/", handler.ListContacts)
	r.With(requireVerified, handler.rateLimit).Post("/", handler.CreateContact)
	r.Get("/search/", handler.SearchContacts)
	r.Get("/birthdays/", handler.UpcomingBirthdays)
	r.Route("/{contactID}", func(r chi.Router) {
		r.Get("/", handler.GetContact)
		r.Put("/", handler.UpdateContact)
		r.Delete("/", handler.DeleteContact)
	})
}

// rateLimit bounds contact creation per authenticated identity. A limiter
// backend error fails open so a degraded Redis does not block writes.
func (h *ContactHandler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := userFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		allowed, err := h.limiter.Allow(r.Context(), user.Email)
		if err != nil {
			log.Printf("rate limiter for %s: %v", user.Email, err)
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *ContactHandler) ListContacts(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	skip, limit, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	contacts, total, err := h.contactService.List(r.Context(), user.ID, skip, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list contacts")
		return
	}

	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	writeJSON(w, http.StatusOK, contacts)
}

func (h *ContactHandler) GetContact(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parseContactID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	contact, err := h.contactService.Get(r.Context(), user.ID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "contact not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch contact")
		return
	}

	writeJSON(w, http.StatusOK, contact)
}

func (h *ContactHandler) CreateContact(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	req, err := parseContactPayload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.contactService.Create(r.Context(), types.Contact{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		PhoneNumber: req.PhoneNumber,
		Birthday:    req.Birthday,
		Note:        req.Note,
		UserID:      user.ID,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusBadRequest, "contact with this email already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create contact")
		return
	}

	writeJSON(w, http.StatusOK, created)
}

func (h *ContactHandler) UpdateContact(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parseContactID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var update types.ContactUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	updated, err := h.contactService.Update(r.Context(), user.ID, id, update)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "contact not found")
		case errors.Is(err, store.ErrConflict):
			writeError(w, http.StatusBadRequest, "contact with this email already exists")
		default:
			writeError(w, http.StatusInternalServerError, "failed to update contact")
		}
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (h *ContactHandler) DeleteContact(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parseContactID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	deleted, err := h.contactService.Delete(r.Context(), user.ID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "contact not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete contact")
		return
	}

	writeJSON(w, http.StatusOK, deleted)
}

func (h *ContactHandler) SearchContacts(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	contacts, err := h.contactService.Search(r.Context(), user.ID, r.URL.Query().Get("query"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to search contacts")
		return
	}

	writeJSON(w, http.StatusOK, contacts)
}

func (h *ContactHandler) UpcomingBirthdays(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	contacts, err := h.contactService.UpcomingBirthdays(r.Context(), user.ID, time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch birthdays")
		return
	}

	writeJSON(w, http.StatusOK, contacts)
}

// ContactPayload is the full-body payload for contact creation.
type ContactPayload struct {
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	Email       string     `json:"email"`
	PhoneNumber string     `json:"phone_number"`
	Birthday    types.Date `json:"birthday"`
	Note        string     `json:"note"`
}

func parseContactPayload(r *http.Request) (ContactPayload, error) {
	var req ContactPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return ContactPayload{}, errors.New("invalid request")
	}

	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Email = strings.TrimSpace(req.Email)
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)

	if req.FirstName == "" || req.LastName == "" || req.Email == "" || req.PhoneNumber == "" {
		return ContactPayload{}, errors.New("missing required fields")
	}
	if req.Birthday.IsZero() {
		return ContactPayload{}, errors.New("birthday is required")
	}

	return req, nil
}
