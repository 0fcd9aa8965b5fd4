package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/contactbook/apiserver/config"
	"github.com/contactbook/apiserver/internal/auth"
	"github.com/contactbook/apiserver/internal/db"
	"github.com/contactbook/apiserver/internal/handlers"
	"github.com/contactbook/apiserver/internal/mailer"
	"github.com/contactbook/apiserver/internal/mailq"
	"github.com/contactbook/apiserver/internal/ratelimit"
	"github.com/contactbook/apiserver/internal/services"
	"github.com/contactbook/apiserver/internal/storage"
	"github.com/contactbook/apiserver/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

// Server wraps the HTTP server, router, background worker, and shared
// resources.
type Server struct {
	httpServer   *http.Server
	router       *chi.Mux
	db           *sql.DB
	mailQueue    *mailq.Queue
	limiter      ratelimit.Limiter
	workerCancel context.CancelFunc
}

// New constructs a fully wired Server from config.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	userRepo := store.NewUserRepository(dbConn)
	contactRepo := store.NewContactRepository(dbConn)

	userService := services.NewUserService(userRepo)
	contactService := services.NewContactService(contactRepo)

	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)

	mailBackend, err := newMailBackend(cfg.Mail)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	queueBackend, err := newQueueBackend(ctx, cfg.Queue)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}
	mailQueue := mailq.NewQueue(queueBackend, cfg.Queue.QueueName)

	avatarBackend, err := newStorageBackend(ctx, cfg.Storage)
	if err != nil {
		_ = mailQueue.Close()
		_ = dbConn.Close()
		return nil, err
	}
	avatars := storage.NewStorage(avatarBackend)
	if err := avatars.EnsureBucket(ctx); err != nil {
		_ = mailQueue.Close()
		_ = dbConn.Close()
		return nil, err
	}

	limiter := newLimiter(cfg.RateLimit)

	authHandler := handlers.NewAuthHandler(userService, tokens, mailQueue, avatars)
	contactHandler := handlers.NewContactHandler(contactService, limiter)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	handlers.AuthRouter(router, authHandler)
	router.Route("/users", func(r chi.Router) {
		handlers.UserRouter(r, authHandler)
	})
	router.Route("/contacts", func(r chi.Router) {
		r.Use(authHandler.RequireAuth)
		handlers.ContactRouter(r, contactHandler, authHandler.RequireVerified)
	})

	workerCtx, workerCancel := context.WithCancel(context.Background())
	worker := mailq.NewWorker(mailQueue, mailer.NewMailer(mailBackend), cfg.PublicBaseURL)
	go func() {
		if err := worker.Run(workerCtx); err != nil {
			log.Printf("mail worker stopped: %v", err)
		}
	}()

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer:   httpServer,
		router:       router,
		db:           dbConn,
		mailQueue:    mailQueue,
		limiter:      limiter,
		workerCancel: workerCancel,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the HTTP server, the mail worker, the queue, the rate
// limiter, and the database pool.
func (s *Server) Shutdown() error {
	if s.workerCancel != nil {
		s.workerCancel()
	}
	if s.mailQueue != nil {
		_ = s.mailQueue.Close()
	}
	if s.limiter != nil {
		_ = s.limiter.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return s.httpServer.Close()
}

func newMailBackend(cfg config.MailConfig) (mailer.Sender, error) {
	switch cfg.Backend {
	case "smtp", "":
		return mailer.NewSMTPClient(cfg.SMTP, cfg.FromAddress)
	case "sendgrid":
		return mailer.NewSendGridClient(cfg.SendGrid, cfg.FromAddress)
	default:
		return nil, fmt.Errorf("unknown mail backend %q", cfg.Backend)
	}
}

func newQueueBackend(ctx context.Context, cfg config.QueueConfig) (mailq.Backend, error) {
	switch cfg.Backend {
	case "rabbitmq", "":
		return mailq.NewRabbitMQBackend(cfg.RabbitMQ)
	case "pubsub":
		return mailq.NewPubSubBackend(ctx, cfg.PubSub)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}

func newStorageBackend(ctx context.Context, cfg config.StorageConfig) (storage.ObjectStorage, error) {
	switch cfg.Backend {
	case "minio", "":
		return storage.NewMinioClient(cfg.Minio)
	case "gcs":
		return storage.NewGCSClient(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func newLimiter(cfg config.RateLimitConfig) ratelimit.Limiter {
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		client := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		return ratelimit.NewRedisLimiter(client, "ratelimit:contacts:", cfg.Limit, cfg.Window)
	}
	return ratelimit.NewMemoryLimiter(cfg.Limit, cfg.Window)
}
