package demoapp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qalab/browserflow/pkg/logger"
)

// DefaultAddr is where the app listens unless told otherwise.
const DefaultAddr = ":5000"

const shutdownTimeout = 5 * time.Second

// Server is the demo application.
type Server struct {
	Addr string

	store    *Store
	sessions *Sessions
	pages    pages
	metrics  *metrics
	router   chi.Router
}

// New creates a server with a freshly seeded store.
func New(addr string) (*Server, error) {
	return newServer(addr, NewStore())
}

func newServer(addr string, store *Store) (*Server, error) {
	p, err := loadPages()
	if err != nil {
		return nil, err
	}
	if addr == "" {
		addr = DefaultAddr
	}
	s := &Server{
		Addr:     addr,
		store:    store,
		sessions: NewSessions(),
		pages:    p,
		metrics:  newMetrics(store),
	}
	s.router = s.routes()
	return s, nil
}

// Store returns the user store.
func (s *Server) Store() *Store {
	return s.store
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/", s.handleLoginPage)
	r.Get("/login", s.handleLoginPage)
	r.Post("/login", s.handleLogin)
	r.Get("/signup", s.handleSignupPage)
	r.Post("/signup", s.handleSignup)
	r.Get("/dashboard", s.handleDashboard)
	r.Get("/logout", s.handleLogout)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Warn("healthz write error: %v", err)
		}
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("demo app listening on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("demo app shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) render(w http.ResponseWriter, sid, page string, data pageData) {
	data.Flashes = s.sessions.PopFlashes(sid)
	if err := s.pages.render(w, page, data); err != nil {
		logger.Error("render %s: %v", page, err)
	}
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, s.sessions.lookup(r), pageLogin, pageData{})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	sid := s.sessions.ensure(w, r)
	form := loginFormFrom(r)

	if msg := ValidateLogin(form); msg != "" {
		s.metrics.loginAttempts.WithLabelValues(loginRejected).Inc()
		s.sessions.AddFlash(sid, FlashError, msg)
		s.render(w, sid, pageLogin, pageData{})
		return
	}

	user, err := s.store.Authenticate(form.Email, form.Password)
	if err != nil {
		s.metrics.loginAttempts.WithLabelValues(loginInvalid).Inc()
		s.sessions.AddFlash(sid, FlashError, msgInvalidCredentials)
		s.render(w, sid, pageLogin, pageData{})
		return
	}

	s.metrics.loginAttempts.WithLabelValues(loginSuccess).Inc()
	s.sessions.SetUser(sid, user.Email)
	s.sessions.AddFlash(sid, FlashSuccess, "Login successful!")
	http.Redirect(w, r, "/dashboard", http.StatusFound)
}

func (s *Server) handleSignupPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, s.sessions.lookup(r), pageSignup, pageData{})
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	sid := s.sessions.ensure(w, r)
	form := signupFormFrom(r)

	errs := ValidateSignup(form, s.store.Exists)
	if len(errs) == 0 {
		if err := s.store.Register(form); err != nil {
			msg := msgEmailTaken
			if !errors.Is(err, ErrEmailTaken) {
				logger.Error("register %s: %v", form.Email, err)
				msg = "Could not create account"
			}
			errs = append(errs, msg)
		}
	}
	if len(errs) > 0 {
		s.metrics.signups.WithLabelValues(signupRejected).Inc()
		s.sessions.AddFlash(sid, FlashError, errs...)
		s.render(w, sid, pageSignup, pageData{})
		return
	}

	s.metrics.signups.WithLabelValues(signupCreated).Inc()
	s.sessions.AddFlash(sid, FlashSuccess, "Account created successfully! Please login.")
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	sid := s.sessions.lookup(r)
	email, ok := s.sessions.User(sid)
	if !ok {
		s.sessions.AddFlash(s.sessions.ensure(w, r), FlashError, "Please login first")
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	user, _ := s.store.Lookup(email)
	s.render(w, sid, pageDashboard, pageData{User: user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sid := s.sessions.lookup(r); sid != "" {
		s.sessions.Delete(sid)
	}
	s.sessions.AddFlash(s.sessions.ensure(w, r), FlashSuccess, "Logged out successfully")
	http.Redirect(w, r, "/login", http.StatusFound)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.WithFields(map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"bytes":    ww.BytesWritten(),
			"duration": time.Since(start).String(),
		}).Debug("request")
	})
}
