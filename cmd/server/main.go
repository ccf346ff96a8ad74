package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/hiromu1018ks/kakeibo-app/internal/auth"
	"github.com/hiromu1018ks/kakeibo-app/internal/config"
	"github.com/hiromu1018ks/kakeibo-app/internal/handlers"
	"github.com/hiromu1018ks/kakeibo-app/internal/storage"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; the environment wins when both are set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	db, err := storage.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := bootstrapAdmin(db); err != nil {
		return fmt.Errorf("bootstrap admin user: %w", err)
	}

	if err := db.CleanExpiredSessions(); err != nil {
		slog.Warn("failed to clean expired sessions", "error", err)
	}

	h := handlers.NewHandlers(db, cfg.TemplateDir, cfg.SecureCookie)
	mux := setupRouter(h, cfg.StaticDir)

	addr := ":" + cfg.Port
	slog.Info("starting server", "addr", addr, "db", cfg.DBPath)
	return http.ListenAndServe(addr, mux)
}

// setupRouter registers all routes on a fresh mux. Everything under the
// transaction and dashboard paths sits behind the auth middleware.
func setupRouter(h *handlers.Handlers, staticDir string) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/dashboard", http.StatusFound)
	})

	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))

	mux.HandleFunc("GET /login", h.LoginForm)
	mux.HandleFunc("POST /login", h.Login)
	mux.HandleFunc("POST /logout", h.Logout)

	authed := func(fn http.HandlerFunc) http.Handler {
		return h.AuthMiddleware(fn)
	}

	mux.Handle("GET /dashboard", authed(h.Dashboard))
	mux.Handle("GET /transactions", authed(h.Dashboard))
	mux.Handle("GET /transactions/create", authed(h.NewTransactionForm))
	mux.Handle("POST /transactions", authed(h.CreateTransaction))
	mux.Handle("GET /transactions/{id}/edit", authed(h.EditTransactionForm))
	mux.Handle("POST /transactions/{id}", authed(h.UpdateTransaction))
	mux.Handle("POST /transactions/{id}/delete", authed(h.DeleteTransaction))

	return mux
}

// bootstrapAdmin creates an initial account from ADMIN_NAME, ADMIN_EMAIL and
// ADMIN_PASSWORD when the users table is empty. Meant for first boot and for
// test environments; adduser is the normal way to manage accounts.
func bootstrapAdmin(db *storage.DB) error {
	email := os.Getenv("ADMIN_EMAIL")
	password := os.Getenv("ADMIN_PASSWORD")
	if email == "" || password == "" {
		return nil
	}

	count, err := db.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	name := os.Getenv("ADMIN_NAME")
	if name == "" {
		name = "admin"
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	user, err := db.CreateUser(name, email, hash)
	if err != nil {
		return err
	}
	slog.Info("created initial admin user", "user_id", user.ID, "email", email)
	return nil
}
