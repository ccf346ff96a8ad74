package handlers

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/hiromu1018ks/kakeibo-app/internal/auth"
	"github.com/hiromu1018ks/kakeibo-app/internal/models"
	"github.com/hiromu1018ks/kakeibo-app/internal/report"
	"github.com/hiromu1018ks/kakeibo-app/internal/storage"
)

// Context key type to avoid collisions.
type contextKey string

const (
	// UserContextKey is the context key for the authenticated user.
	UserContextKey contextKey = "user"
	// SessionCookieName is the name of the session cookie.
	SessionCookieName = "session"
	// SessionDuration is how long sessions last (30 days).
	SessionDuration = 30 * 24 * time.Hour
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	db           *storage.DB
	engine       *report.Engine
	templateDir  string
	secureCookie bool
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(db *storage.DB, templateDir string, secureCookie bool) *Handlers {
	return &Handlers{
		db:           db,
		engine:       report.NewEngine(db),
		templateDir:  templateDir,
		secureCookie: secureCookie,
	}
}

// GetUserFromContext retrieves the authenticated user from request context.
func GetUserFromContext(r *http.Request) *models.User {
	if user, ok := r.Context().Value(UserContextKey).(*models.User); ok {
		return user
	}
	return nil
}

// AuthMiddleware wraps handlers to require authentication.
// It also implements rolling sessions: if a session is past the halfway point
// of its lifetime, it automatically renews the session.
func (h *Handlers) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookieName)
		if err != nil || cookie.Value == "" {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}

		sessionInfo, err := h.db.ValidateSessionWithInfo(cookie.Value)
		if err != nil {
			// Invalid or expired session, clear the cookie
			h.clearSessionCookie(w)
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}

		// Rolling session: renew if past the halfway point. Keeps active
		// users logged in while still expiring inactive sessions.
		now := time.Now()
		if sessionInfo.ExpiresAt.Sub(now) < SessionDuration/2 {
			newExpiresAt := now.Add(SessionDuration)
			if err := h.db.RenewSession(cookie.Value, newExpiresAt); err == nil {
				http.SetCookie(w, &http.Cookie{
					Name:     SessionCookieName,
					Value:    cookie.Value,
					Path:     "/",
					MaxAge:   int(SessionDuration.Seconds()),
					HttpOnly: true,
					Secure:   h.secureCookie,
					SameSite: http.SameSiteLaxMode,
				})
			}
			// If renewal fails, just continue with the current session
		}

		ctx := context.WithValue(r.Context(), UserContextKey, sessionInfo.User)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoginViewModel holds data for the login page.
type LoginViewModel struct {
	Error string
}

// LoginForm renders the login page.
func (h *Handlers) LoginForm(w http.ResponseWriter, r *http.Request) {
	// If already logged in, redirect to the dashboard
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		if _, err := h.db.ValidateSession(cookie.Value); err == nil {
			http.Redirect(w, r, "/dashboard", http.StatusFound)
			return
		}
	}
	h.render(w, "login.html", LoginViewModel{})
}

// Login handles the login form submission.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.render(w, "login.html", LoginViewModel{Error: "フォームの送信内容が不正です。"})
		return
	}

	email := strings.TrimSpace(r.FormValue("email"))
	password := r.FormValue("password")

	if email == "" || password == "" {
		h.render(w, "login.html", LoginViewModel{Error: "メールアドレスとパスワードを入力してください。"})
		return
	}

	user, err := h.db.GetUserByEmail(email)
	if err != nil || !auth.CheckPassword(password, user.PasswordHash) {
		h.render(w, "login.html", LoginViewModel{Error: "メールアドレスまたはパスワードが正しくありません。"})
		return
	}

	token, err := auth.GenerateSessionToken()
	if err != nil {
		slog.Error("failed to generate session token", "error", err)
		h.render(w, "login.html", LoginViewModel{Error: "エラーが発生しました。もう一度お試しください。"})
		return
	}

	expiresAt := time.Now().Add(SessionDuration)
	if err := h.db.CreateSession(token, user.ID, expiresAt); err != nil {
		slog.Error("failed to create session", "error", err, "user_id", user.ID)
		h.render(w, "login.html", LoginViewModel{Error: "エラーが発生しました。もう一度お試しください。"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(SessionDuration.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, "/dashboard", http.StatusFound)
}

// Logout handles user logout.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		if err := h.db.DeleteSession(cookie.Value); err != nil {
			slog.Error("failed to delete session", "error", err)
		}
	}
	h.clearSessionCookie(w)
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (h *Handlers) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

var templateFuncs = template.FuncMap{
	"yen": formatYen,
}

// formatYen renders an amount as yen with thousands separators, e.g. ¥1,000.
func formatYen(amount int64) string {
	neg := amount < 0
	if neg {
		amount = -amount
	}
	digits := fmt.Sprintf("%d", amount)
	var b strings.Builder
	if neg {
		b.WriteString("-")
	}
	b.WriteString("¥")
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
		if len(digits) > lead {
			b.WriteString(",")
		}
	}
	for i := lead; i < len(digits); i += 3 {
		b.WriteString(digits[i : i+3])
		if i+3 < len(digits) {
			b.WriteString(",")
		}
	}
	return b.String()
}

func (h *Handlers) render(w http.ResponseWriter, viewName string, data any) {
	h.renderStatus(w, http.StatusOK, viewName, data)
}

func (h *Handlers) renderStatus(w http.ResponseWriter, status int, viewName string, data any) {
	tmpl, err := template.New("base.html").Funcs(templateFuncs).ParseFiles(
		filepath.Join(h.templateDir, "base.html"),
		filepath.Join(h.templateDir, viewName),
	)
	if err != nil {
		slog.Error("template parse error", "error", err, "view", viewName)
		http.Error(w, "Template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		slog.Error("template execution error", "error", err, "view", viewName)
	}
}
