package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/hiromu1018ks/kakeibo-app/internal/handlers"
	"github.com/hiromu1018ks/kakeibo-app/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupRouter(t *testing.T) {
	db, err := storage.NewDB(":memory:")
	require.NoError(t, err, "failed to create database")
	defer db.Close()

	// Relative paths because tests run from cmd/server.
	h := handlers.NewHandlers(db, "../../web/templates", false)

	if _, err := os.Stat("../../web/templates"); os.IsNotExist(err) {
		t.Skip("Template directory not found, skipping router test")
	}

	mux := setupRouter(h, "../../web/static")

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		allowAlt   []int
	}{
		{
			name:       "Root redirects to /dashboard",
			method:     "GET",
			path:       "/",
			wantStatus: http.StatusFound,
		},
		{
			name:       "Static file access",
			method:     "GET",
			path:       "/static/style.css",
			wantStatus: http.StatusOK,
			allowAlt:   []int{http.StatusNotFound},
		},
		{
			name:       "Dashboard requires auth",
			method:     "GET",
			path:       "/dashboard",
			wantStatus: http.StatusFound,
		},
		{
			name:       "Transaction listing requires auth",
			method:     "GET",
			path:       "/transactions",
			wantStatus: http.StatusFound,
		},
		{
			name:       "Creation form requires auth",
			method:     "GET",
			path:       "/transactions/create",
			wantStatus: http.StatusFound,
		},
		{
			name:       "Edit form requires auth",
			method:     "GET",
			path:       "/transactions/1/edit",
			wantStatus: http.StatusFound,
		},
		{
			name:       "Login page is public",
			method:     "GET",
			path:       "/login",
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			w := httptest.NewRecorder()

			mux.ServeHTTP(w, req)

			if len(tt.allowAlt) > 0 {
				acceptableStatuses := append([]int{tt.wantStatus}, tt.allowAlt...)
				assert.Contains(t, acceptableStatuses, w.Code,
					"%s %s returned unexpected status", tt.method, tt.path)
			} else {
				assert.Equal(t, tt.wantStatus, w.Code,
					"%s %s returned unexpected status", tt.method, tt.path)
			}
		})
	}
}

func TestSetupRouter_AuthRedirectsToLogin(t *testing.T) {
	db, err := storage.NewDB(":memory:")
	require.NoError(t, err)
	defer db.Close()

	h := handlers.NewHandlers(db, "../../web/templates", false)
	mux := setupRouter(h, "../../web/static")

	req := httptest.NewRequest("GET", "/dashboard", http.NoBody)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))
}

func TestBootstrapAdmin(t *testing.T) {
	t.Run("creates user when table is empty", func(t *testing.T) {
		db, err := storage.NewDB(":memory:")
		require.NoError(t, err)
		defer db.Close()

		t.Setenv("ADMIN_NAME", "管理者")
		t.Setenv("ADMIN_EMAIL", "admin@example.com")
		t.Setenv("ADMIN_PASSWORD", "bootpass123")

		require.NoError(t, bootstrapAdmin(db))

		user, err := db.GetUserByEmail("admin@example.com")
		require.NoError(t, err)
		assert.Equal(t, "管理者", user.Name)
	})

	t.Run("no-op when users exist", func(t *testing.T) {
		db, err := storage.NewDB(":memory:")
		require.NoError(t, err)
		defer db.Close()

		_, err = db.CreateUser("既存", "existing@example.com", "hash")
		require.NoError(t, err)

		t.Setenv("ADMIN_EMAIL", "admin@example.com")
		t.Setenv("ADMIN_PASSWORD", "bootpass123")

		require.NoError(t, bootstrapAdmin(db))

		count, err := db.UserCount()
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("no-op without env vars", func(t *testing.T) {
		db, err := storage.NewDB(":memory:")
		require.NoError(t, err)
		defer db.Close()

		t.Setenv("ADMIN_EMAIL", "")
		t.Setenv("ADMIN_PASSWORD", "")

		require.NoError(t, bootstrapAdmin(db))

		count, err := db.UserCount()
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})
}
