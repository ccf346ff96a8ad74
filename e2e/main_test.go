package e2e

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

var (
	appURL string
)

func TestMain(m *testing.M) {
	if os.Getenv("KAKEIBO_E2E") == "" {
		fmt.Println("Skipping e2e tests; set KAKEIBO_E2E=1 to run them")
		os.Exit(0)
	}
	os.Exit(runTestMain(m))
}

func runTestMain(m *testing.M) int {
	// Build the server binary. Tests normally run from the e2e directory.
	buildPath := filepath.Join(os.TempDir(), "kakeibo-app-test")
	cmd := exec.Command("go", "build", "-o", buildPath, "../cmd/server")
	if _, err := os.Stat("../cmd/server"); os.IsNotExist(err) {
		if _, err := os.Stat("cmd/server"); err == nil {
			cmd = exec.Command("go", "build", "-o", buildPath, "./cmd/server")
		} else {
			fmt.Println("Could not find cmd/server to build")
			return 1
		}
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		fmt.Printf("Failed to build app: %v\n%s\n", err, output)
		return 1
	}
	defer os.Remove(buildPath)

	dbPath := filepath.Join(os.TempDir(), "test_kakeibo.db")
	os.Remove(dbPath)
	defer os.Remove(dbPath)

	port := "8081"
	appURL = "http://localhost:" + port

	serverCmd := exec.Command(buildPath)
	serverCmd.Env = append(os.Environ(),
		"PORT="+port,
		"DB_PATH="+dbPath,
		"ADMIN_NAME=テストユーザー",
		"ADMIN_EMAIL=test@example.com",
		"ADMIN_PASSWORD=testpass123",
	)
	serverCmd.Dir = ".." // run from project root so web/templates resolves
	serverCmd.Stdout = os.Stdout
	serverCmd.Stderr = os.Stderr

	if err := serverCmd.Start(); err != nil {
		fmt.Printf("Failed to start server: %v\n", err)
		return 1
	}

	ready := false
	for range 50 {
		time.Sleep(100 * time.Millisecond)
		resp, err := http.Get(appURL + "/login")
		if err == nil && resp.StatusCode == 200 {
			ready = true
			resp.Body.Close()
			break
		}
	}

	if !ready {
		fmt.Println("Server failed to start or is not reachable")
		serverCmd.Process.Kill()
		return 1
	}

	code := m.Run()

	if err := serverCmd.Process.Kill(); err != nil {
		fmt.Printf("Failed to kill server: %v\n", err)
	}

	return code
}
