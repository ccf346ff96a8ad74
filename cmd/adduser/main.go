package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hiromu1018ks/kakeibo-app/internal/auth"
	"github.com/hiromu1018ks/kakeibo-app/internal/storage"

	"golang.org/x/term"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("adduser", flag.ContinueOnError)
	fs.SetOutput(stderr)

	name := fs.String("name", "", "Display name")
	email := fs.String("email", "", "Email address (login ID)")
	passwordFlag := fs.String("password", "", "Password (optional, will prompt if omitted)")
	dbPath := fs.String("db", "kakeibo.db", "Path to database file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	var missing []string
	if *name == "" {
		missing = append(missing, "name")
	}
	if *email == "" {
		missing = append(missing, "email")
	}
	if len(missing) > 0 {
		fmt.Fprintln(stdout, "Usage: adduser -name <name> -email <email> [-password <password>] [-db <db_path>]")
		fs.PrintDefaults()
		return fmt.Errorf("missing required flags: %s", strings.Join(missing, ", "))
	}

	password := *passwordFlag
	if password == "" {
		fmt.Fprint(stdout, "Password: ")
		var err error
		password, err = readPassword(stdin)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(stdout)
	}

	if strings.TrimSpace(password) == "" {
		return fmt.Errorf("password cannot be empty")
	}

	// DB_PATH only applies when the flag was left at its default.
	if path := os.Getenv("DB_PATH"); path != "" && *dbPath == "kakeibo.db" {
		*dbPath = path
	}

	db, err := storage.NewDB(*dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if _, err := db.GetUserByEmail(*email); err == nil {
		return fmt.Errorf("user %s already exists", *email)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to look up user: %w", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := db.CreateUser(*name, *email, hash)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Fprintf(stdout, "User %s <%s> created successfully with ID %d\n", user.Name, user.Email, user.ID)
	return nil
}

func readPassword(stdin io.Reader) (string, error) {
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		bytePassword, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return string(bytePassword), nil
	}

	// Fallback for non-terminal input (tests, pipes).
	scanner := bufio.NewScanner(stdin)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}
