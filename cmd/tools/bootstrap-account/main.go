// Command bootstrap-account seeds a publisher account in the datastore so an
// operator can log in before self-registration is exposed anywhere.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"pressconnect/internal/identity"
	"pressconnect/internal/storage"
)

func main() {
	var (
		postgresDSN string
		username    string
		email       string
		password    string
	)

	flag.StringVar(&postgresDSN, "postgres-dsn", "", "Postgres connection string")
	flag.StringVar(&username, "username", "", "Username for the account")
	flag.StringVar(&email, "email", "", "Email address for the account")
	flag.StringVar(&password, "password", "", "Password for the account")
	flag.Parse()

	if strings.TrimSpace(postgresDSN) == "" {
		postgresDSN = strings.TrimSpace(os.Getenv("PRESSCONNECT_POSTGRES_DSN"))
	}
	if postgresDSN == "" {
		fatalf("--postgres-dsn or PRESSCONNECT_POSTGRES_DSN is required")
	}
	if strings.TrimSpace(username) == "" {
		fatalf("--username is required")
	}
	if strings.TrimSpace(email) == "" {
		fatalf("--email is required")
	}
	if password == "" {
		fatalf("--password is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo, err := storage.NewPostgresRepository(ctx, storage.PostgresConfig{DSN: postgresDSN})
	if err != nil {
		fatalf("open datastore: %v", err)
	}
	defer func() {
		closeCtx, cancelClose := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelClose()
		_ = repo.Close(closeCtx)
	}()

	if err := repo.EnsureSchema(ctx); err != nil {
		fatalf("apply schema: %v", err)
	}

	// The issued token is discarded, so the signing secret only has to be
	// non-empty for the service to construct.
	svc, err := identity.NewService(repo, identity.Config{Secret: uuid.NewString()})
	if err != nil {
		fatalf("initialise identity service: %v", err)
	}

	user, _, err := svc.Register(ctx, username, email, password)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrUsernameTaken):
			fatalf("username %q is already registered", username)
		case errors.Is(err, identity.ErrEmailTaken):
			fatalf("email %q is already registered", email)
		default:
			fatalf("create account: %v", err)
		}
	}

	fmt.Printf("Account %s (%s) created with id %s.\n", user.Username, user.Email, user.ID)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
