// Command adduser provisions an admin or student login in the users table.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/school-funds/school_funds/internal/config"
	"github.com/school-funds/school_funds/internal/identity"
	"github.com/school-funds/school_funds/internal/infra"
)

func main() {
	email := flag.String("email", "", "login email")
	password := flag.String("password", os.Getenv("ADDUSER_PASSWORD"), "login password (or ADDUSER_PASSWORD)")
	role := flag.String("role", string(identity.RoleAdmin), "admin or student")
	flag.Parse()

	if err := run(*email, *password, identity.Role(*role)); err != nil {
		fmt.Fprintf(os.Stderr, "adduser: %v\n", err)
		os.Exit(1)
	}
}

func run(email, password string, role identity.Role) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := infra.EnsureSchema(ctx, db); err != nil {
		return err
	}

	user, err := identity.NewService(identity.NewPostgresRepository(db)).Register(ctx, email, password, role)
	if err != nil {
		return err
	}

	fmt.Printf("user created: %s (%s) id=%s\n", user.Email, user.Role, user.ID)
	return nil
}
