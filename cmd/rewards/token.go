package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/mmeshcher/rewards-engine/internal/middleware"
)

// runToken выпускает токен доступа для ручной проверки API.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	userID := fs.Int64("user", 0, "user id")
	role := fs.String("role", middleware.RoleUser, "token role: user or admin")
	secret := fs.String("s", os.Getenv("AUTH_SECRET"), "secret for access token signatures")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID <= 0 {
		return errors.New("token: -user must be positive")
	}
	if *role != middleware.RoleUser && *role != middleware.RoleAdmin {
		return fmt.Errorf("token: unknown role %q", *role)
	}
	if *secret == "" {
		return errors.New("token: secret is required")
	}

	token, err := middleware.NewAuthMiddleware(*secret).IssueToken(*userID, *role)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
