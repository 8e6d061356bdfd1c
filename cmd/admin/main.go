// Command admin provisions the first administrator account.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"golang.org/x/term"

	"rollcall/attendance/internal/clock"
	"rollcall/attendance/internal/config"
	"rollcall/attendance/internal/db"
	"rollcall/attendance/internal/logging"
	"rollcall/attendance/internal/notify"
	"rollcall/attendance/internal/users"
)

// readPassword is swapped in tests so no terminal is needed.
var readPassword = term.ReadPassword

func main() {
	email := flag.String("email", "", "admin email address")
	first := flag.String("first-name", "", "admin first name")
	last := flag.String("last-name", "", "admin last name")
	flag.Parse()

	if *email == "" || *first == "" || *last == "" {
		flag.Usage()
		os.Exit(2)
	}

	password, err := promptPassword(os.Stderr, int(os.Stdin.Fd()))
	if err != nil {
		log.Fatalf("read password: %v", err)
	}

	cfg := config.Load()
	logger := logging.NewJSON(os.Stderr, cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection failed: %v", err)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	store := db.NewStore(pool)
	notifier := notify.NewNotifier(notify.NewLogMailer(logger), cfg.NotifyTimeout, logger)
	svc := users.NewService(store.Queries, notifier, nil, users.TokenConfig{
		Secret: cfg.JWTSecret,
		Issuer: cfg.JWTIssuer,
		TTL:    cfg.AccessTokenTTL,
	}, users.PhotoLimits{}, clock.Real{}, logger)

	admin, err := svc.Bootstrap(ctx, users.CreateInput{Email: *email, FirstName: *first, LastName: *last}, password)
	if err != nil {
		log.Fatalf("create admin: %v", err)
	}
	fmt.Printf("created admin %s (%s)\n", admin.Email, admin.ID)
}

// promptPassword reads the password twice without echo and requires both
// entries to match.
func promptPassword(w io.Writer, fd int) (string, error) {
	fmt.Fprint(w, "Password: ")
	first, err := readPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	fmt.Fprint(w, "Confirm password: ")
	second, err := readPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}
