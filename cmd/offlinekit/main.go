// Command offlinekit runs the substrate as a local service: it opens the
// store, starts the connectivity prober and the sync engine, and serves the
// gateway over HTTP so a UI can talk to it.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/bjpl/offlinekit"
	"github.com/bjpl/offlinekit/internal/config"
	"github.com/bjpl/offlinekit/internal/logging"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = func() ([]byte, error) {
	return term.ReadPassword(int(os.Stdin.Fd()))
}

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	client, err := offlinekit.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer client.Close()

	if client.Session() == nil && term.IsTerminal(int(os.Stdin.Fd())) {
		if err := promptLogin(ctx, client); err != nil {
			log.Warn(ctx, "interactive login skipped", "error", err)
		}
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           client.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "gateway listening", "addr", cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func promptLogin(ctx context.Context, client *offlinekit.Client) error {
	var username string
	fmt.Print("Username: ")
	if _, err := fmt.Scanln(&username); err != nil {
		return err
	}

	fmt.Print("Password: ")
	password, err := readPassword()
	fmt.Println()
	if err != nil {
		return err
	}

	if _, err := client.Login(ctx, username, string(password)); err != nil {
		return err
	}
	fmt.Printf("Logged in as %s\n", username)
	return nil
}
