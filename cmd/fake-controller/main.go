// ABOUTME: Fake control plane for developing and demoing l2gw agents
// ABOUTME: Usage: fake-controller [-addr 127.0.0.1:8443] [-secret ...] [-allow keys] [-mode monitor]

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/ovsnet/l2gw-agent/internal/auth"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8443", "websocket listen address")
	adminAddr := flag.String("admin-addr", "127.0.0.1:9643", "admin HTTP listen address (empty to disable)")
	secret := flag.String("secret", os.Getenv("L2GW_TOKEN_SECRET"), "shared token secret (env L2GW_TOKEN_SECRET)")
	allowFile := flag.String("allow", "", "authorized_keys file restricting agent SSH keys")
	initialMode := flag.String("mode", "", "cast this agent mode to every agent on connect")
	noPrompt := flag.Bool("no-prompt", false, "disable the interactive prompt")
	flag.Parse()

	if err := run(*addr, *adminAddr, *secret, *allowFile, *initialMode, *noPrompt); err != nil {
		log.Fatal(err)
	}
}

func run(addr, adminAddr, secret, allowFile, initialMode string, noPrompt bool) error {
	if secret == "" {
		return errors.New("a token secret is required (-secret or L2GW_TOKEN_SECRET)")
	}
	switch initialMode {
	case "", "monitor", "transact", "none":
	default:
		return fmt.Errorf("unknown mode %q (use monitor, transact or none)", initialMode)
	}

	tokens, err := auth.NewTokenManager([]byte(secret))
	if err != nil {
		return err
	}
	verifier := auth.NewVerifier(tokens)
	defer verifier.Close()

	if allowFile != "" {
		n, err := loadAllowlist(verifier, allowFile)
		if err != nil {
			return err
		}
		fmt.Printf("allowlisted %d key(s) from %s\n", n, allowFile)
	}

	ctrl := newController(verifier, initialMode)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/agent", ctrl.handleAgent)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 2)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("websocket server: %w", err)
		}
	}()

	var adminSrv *http.Server
	if adminAddr != "" {
		adminSrv = &http.Server{Addr: adminAddr, Handler: ctrl.adminMux(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("admin server: %w", err)
			}
		}()
	}

	cyan := color.New(color.FgCyan)
	cyan.Println("fake-controller listening")
	fmt.Printf("  agents: ws://%s/v1/agent\n", addr)
	if adminAddr != "" {
		fmt.Printf("  admin:  http://%s\n", adminAddr)
	}
	if initialMode != "" {
		fmt.Printf("  mode:   casting %q on connect\n", initialMode)
	}
	fmt.Println()

	if !noPrompt {
		go runPrompt(ctrl, cancel)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	if adminSrv != nil {
		_ = adminSrv.Shutdown(shutdownCtx)
	}
	return runErr
}

// loadAllowlist feeds every key line of an authorized_keys file to the
// verifier. Blank lines and comments are skipped.
func loadAllowlist(verifier *auth.Verifier, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading allowlist: %w", err)
	}

	n := 0
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := verifier.AllowKey(line); err != nil {
			return 0, fmt.Errorf("allowlisting %q: %w", truncate(line, 40), err)
		}
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("allowlist %s contains no keys", path)
	}
	return n, nil
}
