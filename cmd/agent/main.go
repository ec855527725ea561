// The agent command runs the darasa offline gateway. It also carries two
// small vault subcommands so students can save credentials for offline
// login without the gateway running:
//
//	agent login    prompt for email and password, save to the vault
//	agent logout   clear saved credentials
//	agent          run the gateway
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/darasa-app/darasa/internal/agent"
	"github.com/darasa-app/darasa/internal/agent/config"
	"github.com/darasa-app/darasa/internal/logging"
	"github.com/darasa-app/darasa/internal/vault"
)

func main() {
	cfg := config.LoadConfig()

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "login":
			if err := login(cfg); err != nil {
				fmt.Fprintln(os.Stderr, "login failed:", err)
				os.Exit(1)
			}
			return
		case "logout":
			if err := logout(cfg); err != nil {
				fmt.Fprintln(os.Stderr, "logout failed:", err)
				os.Exit(1)
			}
			return
		}
	}

	log := logging.NewTextLogger(os.Stderr, os.Getenv("DARASA_DEBUG") != "")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := agent.New(agent.Options{Config: cfg, Log: log})
	if err != nil {
		log.Error(ctx, "failed to start agent", "error", err)
		os.Exit(1)
	}

	if err := a.Run(ctx); err != nil {
		log.Error(ctx, "agent stopped with error", "error", err)
		os.Exit(1)
	}
}

// login prompts for credentials and saves them to the vault. The
// password is read with echo disabled.
func login(cfg *config.Config) error {
	v, err := vault.New(cfg.DataDir)
	if err != nil {
		return err
	}

	fmt.Print("Email: ")
	reader := bufio.NewReader(os.Stdin)
	email, err := reader.ReadString('\n')
	if err != nil {
		return err
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("email must not be empty")
	}

	fmt.Print("Password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return err
	}

	if err := v.Save(email, string(password)); err != nil {
		return err
	}
	fmt.Println("Credentials saved.")
	return nil
}

// logout clears saved credentials.
func logout(cfg *config.Config) error {
	v, err := vault.New(cfg.DataDir)
	if err != nil {
		return err
	}
	if err := v.Clear(); err != nil {
		return err
	}
	fmt.Println("Credentials cleared.")
	return nil
}
