// Copyright 2026 The Wavelength Authors
// SPDX-License-Identifier: Apache-2.0

// wavelength-echo is a minimal chat bot built on the messaging
// package: it connects a session, subscribes to every conversation
// the account is a member of, and echoes back any live message
// written by someone else. It exists to exercise the full session
// lifecycle end to end against a real server.
//
// Configuration comes from a YAML file (--config or the
// WAVELENGTH_CONFIG environment variable). A config without a
// password or token prompts for the password on the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/wavelength-chat/wavelength/lib/config"
	"github.com/wavelength-chat/wavelength/messaging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "wavelength-echo: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var verbose bool

	flagSet := pflag.NewFlagSet("wavelength-echo", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the YAML config file (default: $"+config.EnvVar+")")
	flagSet.BoolVar(&verbose, "verbose", false, "enable debug logging")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := config.Read(configPath)
	if err != nil {
		return err
	}
	if cfg.Password == "" && cfg.Token == "" {
		password, err := promptPassword(cfg.Username)
		if err != nil {
			return err
		}
		cfg.Password = password
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	client, err := messaging.NewClient(messaging.ClientConfig{
		ServerURL: cfg.ServerURL,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	session, err := messaging.NewSession(messaging.SessionConfig{
		Client: client,
		Credentials: messaging.Credentials{
			Username: cfg.Username,
			Password: cfg.Password,
			Token:    cfg.Token,
		},
		Team:   cfg.Team,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session.OnConnected(func(identity *messaging.User) {
		logger.Info("echo bot online",
			"username", identity.Username,
			"team", cfg.Team,
		)
		go subscribeRooms(ctx, session, identity, logger)
	})
	session.OnReconnected(func() {
		logger.Info("echo bot back online")
	})

	err = session.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("echo bot shutting down")
		return nil
	}
	return err
}

// subscribeRooms waits for the session to enumerate its conversations
// and attaches the echo callback to each. Rooms are created exactly
// once per session, so a single pass suffices; the rooms are left in
// their idle fetch state so only live messages arrive — the bot never
// echoes history.
func subscribeRooms(ctx context.Context, session *messaging.Session, identity *messaging.User, logger *slog.Logger) {
	var rooms []*messaging.Room
	for {
		rooms = session.Rooms()
		if len(rooms) > 0 {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}

	for _, room := range rooms {
		room.Subscribe(func(msg *messaging.Message) {
			if msg.Speaker != nil && msg.Speaker.ID == identity.ID {
				return
			}
			// Subscription callbacks must not block; the reply is a
			// REST round trip.
			go echo(ctx, session, room, msg, logger)
		})
		logger.Info("listening", "room", room.DisplayName())
	}
}

func echo(ctx context.Context, session *messaging.Session, room *messaging.Room, msg *messaging.Message, logger *slog.Logger) {
	if err := session.SendTyping(room.ID()); err != nil {
		// The indicator is cosmetic; the echo itself still goes out.
		logger.Debug("typing indicator not sent", "error", err)
	}
	if _, err := session.SendMessage(ctx, room.ID(), msg.Text); err != nil {
		logger.Warn("echo failed",
			"room", room.DisplayName(),
			"error", err,
		)
		return
	}
	logger.Debug("echoed",
		"room", room.DisplayName(),
		"speaker", msg.Speaker.DisplayName(),
	)
}

// promptPassword reads a password from the controlling terminal with
// echo disabled. Refuses to run without a terminal rather than
// reading a password from a pipe.
func promptPassword(username string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no password or token in config and stdin is not a terminal")
	}
	fmt.Fprintf(os.Stderr, "password for %s: ", username)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	if len(password) == 0 {
		return "", fmt.Errorf("empty password")
	}
	return string(password), nil
}
