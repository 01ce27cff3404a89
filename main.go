// taskchat - A terminal client for task-scoped team chat.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/taskchat/internal/cache"
	"github.com/jeranaias/taskchat/internal/chat"
	"github.com/jeranaias/taskchat/internal/config"
	"github.com/jeranaias/taskchat/internal/prefs"
	"github.com/jeranaias/taskchat/internal/presence"
	"github.com/jeranaias/taskchat/internal/rest"
	"github.com/jeranaias/taskchat/internal/socket"
	"github.com/jeranaias/taskchat/internal/store"
	"github.com/jeranaias/taskchat/internal/taskctx"
	uichat "github.com/jeranaias/taskchat/internal/ui/chat"
	"github.com/jeranaias/taskchat/internal/ui/styles"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to config file (default ~/.taskchat/config.toml)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("taskchat %s (%s, %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "taskchat: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	dir, err := config.ConfigDir()
	if err != nil {
		return fmt.Errorf("resolving config dir: %w", err)
	}

	// Stdout belongs to the TUI; logs go to a file.
	logFile, err := tea.LogToFile(filepath.Join(dir, "taskchat.log"), "taskchat")
	if err == nil {
		defer logFile.Close()
	}

	prefStore := prefs.NewStore(dir)
	msgCache := cache.NewPersistent(filepath.Join(dir, "cache", "messages"), cfg.CacheTTL())
	taskRepo := taskctx.NewRepository(dir)
	convStore := store.New(cfg.Identity.UserID)
	tracker := presence.NewTracker(cfg.TypingExpiry())

	restClient := rest.NewClient(cfg.Server.BaseURL, cfg.Identity.UserID, cfg.Identity.OrganizationID).
		WithTimeout(cfg.RequestTimeout())

	sock := socket.NewClient(socket.Options{
		URL:            cfg.Server.SocketURL,
		UserID:         cfg.Identity.UserID,
		OrganizationID: cfg.Identity.OrganizationID,
		ReadinessWait:  cfg.ReadinessWait(),
		RetryBackoff:   cfg.RetryBackoff(),
		JoinRetries:    cfg.Chat.JoinRetries,
	})

	svc := chat.NewService(chat.Options{
		SelfID:      cfg.Identity.UserID,
		Store:       convStore,
		Cache:       msgCache,
		Presence:    tracker,
		Socket:      sock,
		API:         restClient,
		TaskCtx:     taskRepo,
		SendRetries: cfg.Chat.SendRetries,
		RetryDelay:  cfg.RetryBackoff(),
	})
	sock.SetHandler(svc.Events())
	defer svc.Close()

	theme := styles.NewTheme(prefStore.Get().DarkMode)
	program := tea.NewProgram(
		uichat.New(svc, theme, cfg.Identity.UserID),
		tea.WithAltScreen(),
	)

	svc.SetOnChange(func() {
		program.Send(uichat.RefreshMsg{})
	})
	prefStore.SetOnChange(func(p prefs.Preferences) {
		program.Send(uichat.PrefsChangedMsg{DarkMode: p.DarkMode})
	})
	if err := prefStore.Watch(); err != nil {
		log.Printf("preference watch unavailable: %v", err)
	}
	defer prefStore.Close()

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("running UI: %w", err)
	}
	return nil
}
