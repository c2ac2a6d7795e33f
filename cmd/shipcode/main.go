package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"shipcode/client/internal/assist"
	"shipcode/client/internal/backend"
	"shipcode/client/internal/config"
	"shipcode/client/internal/model"
	"shipcode/client/internal/notify"
	"shipcode/client/internal/rbac"
	"shipcode/client/internal/realtime"
	"shipcode/client/internal/session"
	"shipcode/client/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	be, cleanup, err := buildBackend(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("backend setup failed: %v", err)
	}
	defer cleanup()

	mgr := session.NewManager(be, cfg.InactivityWindow, logger)
	dataStore := store.New(be, func() rbac.Capabilities {
		return rbac.ForIdentity(mgr.Current())
	}, logger)
	center := notify.New(be, cfg.NotificationLimit, logger)
	sub := realtime.New(be, center, logger)
	sub.Bind(mgr)
	defer sub.Close()

	suggest := assist.New(cfg.SuggestURL, cfg.SuggestAPIKey)

	// The entity mirror follows the identity: load on sign-in, clear on
	// sign-out.
	mgr.OnChange(func(ident *model.Identity) {
		if ident == nil {
			dataStore.Reset()
			return
		}
		if err := dataStore.Load(ctx); err != nil {
			logger.Warn("initial data load failed", "error", err)
		}
	})
	mgr.OnExpire(func() {
		fmt.Println("session expired after inactivity, sign in again")
	})

	if err := mgr.Restore(ctx); err != nil {
		logger.Warn("session restore failed", "error", err)
	}
	if mgr.State() != session.StateAuthenticated {
		if err := promptLogin(ctx, mgr); err != nil {
			log.Fatalf("login failed: %v", err)
		}
	}

	ident := mgr.Current()
	fmt.Printf("signed in as %s (%s)\n", ident.DisplayName, ident.Role)
	fmt.Printf("projects: %d, leads: %d, team: %d, unread notifications: %d\n",
		len(dataStore.Projects()), len(dataStore.Leads()), len(dataStore.Team()), center.UnreadCount())
	if suggest.Enabled() {
		fmt.Println("project suggestions enabled")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	dataStore.Flush()
	center.Flush()
	if err := mgr.Logout(ctx); err != nil {
		logger.Warn("logout failed", "error", err)
	}
}

// buildBackend wires the remote adapters when configured, and falls back
// to the seeded in-process backend for offline demo runs.
func buildBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (backend.Backend, func(), error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" || strings.TrimSpace(cfg.RedisURL) == "" {
		logger.Info("no remote backend configured, using in-process demo data")
		return demoBackend(), func() {}, nil
	}

	db, err := backend.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	sessions, err := backend.NewRedisSessions(cfg.RedisURL, cfg.SessionTTL)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("redis connection failed: %w", err)
	}
	broker, err := backend.NewRedisBrokerURL(cfg.RedisURL, logger)
	if err != nil {
		sessions.Close()
		db.Close()
		return nil, nil, fmt.Errorf("redis broker failed: %w", err)
	}
	tokens, err := backend.NewTokenCache()
	if err != nil {
		broker.Close()
		sessions.Close()
		db.Close()
		return nil, nil, err
	}

	pg := backend.NewPostgres(db, sessions, broker, tokens)
	cleanup := func() {
		broker.Close()
		sessions.Close()
		db.Close()
	}
	return pg, cleanup, nil
}

func demoBackend() *backend.Memory {
	m := backend.NewMemory()
	m.SeedOrganization(model.Organization{
		ID: "org-1", Name: "ShipCode", BrandColor: "#dc2626",
		Settings: model.OrgSettings{TaxRate: 0.15, Currency: "BRL"},
	})
	m.SeedIdentity(model.Identity{ID: "u1", DisplayName: "Alex Builder", Role: model.RoleAdmin, Email: "alex@shipcode.dev"}, "alex@shipcode.dev", "admin")
	m.SeedIdentity(model.Identity{ID: "u2", DisplayName: "Bia Ops", Role: model.RoleManager, Email: "bia@shipcode.dev"}, "bia@shipcode.dev", "manager")
	m.SeedProject(model.Project{ID: "p-1", Name: "Fleet Tracking System", ClientName: "AutoMotive AI", Phase: model.PhaseBuild})
	m.SeedLead(model.Lead{ID: "l-1", ClientName: "EcoStart", ProjectName: "Carbon Dashboard", Status: model.LeadNew, Source: model.SourceCampaignLinkedIn})
	return m
}

func promptLogin(ctx context.Context, mgr *session.Manager) error {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("email: ")
	email, err := reader.ReadString('\n')
	if err != nil {
		return err
	}
	fmt.Print("password: ")
	password, err := reader.ReadString('\n')
	if err != nil {
		return err
	}
	return mgr.Login(ctx, strings.TrimSpace(email), strings.TrimSpace(password))
}
