// Copyright 2024-2026 Aiku AI

// Package bridge assembles the sync service: database, providers, engines,
// live listeners and the admin API.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aiku/chatsync/pkg/cdc"
	"github.com/aiku/chatsync/pkg/config"
	"github.com/aiku/chatsync/pkg/gateway"
	"github.com/aiku/chatsync/pkg/inbound"
	"github.com/aiku/chatsync/pkg/outbound"
	"github.com/aiku/chatsync/pkg/provider"
	"github.com/aiku/chatsync/pkg/provider/discord"
	"github.com/aiku/chatsync/pkg/provider/mattermost"
	"github.com/aiku/chatsync/pkg/store"
	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"
)

// Bridge owns every long-lived component of the service.
type Bridge struct {
	Config    *config.Config
	Log       zerolog.Logger
	Store     *store.Store
	Providers *provider.Registry
	Outbound  *outbound.Engine
	Inbound   *inbound.Engine
	CDC       *cdc.Processor

	discord    *discordgo.Session
	mattermost *mattermost.Adapter

	listenersMu sync.RWMutex
	listeners   map[string]*listener

	server  *http.Server
	started time.Time
}

// listener is a running live event source.
type listener struct {
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time
	err     error
}

// New opens the configured database and assembles the bridge on it.
func New(cfg *config.Config, log zerolog.Logger) (*Bridge, error) {
	db, err := dbutil.NewFromConfig("chatsync", cfg.Database, dbutil.ZeroLogger(log.With().Str("db_section", "main").Logger()))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return NewWithStore(cfg, log, store.New(db))
}

// NewWithStore assembles the bridge on an existing store. Providers are
// registered for every enabled section of the config.
func NewWithStore(cfg *config.Config, log zerolog.Logger, st *store.Store) (*Bridge, error) {
	b := &Bridge{
		Config:    cfg,
		Log:       log,
		Store:     st,
		Providers: provider.NewRegistry(),
		listeners: make(map[string]*listener),
	}
	b.Outbound = outbound.NewEngine(st, b.Providers, cfg.Outbound(), log)
	b.Inbound = inbound.NewEngine(st, log)
	b.CDC = cdc.NewProcessor(cdc.NewRouter(b.Inbound, b.Outbound, b.Providers.Names), log)

	if cfg.Discord.Enabled {
		session, err := discord.NewSession(cfg.Discord.Token)
		if err != nil {
			return nil, fmt.Errorf("failed to create discord session: %w", err)
		}
		b.discord = session
		b.Providers.Register(provider.WithRetry(discord.NewAdapter(session, log), cfg.RetryPolicy()))
		webhooks := discord.NewWebhookManager(session, st, cfg.Discord.WebhookName, log)
		webhooks.SetNameFormatter(func(name string) string {
			return cfg.Discord.FormatAuthorName(config.AuthorNameParams{DisplayName: name, Provider: discord.ProviderName})
		})
		b.Outbound.SetIdentityManager(discord.ProviderName, webhooks)
	}
	if cfg.Mattermost.Enabled {
		b.mattermost = mattermost.NewAdapter(mattermost.NewClient(cfg.Mattermost.ServerURL, cfg.Mattermost.Token), log)
		b.Providers.Register(provider.WithRetry(b.mattermost, cfg.RetryPolicy()))
	}
	return b, nil
}

// Migrate brings the database schema up to date.
func (b *Bridge) Migrate(ctx context.Context) error {
	return b.Store.Upgrade(ctx)
}

// Start migrates the database, starts the live listeners and the admin API.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.Migrate(ctx); err != nil {
		return err
	}
	b.started = time.Now()
	if b.discord != nil && b.Config.Discord.Gateway {
		b.startListener(ctx, discord.ProviderName, b.runDiscord)
	}
	if b.mattermost != nil && b.Config.Mattermost.WebSocket {
		b.startListener(ctx, mattermost.ProviderName, b.runMattermost)
	}
	if addr := b.Config.AdminAPI.Address; addr != "" {
		b.server = &http.Server{
			Addr:         addr,
			Handler:      b.AdminHandler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			b.Log.Info().Str("addr", addr).Msg("Starting admin API")
			if err := b.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				b.Log.Error().Err(err).Msg("Admin API error")
			}
		}()
	}
	b.Log.Info().Strs("providers", b.Providers.Names()).Msg("Bridge started")
	return nil
}

// Stop shuts down the admin API and the listeners, then closes the database.
func (b *Bridge) Stop(ctx context.Context) {
	if b.server != nil {
		if err := b.server.Shutdown(ctx); err != nil {
			b.Log.Warn().Err(err).Msg("Failed to shut down admin API")
		}
	}
	b.listenersMu.RLock()
	running := make([]*listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		l.cancel()
		running = append(running, l)
	}
	b.listenersMu.RUnlock()
	for _, l := range running {
		select {
		case <-l.done:
		case <-ctx.Done():
			b.Log.Warn().Msg("Timed out waiting for listeners to stop")
		}
	}
	if err := b.Store.DB.Close(); err != nil {
		b.Log.Warn().Err(err).Msg("Failed to close database")
	}
	b.Log.Info().Msg("Bridge stopped")
}

// CatchUp sends the unlinked host messages of one connection.
func (b *Bridge) CatchUp(ctx context.Context, connectionID string) (*outbound.CatchUpResult, error) {
	return b.Outbound.SyncConnection(store.WithSystemActor(ctx, "catchup"), connectionID)
}

func (b *Bridge) startListener(ctx context.Context, name string, run func(ctx context.Context) error) {
	ctx, cancel := context.WithCancel(ctx)
	l := &listener{cancel: cancel, done: make(chan struct{}), started: time.Now()}
	b.listenersMu.Lock()
	b.listeners[name] = l
	b.listenersMu.Unlock()

	log := b.Log.With().Str("listener", name).Logger()
	go func() {
		defer close(l.done)
		err := run(log.WithContext(ctx))
		if err != nil {
			log.Err(err).Msg("Listener stopped with error")
		} else {
			log.Info().Msg("Listener stopped")
		}
		b.listenersMu.Lock()
		l.err = err
		b.listenersMu.Unlock()
	}()
}

func (b *Bridge) runDiscord(ctx context.Context) error {
	d := gateway.NewDispatcher(discord.ProviderName, b.Store, b.Inbound, b.Log)
	remove := gateway.NewDiscord(d).Attach(ctx, b.discord)
	defer remove()
	if err := b.discord.Open(); err != nil {
		return fmt.Errorf("failed to open discord gateway: %w", err)
	}
	<-ctx.Done()
	return b.discord.Close()
}

func (b *Bridge) runMattermost(ctx context.Context) error {
	d := gateway.NewDispatcher(mattermost.ProviderName, b.Store, b.Inbound, b.Log)
	return gateway.NewMattermost(d, b.mattermost, b.Config.Mattermost.ServerURL, b.Config.Mattermost.BotPrefix).Run(ctx)
}

// ListenerStatus describes one live listener.
type ListenerStatus struct {
	Name    string    `json:"name"`
	Running bool      `json:"running"`
	Started time.Time `json:"started"`
	Error   string    `json:"error,omitempty"`
}

// Listeners returns the state of every started listener, sorted by name.
func (b *Bridge) Listeners() []ListenerStatus {
	b.listenersMu.RLock()
	defer b.listenersMu.RUnlock()
	out := make([]ListenerStatus, 0, len(b.listeners))
	for name, l := range b.listeners {
		status := ListenerStatus{Name: name, Started: l.started, Running: true}
		select {
		case <-l.done:
			status.Running = false
		default:
		}
		if l.err != nil {
			status.Error = l.err.Error()
		}
		out = append(out, status)
	}
	slices.SortFunc(out, func(a, b ListenerStatus) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}
