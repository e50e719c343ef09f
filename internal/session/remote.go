package session

import (
	"context"
	"fmt"
	"log/slog"

	"chatsync/internal/cache"
	"chatsync/internal/config"
	"chatsync/internal/fanout"
	"chatsync/internal/feed"
	"chatsync/internal/kv"
	"chatsync/internal/syncer"
	"chatsync/internal/usercache"
)

// Remote is the client-side infrastructure for sessions running outside
// the server process: the fan-out websocket, the postgres change feed,
// the durable cursor store and the profile cache.
type Remote struct {
	Stream   *fanout.WSStream
	Changes  *feed.Listener
	Cursors  *kv.Pebble
	Profiles *usercache.Cache

	cancel context.CancelFunc
}

// Connect opens the local state store, dials the fan-out endpoint and
// starts the change-feed listener, all tuned from cfg. profiles resolves
// author ids to users, typically over the REST API.
func Connect(ctx context.Context, cfg *config.Config, wsURL, token string, profiles usercache.Fetcher) (*Remote, error) {
	cursors, err := kv.OpenPebble(cfg.PebblePath)
	if err != nil {
		return nil, fmt.Errorf("open cursor store: %w", err)
	}

	var store cache.Cache = cache.NewMemory()
	if cfg.RedisURL != "" {
		store, err = cache.NewRedis(cfg.RedisURL)
		if err != nil {
			cursors.Close()
			return nil, fmt.Errorf("connect profile cache: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	changes := feed.NewListener(cfg.DatabaseURL)
	go func() {
		if err := changes.Run(runCtx); err != nil && runCtx.Err() == nil {
			slog.Warn("session: change feed stopped", "err", err)
		}
	}()

	return &Remote{
		Stream:   fanout.Dial(runCtx, fanout.DialConfig{URL: wsURL, Token: token}),
		Changes:  changes,
		Cursors:  cursors,
		Profiles: usercache.New(store, profiles, cfg.ProfileCacheTTL),
		cancel:   cancel,
	}, nil
}

// NewSession builds a session over this environment. history serves
// message pages and unread queries for the user.
func (r *Remote) NewSession(cfg *config.Config, userID int64, history Log) *Session {
	return New(Config{
		UserID:    userID,
		PageSize:  cfg.PageSize,
		Heartbeat: cfg.HeartbeatInterval,
		Window: syncer.Config{
			WindowSize: cfg.DedupWindowSize,
			WindowTTL:  cfg.DedupWindowTTL,
		},
	}, history, r.Stream, r.Changes, r.Profiles, r.Cursors)
}

// Close tears down the stream and listener and releases the cursor
// store. Sessions built on this environment must be closed first.
func (r *Remote) Close() error {
	r.cancel()
	r.Stream.Close()
	return r.Cursors.Close()
}
