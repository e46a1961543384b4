package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/adamavenir/huddle/internal/backend"
	"github.com/adamavenir/huddle/internal/backend/remote"
	"github.com/adamavenir/huddle/internal/cache"
	"github.com/adamavenir/huddle/internal/core"
	"github.com/adamavenir/huddle/internal/engine"
	"github.com/adamavenir/huddle/internal/view"
)

// liveTimeout bounds how long one-shot commands wait for the feed.
const liveTimeout = 10 * time.Second

var errNotLive = errors.New("feed did not become live")

// CommandContext holds the resolved configuration for one command run.
type CommandContext struct {
	Config     core.Config
	ConfigPath string
	JSONMode   bool
	Force      bool
	Logger     zerolog.Logger
	closers    []io.Closer
}

// GetContext loads the config file, then applies persistent flags on top.
func GetContext(cmd *cobra.Command) (*CommandContext, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		var err error
		if path, err = core.DefaultConfigPath(); err != nil {
			return nil, err
		}
	}
	cfg, err := core.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if as, _ := cmd.Flags().GetString("as"); as != "" {
		cfg.Username = as
	}
	if tier, _ := cmd.Flags().GetString("tier"); tier != "" {
		cfg.Tier = tier
	}
	if url, _ := cmd.Flags().GetString("backend"); url != "" {
		cfg.Backend.URL = url
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	jsonMode, _ := cmd.Flags().GetBool("json")
	force, _ := cmd.Flags().GetBool("force")
	ctx := &CommandContext{
		Config:     cfg,
		ConfigPath: path,
		JSONMode:   jsonMode,
		Force:      force,
	}
	logger, closer, err := core.NewLogger(cfg.Log, cmd.ErrOrStderr(), false)
	if err != nil {
		return nil, err
	}
	ctx.Logger = logger
	ctx.track(closer)
	return ctx, nil
}

func (c *CommandContext) track(closer io.Closer) {
	if closer != nil {
		c.closers = append(c.closers, closer)
	}
}

// Close releases everything opened through the context.
func (c *CommandContext) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		_ = c.closers[i].Close()
	}
	c.closers = nil
}

// OpenBackend returns the configured remote server, or an in-process
// store when no URL is set.
func (c *CommandContext) OpenBackend() (backend.Backend, error) {
	url := strings.TrimSpace(c.Config.Backend.URL)
	if url == "" {
		c.Logger.Debug().Msg("no backend url, using in-process store")
		return backend.NewMemory(), nil
	}
	return remote.NewClient(url, remote.Options{Logger: c.Logger})
}

// OpenCache opens the configured cache. It never fails.
func (c *CommandContext) OpenCache() *cache.Cache {
	store := cache.Open(c.Config.Cache, cache.Options{Logger: c.Logger, MaxEntries: c.Config.Cache.MaxEntries})
	c.track(store)
	return store
}

// Session builds the engine session from the config.
func (c *CommandContext) Session() engine.Session {
	return engine.Session{
		Author: c.Config.Username,
		Color:  c.Config.Color,
		Tier:   core.Tier(c.Config.Tier),
	}
}

// StartEngine wires an engine to the configured backend and cache and
// starts it. The caller must Close the returned engine.
func (c *CommandContext) StartEngine(ctx context.Context, sink view.Sink) (*engine.Engine, error) {
	be, err := c.OpenBackend()
	if err != nil {
		return nil, err
	}
	if sink == nil {
		sink = view.NewTree()
	}
	eng := engine.New(engine.Options{
		Backend:        be,
		Cache:          c.OpenCache(),
		Sink:           sink,
		Session:        c.Session(),
		PendingTimeout: c.Config.PendingTimeout,
		Logger:         c.Logger,
	})
	if err := eng.Start(ctx); err != nil {
		eng.Close()
		return nil, err
	}
	return eng, nil
}

// waitLive blocks until the engine's feed is live.
func waitLive(ctx context.Context, eng *engine.Engine) error {
	ctx, cancel := context.WithTimeout(ctx, liveTimeout)
	defer cancel()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		switch eng.Feed() {
		case engine.FeedLive:
			return nil
		case engine.FeedError:
			return fmt.Errorf("%w: %w", errNotLive, backend.ErrUnavailable)
		}
		select {
		case <-ctx.Done():
			return errNotLive
		case <-ticker.C:
		}
	}
}
