package command

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/adamavenir/huddle/internal/core"
)

type configField struct {
	get func(cfg *core.Config) string
	set func(cfg *core.Config, value string) error
}

var configFields = map[string]configField{
	"username": {
		get: func(c *core.Config) string { return c.Username },
		set: func(c *core.Config, v string) error { c.Username = v; return nil },
	},
	"color": {
		get: func(c *core.Config) string { return c.Color },
		set: func(c *core.Config, v string) error { c.Color = v; return nil },
	},
	"tier": {
		get: func(c *core.Config) string { return c.Tier },
		set: func(c *core.Config, v string) error { c.Tier = v; return nil },
	},
	"pending_timeout": {
		get: func(c *core.Config) string { return c.PendingTimeout.String() },
		set: func(c *core.Config, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return err
			}
			c.PendingTimeout = d
			return nil
		},
	},
	"backend.url": {
		get: func(c *core.Config) string { return c.Backend.URL },
		set: func(c *core.Config, v string) error { c.Backend.URL = v; return nil },
	},
	"cache.driver": {
		get: func(c *core.Config) string { return c.Cache.Driver },
		set: func(c *core.Config, v string) error { c.Cache.Driver = v; return nil },
	},
	"cache.path": {
		get: func(c *core.Config) string { return c.Cache.Path },
		set: func(c *core.Config, v string) error { c.Cache.Path = v; return nil },
	},
	"cache.max_entries": {
		get: func(c *core.Config) string { return strconv.Itoa(c.Cache.MaxEntries) },
		set: func(c *core.Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			c.Cache.MaxEntries = n
			return nil
		},
	},
	"presence.enabled": {
		get: func(c *core.Config) string { return strconv.FormatBool(c.Presence.Enabled) },
		set: func(c *core.Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return err
			}
			c.Presence.Enabled = b
			return nil
		},
	},
	"presence.dir": {
		get: func(c *core.Config) string { return c.Presence.Dir },
		set: func(c *core.Config, v string) error { c.Presence.Dir = v; return nil },
	},
	"log.level": {
		get: func(c *core.Config) string { return c.Log.Level },
		set: func(c *core.Config, v string) error { c.Log.Level = v; return nil },
	},
	"log.file": {
		get: func(c *core.Config) string { return c.Log.File },
		set: func(c *core.Config, v string) error { c.Log.File = v; return nil },
	},
	"server.addr": {
		get: func(c *core.Config) string { return c.Server.Addr },
		set: func(c *core.Config, v string) error { c.Server.Addr = v; return nil },
	},
}

func configKeys() []string {
	keys := make([]string, 0, len(configFields))
	for key := range configFields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// NewConfigCmd creates the config command.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config [key] [value]",
		Short: "Show or change configuration",
		Long:  "With no arguments, print the effective configuration. With a key, print it. With a key and value, save it.\n\nKeys: " + strings.Join(configKeys(), ", "),
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				data, err := yaml.Marshal(ctx.Config)
				if err != nil {
					return writeCommandError(cmd, err)
				}
				fmt.Fprint(out, string(data))
				return nil
			}

			key := strings.ToLower(args[0])
			field, ok := configFields[key]
			if !ok {
				return writeCommandError(cmd, fmt.Errorf("unknown config key %q", args[0]))
			}
			if len(args) == 1 {
				fmt.Fprintln(out, field.get(&ctx.Config))
				return nil
			}

			// Persist on top of the file contents, not the flag overrides.
			cfg, err := core.LoadConfig(ctx.ConfigPath)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if err := field.set(&cfg, args[1]); err != nil {
				return writeCommandError(cmd, fmt.Errorf("%s: %w", key, err))
			}
			if err := cfg.Validate(); err != nil {
				return writeCommandError(cmd, err)
			}
			if err := core.SaveConfig(ctx.ConfigPath, cfg); err != nil {
				return writeCommandError(cmd, err)
			}
			fmt.Fprintf(out, "%s = %s\n", key, field.get(&cfg))
			return nil
		},
	}
	return cmd
}
