package command

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/adamavenir/huddle/internal/render"
)

// NewCacheCmd creates the cache command group.
func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or manage the local message cache",
	}
	cmd.AddCommand(newCacheLsCmd(), newCacheClearCmd(), newCacheTrimCmd())
	return cmd
}

func newCacheLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List cached messages, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			msgs := ctx.OpenCache().GetAll()
			if ctx.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(msgs)
			}
			out := cmd.OutOrStdout()
			if len(msgs) == 0 {
				fmt.Fprintf(out, "Cache is empty (%s)\n", ctx.Config.Cache.Driver)
				return nil
			}
			for _, msg := range msgs {
				author := msg.Author
				if author == "" {
					author = render.DefaultAuthor
				}
				body := strings.Join(strings.Fields(msg.VisibleBody()), " ")
				if msg.Deleted {
					body = "(deleted)"
				}
				if msg.ParentID != "" {
					body = "↪ " + body
				}
				fmt.Fprintf(out, "[%s] %s @%s: %s\n", msg.ID, humanize.Time(msg.CreatedAt), author, ansi.Truncate(body, 72, "…"))
			}
			fmt.Fprintf(out, "%d cached message(s)\n", len(msgs))
			return nil
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			store := ctx.OpenCache()
			n := len(store.GetAll())
			store.Clear()
			store.Flush()
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d cached message(s)\n", n)
			return nil
		},
	}
}

func newCacheTrimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trim [max]",
		Short: "Keep only the newest max messages (default from config)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			max := ctx.Config.Cache.MaxEntries
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 0 {
					return writeCommandError(cmd, fmt.Errorf("invalid max %q", args[0]))
				}
				max = n
			}
			store := ctx.OpenCache()
			before := len(store.GetAll())
			store.Trim(max)
			store.Flush()
			after := len(store.GetAll())
			fmt.Fprintf(cmd.OutOrStdout(), "Trimmed %d message(s), %d kept\n", before-after, after)
			return nil
		},
	}
}
