package command

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/adamavenir/huddle/internal/chat"
	"github.com/adamavenir/huddle/internal/core"
	"github.com/adamavenir/huddle/internal/presence"
	"github.com/adamavenir/huddle/internal/view"
)

// NewChatCmd creates the chat command.
func NewChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonMode, _ := cmd.Flags().GetBool("json"); jsonMode {
				return writeCommandError(cmd, fmt.Errorf("--json not supported for interactive chat"))
			}
			noNotify, _ := cmd.Flags().GetBool("no-notify")
			noPresence, _ := cmd.Flags().GetBool("no-presence")

			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			// The terminal belongs to the UI; log to the file instead.
			logger, closer, err := core.NewLogger(ctx.Config.Log, cmd.ErrOrStderr(), true)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			ctx.track(closer)
			ctx.Logger = logger

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tree := view.NewTree()
			eng, err := ctx.StartEngine(runCtx, tree)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer eng.Close()

			var tracker *presence.Tracker
			if ctx.Config.Presence.Enabled && !noPresence {
				tracker, err = presence.Open(presence.Options{
					Dir:    ctx.Config.Presence.Dir,
					User:   ctx.Config.Username,
					Logger: logger,
				})
				if err != nil {
					logger.Warn().Err(err).Msg("presence disabled")
					tracker = nil
				} else {
					defer tracker.Close()
				}
			}

			title := AppName
			if ctx.Config.Backend.URL != "" {
				title = AppName + " · " + ctx.Config.Backend.URL
			}
			if err := chat.Run(runCtx, chat.Options{
				Engine:   eng,
				Tree:     tree,
				Presence: tracker,
				Logger:   logger,
				Title:    title,
				Notify:   !noNotify,
			}); err != nil {
				return writeCommandError(cmd, err)
			}
			return nil
		},
	}

	cmd.Flags().Bool("no-notify", false, "disable desktop notifications for mentions")
	cmd.Flags().Bool("no-presence", false, "do not publish or show presence")
	return cmd
}
