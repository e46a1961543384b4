package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/adamavenir/huddle/internal/core"
	"github.com/adamavenir/huddle/internal/engine"
	"github.com/adamavenir/huddle/internal/types"
)

// NewSendCmd creates the send command.
func NewSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <message...>",
		Short: "Send a message and wait for the server to confirm it",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			replyTo, _ := cmd.Flags().GetString("reply")
			filePath, _ := cmd.Flags().GetString("file")
			body := strings.TrimSpace(strings.Join(args, " "))
			if body == "" && filePath == "" {
				return writeCommandError(cmd, engine.ErrEmptyMessage)
			}

			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			eng, err := ctx.StartEngine(cmd.Context(), nil)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer eng.Close()
			if err := waitLive(cmd.Context(), eng); err != nil {
				return writeCommandError(cmd, err)
			}

			if replyTo != "" {
				id, err := resolveMessageID(eng, replyTo)
				if err != nil {
					return writeCommandError(cmd, err)
				}
				if err := eng.SetReplyTarget(id); err != nil {
					return writeCommandError(cmd, err)
				}
			}

			var tempID string
			if filePath != "" {
				data, err := os.ReadFile(filePath)
				if err != nil {
					return writeCommandError(cmd, err)
				}
				tempID, err = eng.SendFile(cmd.Context(), filepath.Base(filePath), data, body)
				if err != nil {
					return writeCommandError(cmd, err)
				}
			} else if tempID, err = eng.Send(body, nil); err != nil {
				return writeCommandError(cmd, err)
			}

			msg, err := awaitConfirmation(cmd.Context(), eng, tempID, ctx.Config.PendingTimeout)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if ctx.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(msg)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] sent as @%s\n", msg.ID, msg.Author)
			return nil
		},
	}

	cmd.Flags().String("reply", "", "reply to message id")
	cmd.Flags().String("file", "", "attach a file (images are inlined as thumbnails)")
	return cmd
}

// awaitConfirmation waits until the provisional message tempID has a
// server id, or its send fails.
func awaitConfirmation(ctx context.Context, eng *engine.Engine, tempID string, timeout time.Duration) (types.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout+time.Second)
	defer cancel()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if msg, ok := eng.Message(tempID); ok && msg.Status == types.StatusFailed {
			return types.Message{}, errors.New("send failed")
		}
		for _, msg := range eng.Snapshot() {
			if msg.ClientID == tempID && !core.IsTempID(msg.ID) && msg.Status == types.StatusConfirmed {
				return msg, nil
			}
		}
		select {
		case ev := <-eng.Events():
			if ev.Kind == engine.EventSendFailed && ev.ID == tempID && ev.Err != nil {
				return types.Message{}, fmt.Errorf("send failed: %w", ev.Err)
			}
		case <-ticker.C:
		case <-ctx.Done():
			return types.Message{}, engine.ErrSendTimeout
		}
	}
}

// resolveMessageID accepts a full id or a unique short id.
func resolveMessageID(eng *engine.Engine, ref string) (string, error) {
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "#")
	if _, ok := eng.Message(ref); ok {
		return ref, nil
	}
	var found []string
	for _, msg := range eng.Snapshot() {
		if core.ShortID(msg.ID, len(ref)) == ref {
			found = append(found, msg.ID)
		}
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("%w: %s", engine.ErrNotFound, ref)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("ambiguous message id %q", ref)
	}
}
