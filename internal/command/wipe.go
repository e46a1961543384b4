package command

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewWipeCmd creates the wipe command.
func NewWipeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Delete every message for everyone and clear the local cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			if !ctx.Force {
				fmt.Fprint(cmd.OutOrStdout(), "Delete all messages for everyone? [y/N] ")
				answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				answer = strings.ToLower(strings.TrimSpace(answer))
				if answer != "y" && answer != "yes" {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
					return nil
				}
			}

			eng, err := ctx.StartEngine(cmd.Context(), nil)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer eng.Close()

			res, err := eng.Wipe(cmd.Context())
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if ctx.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]int64{"deleted": int64(res.Deleted), "wipes": res.Wipes})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wiped %d message(s)\n", res.Deleted)
			if res.Wipes > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Room wiped %d time(s)\n", res.Wipes)
			}
			return nil
		},
	}
	return cmd
}
