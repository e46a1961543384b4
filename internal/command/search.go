package command

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adamavenir/huddle/internal/search"
)

// NewSearchCmd creates the search command.
func NewSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search recent messages (substring, or a glob with * and ?)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			res, err := search.Messages(eng.Snapshot(), strings.Join(args, " "))
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if ctx.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(res)
			}
			out := cmd.OutOrStdout()
			if len(res.Matches) == 0 {
				fmt.Fprintln(out, "No messages found")
				return nil
			}
			for _, match := range res.Matches {
				fmt.Fprintf(out, "[%s] @%s: %s\n", match.ID, match.Author, match.Highlight(func(s string) string { return "**" + s + "**" }))
			}
			if hint := res.Hint(); hint != "" {
				fmt.Fprintln(out, hint)
			}
			return nil
		},
	}
	return cmd
}
