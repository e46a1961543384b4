package command

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adamavenir/huddle/internal/backend"
	"github.com/adamavenir/huddle/internal/backend/remote"
	"github.com/adamavenir/huddle/internal/core"
)

func writeCommandError(cmd *cobra.Command, err error) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())

	if hint := errorHint(err); hint != "" {
		fmt.Fprintln(cmd.ErrOrStderr(), "Hint: "+hint)
	}

	return err
}

// errorHint suggests a next step for errors a user can fix.
func errorHint(err error) string {
	switch {
	case err == nil:
		return ""
	case remote.IsRateLimited(err):
		return "The server is rate limiting writes. Wait a moment and try again."
	case errors.Is(err, backend.ErrUnavailable):
		return "Is the server running? Start one with: " + AppName + " serve"
	case errors.Is(err, backend.ErrUnsupported):
		return "This backend does not support the operation."
	case errors.Is(err, errNotLive):
		return "The feed never became live. Check --backend or try again."
	case errors.Is(err, core.ErrUnknownTier):
		return "Valid tiers are lite, smart and max."
	}
	return ""
}
