package command

import (
	"os"

	"github.com/spf13/cobra"
)

const AppName = "huddle"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "Huddle - local-first group chat",
		Long:          "Huddle is a local-first group chat client with an offline cache, optimistic sends and threaded replies.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("config", "", "config file (default ~/.config/huddle/config.yaml)")
	cmd.PersistentFlags().String("as", "", "post as this username")
	cmd.PersistentFlags().String("tier", "", "capability tier (lite, smart, max)")
	cmd.PersistentFlags().String("backend", "", "server URL (empty runs an in-process store)")
	cmd.PersistentFlags().Bool("json", false, "output in JSON format")
	cmd.PersistentFlags().Bool("force", false, "skip confirmations")

	cmd.AddCommand(
		NewChatCmd(),
		NewSendCmd(),
		NewSearchCmd(),
		NewServeCmd(),
		NewCacheCmd(),
		NewConfigCmd(),
		NewWipeCmd(),
	)

	return cmd
}

func Execute() error {
	return NewRootCmd(Version).Execute()
}
