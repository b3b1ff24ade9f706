package commands

import (
	"github.com/MEKXH/warden/internal/config"
	"github.com/spf13/cobra"
)

var logLevelOverride string

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "warden",
		Short: "Warden - gated execution for model-proposed actions",
		Long: `Warden asks a model to work toward a goal and runs each proposed action
only after it passes the safety filter, the tool policy and the consent engine.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "init" || cmd.Name() == "version" {
				return configureLogger(config.DefaultConfig(), logLevelOverride, false)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return configureLogger(cfg, logLevelOverride, interactive(cmd))
		},
	}

	cmd.PersistentFlags().StringVar(&logLevelOverride, "log-level", "", "Override log level (debug|info|warn|error)")

	cmd.AddCommand(
		NewInitCmd(),
		NewRunCmd(),
		NewPlanCmd(),
		NewCheckCmd(),
		NewExtractCmd(),
		NewRulesCmd(),
		NewAuditCmd(),
		NewHistoryCmd(),
		NewStatusCmd(),
		NewVersionCmd(),
	)

	return cmd
}

// interactive reports whether the command owns the terminal for prompts, in
// which case logs stay off stderr.
func interactive(cmd *cobra.Command) bool {
	if cmd.Name() != "run" && cmd.Name() != "plan" {
		return false
	}
	plain, _ := cmd.Flags().GetBool("plain")
	yes, _ := cmd.Flags().GetBool("yes")
	return !plain && !yes && stdinIsTerminal()
}
