package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boneguard",
		Short: "X-ray upload front end for a bone cancer classification service",
		Long: `BoneGuard lets a user upload a bone X-ray, forwards it to an external
classification service and shows the returned label and certainty, next to a
static dashboard of the model's evaluation.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
		},
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newClassifyCmd())

	return cmd
}
