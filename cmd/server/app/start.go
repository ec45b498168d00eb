package app

import (
	"github.com/spf13/cobra"

	engine "github.com/Blackdeer1524/enginecore/src/app"
)

func initStart() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Starts the storage engine background threads",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return engine.Run(cmd.Context(), &engine.EngineEntrypoint{
				ConfigPath: rootCmd.Options.ConfigPath,
			})
		},
	})
}
