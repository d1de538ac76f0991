package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"inferd/internal/common/fsutil"
	"inferd/internal/registry"
)

func newModelsCmd(root *rootOpts) *cobra.Command {
	var modelsDir string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List GGUF files in the models directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("models-dir") {
				cfg.ModelsDir = modelsDir
			}
			dir, err := fsutil.ExpandHome(cfg.ModelsDir)
			if err != nil {
				return err
			}
			models, err := registry.LoadDir(dir)
			if err != nil {
				return err
			}
			if len(models) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no models in %s\n", dir)
				return nil
			}
			for _, m := range models {
				kind := "model"
				if m.Projector {
					kind = "projector"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-40s %-9s %s\n", m.ID, kind, m.Path)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&modelsDir, "models-dir", "~/models/llm", "Directory to scan for *.gguf model files")
	return cmd
}
