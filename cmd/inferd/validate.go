package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"inferd/internal/common/fsutil"
	"inferd/internal/llamacpp"
	"inferd/internal/session"
)

func newValidateCmd(root *rootOpts) *cobra.Command {
	var mmproj string

	cmd := &cobra.Command{
		Use:   "validate <model.gguf>",
		Short: "Check that a model file loads, without starting the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := fsutil.ExpandHome(args[0])
			if err != nil {
				return err
			}
			info, err := session.ValidateModel(llamacpp.New(), path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "model ok: %s (%d params, context %d)\n",
				info.Name, info.ParameterCount, info.ContextSize)

			if mmproj != "" {
				mp, err := fsutil.ExpandHome(mmproj)
				if err != nil {
					return err
				}
				if err := session.ValidateMmproj(mp); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "mmproj ok: %s\n", mp)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mmproj, "mmproj", "", "Also validate a multimodal projector file")
	return cmd
}
