package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"livesync/internal/app"
)

func newStateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or clear the locally stored session snapshot",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the stored snapshot as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			p, err := app.NewParticipant(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer p.Close()

			st := p.Store.State()
			data, err := json.MarshalIndent(st.Snapshot(), "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode snapshot: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			if text := st.ProgressText(); text != "" {
				fmt.Fprintln(cmd.OutOrStdout(), text)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Clear the stored snapshot for every context sharing this storage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			p, err := app.NewParticipant(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer p.Close()

			p.Store.Reset(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "session state cleared")
			return nil
		},
	})
	return cmd
}
