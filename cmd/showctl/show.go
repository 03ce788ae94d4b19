package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"obs-showctl/internal/data"
)

func newShowCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Manage stored shows",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored shows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			names, err := store.ListShowNames(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, name := range names {
				show, err := store.GetShow(cmd.Context(), name)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s\t%d targets\n", name, len(show.Targets))
			}
			return nil
		},
	})

	var replace bool
	importCmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Import instances and shows from a YAML file",
		Long: `Import instances and shows from a YAML file.

Instances are upserted. Shows that already exist are rejected unless
--replace is given. Running servers pick up changes on reconnect or load.

Example file:
  instances:
    - identifier: cam-a
      url: ws://10.0.0.5:4455
      password: secret
  shows:
    - name: opening
      targets:
        - instance: cam-a
          state: Intro`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			doc, err := data.DecodeImportFile(f)
			if err != nil {
				return err
			}

			store, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			if err := doc.Import(cmd.Context(), store, replace); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d instances, %d shows\n", len(doc.Instances), len(doc.Shows))
			return nil
		},
	}
	importCmd.Flags().BoolVar(&replace, "replace", false, "overwrite shows that already exist")
	cmd.AddCommand(importCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a stored show",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.DeleteShow(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	})
	return cmd
}
