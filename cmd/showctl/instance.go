package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"obs-showctl/internal/service"
)

func newInstanceCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instance",
		Short: "Manage stored OBS instances",
	}

	withInstances := func(run func(cmd *cobra.Command, svc *service.InstanceService, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			return run(cmd, service.NewInstanceService(store), args)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored instances",
		Args:  cobra.NoArgs,
		RunE: withInstances(func(cmd *cobra.Command, svc *service.InstanceService, args []string) error {
			all, err := svc.GetAll(cmd.Context())
			if err != nil {
				return err
			}
			for _, inst := range all {
				auth := "no password"
				if inst.Password != "" {
					auth = "password set"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", inst.ID, inst.URL, auth)
			}
			return nil
		}),
	})

	var password string
	setCmd := &cobra.Command{
		Use:   "set <id> <url>",
		Short: "Add or update an instance",
		Args:  cobra.ExactArgs(2),
		RunE: withInstances(func(cmd *cobra.Command, svc *service.InstanceService, args []string) error {
			if err := svc.Set(cmd.Context(), args[0], args[1], password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", args[0])
			return nil
		}),
	}
	setCmd.Flags().StringVar(&password, "password", "", "obs-websocket password")
	cmd.AddCommand(setCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a stored instance",
		Args:  cobra.ExactArgs(1),
		RunE: withInstances(func(cmd *cobra.Command, svc *service.InstanceService, args []string) error {
			if err := svc.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		}),
	})
	return cmd
}
