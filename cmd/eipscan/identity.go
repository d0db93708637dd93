package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonylturner/eipscan/internal/cip/objects"
	uerrors "github.com/tonylturner/eipscan/internal/errors"
	"github.com/tonylturner/eipscan/internal/ui"
)

func newIdentityCmd() *cobra.Command {
	flags := &targetFlags{}

	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Read the Identity object of an adapter",
		Long: `Register a session with the adapter and read Identity instance 1 with
Get_Attributes_All.`,
		Example: `  eipscan identity --ip 192.168.1.10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if flags.ip == "" {
				return missingFlagError(cmd, "--ip")
			}
			return runIdentity(cmd, flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func runIdentity(cmd *cobra.Command, flags *targetFlags) error {
	c, logger, err := flags.newClient()
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, cancel := signalContext()
	defer cancel()
	defer c.Close(context.Background())

	if _, err := c.RegisterSession(ctx); err != nil {
		return uerrors.WrapNetworkError(err, flags.ip, flags.port)
	}
	id, err := objects.NewIdentity(c).Instance(ctx)
	if err != nil {
		return uerrors.WrapCIPError(err, "read identity")
	}
	fmt.Fprintln(cmd.OutOrStdout(), ui.RenderIdentity(flags.ip, id))
	return nil
}
