package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonylturner/eipscan/internal/config"
	"github.com/tonylturner/eipscan/internal/ui"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create and check configuration files",
	}
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigValidateCmd())
	return cmd
}

type configInitFlags struct {
	path        string
	interactive bool
	force       bool
}

func newConfigInitCmd() *cobra.Command {
	flags := &configInitFlags{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starting configuration",
		Long: `Write a configuration with one exclusive owner connection. With
--interactive the target, originator and assembly settings are asked for
first.`,
		Example: `  eipscan config init
  eipscan config init --config plant.yaml --interactive`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			return runConfigInit(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.path, "config", config.DefaultPath, "Configuration file to write")
	cmd.Flags().BoolVar(&flags.interactive, "interactive", false, "Ask for the settings in a form")
	cmd.Flags().BoolVar(&flags.force, "force", false, "Overwrite an existing file")

	return cmd
}

func runConfigInit(cmd *cobra.Command, flags *configInitFlags) error {
	if !flags.force {
		if _, err := os.Stat(flags.path); err == nil {
			return fmt.Errorf("%s already exists; use --force to overwrite", flags.path)
		}
	}
	if flags.interactive {
		if _, err := ui.RunConfigWizard(flags.path); err != nil {
			return err
		}
	} else if err := config.WriteDefaultConfig(flags.path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", flags.path)
	return nil
}

type configValidateFlags struct {
	path string
}

func newConfigValidateCmd() *cobra.Command {
	flags := &configValidateFlags{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration file",
		Long: `Load a configuration file, fill in defaults and check every I/O
connection the way Forward Open would build it.`,
		Example: `  eipscan config validate --config plant.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if len(args) > 0 {
				flags.path = args[0]
			}
			return runConfigValidate(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.path, "config", config.DefaultPath, "Configuration file to check")

	return cmd
}

func runConfigValidate(cmd *cobra.Command, flags *configValidateFlags) error {
	cfg, err := config.LoadConfig(flags.path, false)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: ok, target %s:%d\n", flags.path, cfg.Target.IP, cfg.Target.Port)
	for _, conn := range cfg.IOConnections {
		fmt.Fprintf(out, "  %-20s O->T %s every %dms, T->O %s every %dms\n",
			conn.Name, conn.OToT.Type, conn.OToT.RPIMs, conn.TToO.Type, conn.TToO.RPIMs)
	}
	return nil
}

