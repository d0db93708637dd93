package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonylturner/eipscan/internal/cip/objects"
	"github.com/tonylturner/eipscan/internal/cip/path"
	uerrors "github.com/tonylturner/eipscan/internal/errors"
	"github.com/tonylturner/eipscan/internal/ui"
)

type attributeFlags struct {
	targetFlags
	classID     string
	instanceID  string
	attributeID string
	key         string
	all         bool
	copyValue   bool
	valueHex    string
}

func (f *attributeFlags) registerAddress(cmd *cobra.Command) {
	f.targetFlags.register(cmd)
	cmd.Flags().StringVar(&f.key, "key", "", "Catalog key, e.g. identity.product_name (see 'eipscan catalog list')")
	cmd.Flags().StringVar(&f.classID, "class", "", "CIP class ID (hex or decimal)")
	cmd.Flags().StringVar(&f.instanceID, "instance", "", "CIP instance ID (hex or decimal)")
	cmd.Flags().StringVar(&f.attributeID, "attribute", "", "CIP attribute ID (hex or decimal)")
}

// resolve builds the request path from --key or --class/--instance/--attribute.
// Explicit IDs override the catalog entry. The entry is nil without --key.
func (f *attributeFlags) resolve(needAttribute bool) (path.EPath, *objects.Entry, error) {
	var entry *objects.Entry
	var classID, instanceID, attributeID uint32
	if f.key != "" {
		e, ok := objects.DefaultCatalog().Lookup(f.key)
		if !ok {
			return path.EPath{}, nil, fmt.Errorf("unknown catalog key %q", f.key)
		}
		entry = e
		classID, instanceID, attributeID = e.Class, e.Instance, e.Attribute
	}
	var err error
	if f.classID != "" {
		if classID, err = parseID(f.classID, 32); err != nil {
			return path.EPath{}, nil, fmt.Errorf("parse class: %w", err)
		}
	}
	if f.instanceID != "" {
		if instanceID, err = parseID(f.instanceID, 32); err != nil {
			return path.EPath{}, nil, fmt.Errorf("parse instance: %w", err)
		}
	} else if entry != nil && entry.RequiresInstance {
		return path.EPath{}, nil, fmt.Errorf("%s requires --instance", entry.Key)
	}
	if f.attributeID != "" {
		if attributeID, err = parseID(f.attributeID, 32); err != nil {
			return path.EPath{}, nil, fmt.Errorf("parse attribute: %w", err)
		}
	}
	if classID == 0 {
		return path.EPath{}, nil, fmt.Errorf("required flag --class or --key not set")
	}
	if instanceID == 0 {
		instanceID = objects.DefaultInstance
	}
	if !needAttribute {
		return path.ToObject(classID, instanceID), entry, nil
	}
	if attributeID == 0 {
		return path.EPath{}, nil, fmt.Errorf("required flag --attribute or --key not set")
	}
	return path.ToObject(classID, instanceID, attributeID), entry, nil
}

func newGetCmd() *cobra.Command {
	flags := &attributeFlags{}

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Read an attribute with Get_Attribute_Single",
		Long: `Read one attribute of a CIP object, addressed either by a catalog key or
by explicit class, instance and attribute IDs. With --all the whole
instance is read with Get_Attributes_All instead.

Values of catalog entries are decoded by their declared type; other values
are printed as hex.`,
		Example: `  # Product name from the Identity object
  eipscan get --ip 192.168.1.10 --key identity.product_name

  # Input assembly 100
  eipscan get --ip 192.168.1.10 --class 0x04 --instance 100 --attribute 3

  # Everything on TCP/IP Interface instance 1, copied to the clipboard
  eipscan get --ip 192.168.1.10 --class 0xF5 --all --copy`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if flags.ip == "" {
				return missingFlagError(cmd, "--ip")
			}
			return runGet(cmd, flags)
		},
	}

	flags.registerAddress(cmd)
	cmd.Flags().BoolVar(&flags.all, "all", false, "Read the whole instance with Get_Attributes_All")
	cmd.Flags().BoolVar(&flags.copyValue, "copy", false, "Copy the raw value as hex to the clipboard")

	return cmd
}

func runGet(cmd *cobra.Command, flags *attributeFlags) error {
	p, entry, err := flags.resolve(!flags.all)
	if err != nil {
		return err
	}
	c, logger, err := flags.newClient()
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, cancel := signalContext()
	defer cancel()
	defer c.Close(context.Background())

	var value []byte
	if flags.all {
		value, err = c.GetAttributesAll(ctx, p)
	} else {
		value, err = c.GetAttributeSingle(ctx, p)
	}
	if err != nil {
		return wrapRequestError(err, flags.ip, flags.port, "read "+p.String())
	}

	label := p.String()
	formatted := strings.ToUpper(hex.EncodeToString(value))
	if entry != nil && !flags.all {
		label = entry.Name + " (" + label + ")"
		formatted = entry.Format(value)
	}
	fmt.Fprintln(cmd.OutOrStdout(), ui.RenderAttribute(label, formatted, value))

	if flags.copyValue {
		if err := ui.CopyToClipboard(hex.EncodeToString(value)); err != nil {
			return fmt.Errorf("copy to clipboard: %w", err)
		}
	}
	return nil
}

func newSetCmd() *cobra.Command {
	flags := &attributeFlags{}

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Write an attribute with Set_Attribute_Single",
		Long: `Write the raw bytes given by --value-hex to one attribute. Catalog keys
that are not settable are refused before anything is sent.`,
		Example: `  # Write 4 bytes to output assembly 150
  eipscan set --ip 192.168.1.10 --key assembly.data --instance 150 --value-hex 01020304

  # Enable ACD through the TCP/IP Interface object
  eipscan set --ip 192.168.1.10 --class 0xF5 --attribute 10 --value-hex 01`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if flags.ip == "" {
				return missingFlagError(cmd, "--ip")
			}
			if flags.valueHex == "" {
				return missingFlagError(cmd, "--value-hex")
			}
			return runSet(cmd, flags)
		},
	}

	flags.registerAddress(cmd)
	cmd.Flags().StringVar(&flags.valueHex, "value-hex", "", "Value to write, as hex bytes (required)")

	return cmd
}

func runSet(cmd *cobra.Command, flags *attributeFlags) error {
	value, err := hex.DecodeString(strings.ReplaceAll(strings.TrimPrefix(flags.valueHex, "0x"), " ", ""))
	if err != nil {
		return fmt.Errorf("parse --value-hex: %w", err)
	}
	p, entry, err := flags.resolve(true)
	if err != nil {
		return err
	}
	if entry != nil && !entry.Settable {
		return fmt.Errorf("%s is read-only", entry.Key)
	}
	c, logger, err := flags.newClient()
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, cancel := signalContext()
	defer cancel()
	defer c.Close(context.Background())

	if err := c.SetAttributeSingle(ctx, p, value); err != nil {
		return wrapRequestError(err, flags.ip, flags.port, "write "+p.String())
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", len(value), p)
	return nil
}

// wrapRequestError tells CIP rejections apart from transport failures.
func wrapRequestError(err error, ip string, port int, operation string) error {
	if uerrors.IsCIPError(err) {
		return uerrors.WrapCIPError(err, operation)
	}
	return uerrors.WrapNetworkError(err, ip, port)
}
