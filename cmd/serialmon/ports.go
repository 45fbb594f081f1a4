package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pkt.systems/serialmon/internal/appconfig"
	"pkt.systems/serialmon/internal/discovery"
	"pkt.systems/serialmon/schema"
)

func newPortsCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "ports",
		Short: "List attached serial devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			scanner, err := discovery.NewScanner(scannerConfig(cmd.Context(), cfg.Discovery))
			if err != nil {
				return err
			}
			devices, err := scanner.AttachedDevices(cmd.Context())
			if err != nil {
				return err
			}
			return writePorts(cmd.OutOrStdout(), devices)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}

func writePorts(out io.Writer, devices []schema.AttachedDevice) error {
	if len(devices) == 0 {
		_, err := fmt.Fprintln(out, "no serial devices found")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PORT\tBOARD\tFQBN\tDESCRIPTION")
	for _, device := range devices {
		fqbn := device.Board.FQBN
		if fqbn == "" {
			fqbn = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", device.Port.Address, device.Board.Name, fqbn, device.Description)
	}
	return tw.Flush()
}
