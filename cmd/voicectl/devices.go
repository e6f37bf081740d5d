package main

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"highwayhub/voice/internal/call"
	"highwayhub/voice/internal/device"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the audio devices voicectl can use",
	RunE: func(cmd *cobra.Command, args []string) error {
		src := newDeviceSource()
		ctx := cmd.Context()
		if err := src.RequestPermission(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "warning: device labels unavailable:", err)
		}
		list, err := src.Devices(ctx)
		if err != nil {
			return err
		}
		renderDevices(os.Stdout, list, "", "")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
	rootCmd.PersistentFlags().String("dev-dir", "/dev/snd", "ALSA device directory")
	rootCmd.PersistentFlags().String("cards-file", "/proc/asound/cards", "ALSA card list used for labels")
	_ = settings.BindPFlag("dev-dir", rootCmd.PersistentFlags().Lookup("dev-dir"))
	_ = settings.BindPFlag("cards-file", rootCmd.PersistentFlags().Lookup("cards-file"))
}

func newDeviceSource() *device.ALSA {
	src := device.NewALSA(newLogger().Module("device"))
	src.DevDir = settings.GetString("dev-dir")
	src.CardsFile = settings.GetString("cards-file")
	return src
}

// renderDevices prints list as a table, marking the confirmed input and
// output with an asterisk.
func renderDevices(w io.Writer, list []call.Device, input, output string) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"", "Kind", "ID", "Label"})
	for _, d := range list {
		mark := ""
		if (d.Kind == call.DeviceInput && d.ID == input) || (d.Kind == call.DeviceOutput && d.ID == output) {
			mark = "*"
		}
		label := d.Label
		if label == "" {
			label = "(unlabelled)"
		}
		tw.AppendRow(table.Row{mark, d.Kind, d.ID, label})
	}
	if len(list) == 0 {
		tw.AppendRow(table.Row{"", "-", "-", "no devices found"})
	}
	tw.Render()
}

