package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voxmesh/voxmesh/pkg/audio/device"
)

var devicesCmd = &cobra.Command{
	Use:     "devices",
	Aliases: []string{"dev"},
	Short:   "List audio capture and playback devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		in, out, err := device.Devices()
		if err != nil {
			return err
		}
		fmt.Println("capture:")
		for i, name := range in {
			fmt.Printf("  %v: %v\n", i, name)
		}
		fmt.Println("playback:")
		for i, name := range out {
			fmt.Printf("  %v: %v\n", i, name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
