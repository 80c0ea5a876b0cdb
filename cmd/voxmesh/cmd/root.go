package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/voxmesh/voxmesh/pkg/config"
)

// Version is overridden with ldflags on release builds.
var Version = "dev"

var conf = config.NewConfig()

var rootCmd = &cobra.Command{
	Use:   "voxmesh",
	Short: "Terminal client for voxmesh voice rooms",
	Long: `Voxmesh connects a terminal to a voice room over a mesh of direct
peer links. The relay only passes session descriptions and candidates
around, voice and screen frames travel peer to peer.`,
	Version:          Version,
	PersistentPreRun: reload,
}

// Execute runs the selected command. Called once from main.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "voxmesh: %v\n", err)
		os.Exit(1)
	}
}

// reload re-reads the config file when --conf points somewhere custom.
// Flags the user set explicitly keep their values over the file's.
func reload(cmd *cobra.Command, _ []string) {
	fs := cmd.Root().PersistentFlags()
	if !fs.Changed("conf") {
		return
	}
	keep := *conf
	*conf = *config.NewConfig()
	if fs.Changed("debug") {
		conf.Client.Debug = keep.Client.Debug
	}
	if fs.Changed("username") {
		conf.Client.Username = keep.Client.Username
	}
	if fs.Changed("signal") {
		conf.Signal.Address = keep.Signal.Address
	}
	if fs.Changed("token") {
		conf.Signal.Token = keep.Signal.Token
	}
	if fs.Changed("monitoring.port") {
		conf.Monitoring.Port = keep.Monitoring.Port
	}
}

func init() {
	conf.WithFlags(rootCmd.PersistentFlags())
}
