package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/voxmesh/voxmesh/pkg/api"
	"github.com/voxmesh/voxmesh/pkg/audio/device"
	"github.com/voxmesh/voxmesh/pkg/client"
	"github.com/voxmesh/voxmesh/pkg/logger"
	"github.com/voxmesh/voxmesh/pkg/monitoring"
	"github.com/voxmesh/voxmesh/pkg/os"
	"github.com/voxmesh/voxmesh/pkg/screen/display"
)

var (
	flagTimeout time.Duration
	flagMuted   bool
	flagShare   string
)

var joinCmd = &cobra.Command{
	Use:     "join <room>",
	Aliases: []string{"j"},
	Short:   "Join a voice room and stay until interrupted",
	Long: `Join connects to the signaling relay, enters the room and opens a
voice link to every member. The command runs until Ctrl-C and leaves
the room cleanly on the way out.

Examples:
  voxmesh join standup
  voxmesh join standup --muted
  voxmesh join demo --share 1080p30`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJoin(cmd.Context(), args[0])
	},
}

func runJoin(ctx context.Context, room string) error {
	log := logger.NewConsole(conf.Client.Debug, "app", false)

	app, err := client.New(*conf, device.Host{}, display.Grabber{}, log)
	if err != nil {
		return err
	}
	defer app.Close()

	if conf.Monitoring.IsEnabled() {
		mon, err := monitoring.New(conf.Monitoring, log)
		if err != nil {
			return err
		}
		mon.Run()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = mon.Shutdown(sctx)
		}()
	}

	chat := app.OnChat.Subscribe(func(m api.ChatInfo) {
		who := m.Username
		if who == "" {
			who = m.From
		}
		log.Info().Msgf("[%v] %v", who, m.Text)
	})
	defer chat.Close()

	dropped := make(chan error, 1)
	lost := app.OnDroppedOut.Subscribe(func(err error) {
		select {
		case dropped <- err:
		default:
		}
	})
	defer lost.Close()

	jctx, cancel := context.WithTimeout(ctx, flagTimeout)
	err = app.Join(jctx, room)
	cancel()
	if err != nil {
		return err
	}

	if flagMuted {
		app.SetMuted(true)
	}
	if flagShare != "" {
		if err := app.StartShare(flagShare); err != nil {
			log.Warn().Err(err).Msg("screen share failed to start")
		}
	}

	select {
	case <-os.ExpectTermination():
	case err := <-dropped:
		return err
	case <-ctx.Done():
	}
	return nil
}

func init() {
	joinCmd.Flags().DurationVar(&flagTimeout, "timeout", 15*time.Second, "Give up the room handshake after this long")
	joinCmd.Flags().BoolVar(&flagMuted, "muted", false, "Join with the microphone muted")
	joinCmd.Flags().StringVar(&flagShare, "share", "", "Start a screen share with the given preset")
	rootCmd.AddCommand(joinCmd)
}
