package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/smazurov/relaynode/internal/ffmpeg"
	"github.com/spf13/cobra"
)

// requiredEncoders are the encoders the relay profile cannot run without.
var requiredEncoders = []string{"libx264", "aac"}

// CreateCheckFFmpegCmd creates the check-ffmpeg command.
func CreateCheckFFmpegCmd() *cobra.Command {
	var binary string
	var destination string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "check-ffmpeg",
		Short: "Verify the transcoder binary",
		Long: `Checks that the ffmpeg binary runs and provides the encoders the relay profile needs, ` +
			`then prints the command line that would be used for a destination.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(c.Context(), timeout)
			defer cancel()

			out := c.OutOrStdout()

			v, err := ffmpeg.Version(ctx, binary)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "ffmpeg: %s (version %s)\n", binary, v)

			missing := 0
			for _, encoder := range requiredEncoders {
				ok, err := ffmpeg.HasEncoder(ctx, binary, encoder)
				if err != nil {
					return err
				}
				status := "ok"
				if !ok {
					status = "MISSING"
					missing++
				}
				fmt.Fprintf(out, "encoder %-8s %s\n", encoder, status)
			}

			launcher := ffmpeg.NewLauncher(binary, 0)
			fmt.Fprintf(out, "command: %s\n", ffmpeg.FormatCommand(launcher.Binary, launcher.Command(destination)))

			if missing > 0 {
				return fmt.Errorf("%d required encoder(s) missing", missing)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&binary, "binary", ffmpeg.DefaultBinary, "Path to the ffmpeg binary")
	cmd.Flags().StringVar(&destination, "destination", "srt://127.0.0.1:9000", "Destination used for the printed command")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Timeout for the whole check")
	cmd.SilenceUsage = true

	return cmd
}
