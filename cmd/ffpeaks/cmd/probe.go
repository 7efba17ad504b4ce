package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/ffpeaks/internal/ffmpeg"
)

var probeYAML bool

var probeCmd = &cobra.Command{
	Use:   "probe [FILE]",
	Short: "Show the FFmpeg installation or the audio layout of a file",
	Long: `Without arguments, print the detected ffmpeg and ffprobe binaries and
their version. With FILE, print the layout of its first audio stream, which
is what peaks extraction requests from FFmpeg.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		info, err := detectBinaries(ctx)
		if err != nil {
			return err
		}

		var out any = info
		if len(args) == 1 {
			if info.FFprobePath == "" {
				return errors.New("ffprobe not found")
			}
			audio, err := ffmpeg.NewProber(info.FFprobePath).
				WithTimeout(cfg.FFmpeg.ProbeTimeout).
				ProbeAudio(ctx, args[0])
			if err != nil {
				return fmt.Errorf("probing %s: %w", args[0], err)
			}
			out = audio
		}

		if probeYAML {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(out)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	probeCmd.Flags().BoolVar(&probeYAML, "yaml", false, "print YAML instead of JSON")
	rootCmd.AddCommand(probeCmd)
}
