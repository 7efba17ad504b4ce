package cmd

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
)

var peaksOpts runOptions

var peaksCmd = &cobra.Command{
	Use:   "peaks INPUT",
	Short: "Extract waveform peaks from a media file",
	Long: `Decode INPUT and extract its waveform peaks without producing media.

By default the peaks file is saved in the storage output directory as
<stem>-peaks.json. Use --stdout to print the document instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		opts := peaksOpts
		opts.inputs = []string{args[0]}
		opts.peaksOnly = true
		// Names derive from the output, so give the file a home in storage.
		opts.output = filepath.Base(args[0])
		return runTranscode(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
	},
}

func init() {
	rootCmd.AddCommand(peaksCmd)

	f := peaksCmd.Flags()
	f.IntVar(&peaksOpts.spp, "spp", 0, "samples per pixel (default from config)")
	f.StringVar(&peaksOpts.peaksFormat, "format", "", "peaks file format: simple or full (default from config)")
	f.StringVar(&peaksOpts.peaksFile, "out", "", "peaks filename relative to storage")
	f.Float64SliceVar(&peaksOpts.normalize, "normalize", nil, "normalize peaks into lo,hi")
	f.BoolVar(&peaksOpts.printPeaks, "stdout", false, "print the peaks document instead of saving it")
	f.BoolVar(&peaksOpts.record, "record", false, "record the job in the history database")
	f.BoolVar(&peaksOpts.jsonOutput, "json", false, "print the result as JSON")
}
