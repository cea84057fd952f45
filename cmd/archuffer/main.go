// Command archuffer archives and extracts ARH1 containers from the
// command line.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lmoreau/archuffer/archive"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "archuffer",
		Short:         "Huffman-based archiver for files and directories",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newArchiveCmd(), newUnarchiveCmd())
	return root
}

func newArchiveCmd() *cobra.Command {
	var output string
	var noProgress bool
	var verbose bool

	cmd := &cobra.Command{
		Use:     "archive TARGET...",
		Aliases: []string{"a"},
		Short:   "Archive and compress files/directories",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(verbose)
			out, err := os.Create(output)
			if err != nil {
				return err
			}
			defer out.Close()

			opts := archive.CreateOptions{}
			if !noProgress {
				opts.OnProgress = func(entryPath string, done, total int) {
					logger.Infof("archiving %s  %s/%s", entryPath, units.BytesSize(float64(done)), units.BytesSize(float64(total)))
				}
			}
			stats, err := archive.Create(out, args, opts)
			if err != nil {
				if errors.Is(err, archive.ErrNotFound) {
					logger.WithError(err).Error("one or more targets do not exist")
					return err
				}
				return err
			}
			logger.Infof("compression ratio: %s -> %s (%.1f%%)",
				units.BytesSize(float64(stats.OriginalBytes)),
				units.BytesSize(float64(stats.CompressedBytes)),
				stats.Ratio()*100)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output archive file path")
	cmd.Flags().BoolVarP(&noProgress, "no-progress", "P", false, "suppress per-file progress output")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.MarkFlagRequired("output")
	return cmd
}

func newUnarchiveCmd() *cobra.Command {
	var output string
	var noProgress bool
	var verbose bool

	cmd := &cobra.Command{
		Use:     "unarchive ARCHIVE",
		Aliases: []string{"u"},
		Short:   "Decompress and unarchive data",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(verbose)
			in, err := os.Open(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "[!] archive file not found: %s\n", args[0])
				return err
			}
			defer in.Close()

			opts := archive.ExtractOptions{Logger: logger}
			if !noProgress {
				opts.OnProgress = func(entryPath string, done, total int) {
					logger.Infof("extracting %s  %s/%s", entryPath, units.BytesSize(float64(done)), units.BytesSize(float64(total)))
				}
			}
			return archive.Extract(in, output, opts)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", ".", "destination directory")
	cmd.Flags().BoolVarP(&noProgress, "no-progress", "P", false, "suppress per-file progress output")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}

func newLogger(verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}
