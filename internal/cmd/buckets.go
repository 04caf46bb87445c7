package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/namelens/ratelane/internal/core/store"
	"github.com/namelens/ratelane/internal/output"
)

var bucketsCmd = &cobra.Command{
	Use:   "buckets",
	Short: "Inspect and reset persisted bucket hashes",
}

var (
	bucketsListAll    bool
	bucketsListPrefix string
	bucketsListKey    string

	bucketsResetAll    bool
	bucketsResetKey    string
	bucketsResetPrefix string
	bucketsResetYes    bool
	bucketsResetDryRun bool
)

var bucketsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored bucket hashes",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		query := store.BucketQuery{
			All:    bucketsListAll,
			Key:    strings.TrimSpace(bucketsListKey),
			Prefix: strings.TrimSpace(bucketsListPrefix),
		}
		if !query.All && query.Key == "" && query.Prefix == "" {
			query.All = true
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		entries, err := db.ListBuckets(cmd.Context(), query)
		if err != nil {
			return err
		}

		sink, err := openBucketsSink(cmd, format, "buckets.list")
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		rendered, err := output.NewFormatter(format).FormatBuckets(entries)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(sink.writer, rendered)
		return err
	},
}

var bucketsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete stored bucket hashes",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		if format == output.FormatMarkdown {
			return fmt.Errorf("unsupported output format: %s", format)
		}

		query := store.BucketQuery{
			All:    bucketsResetAll,
			Key:    strings.TrimSpace(bucketsResetKey),
			Prefix: strings.TrimSpace(bucketsResetPrefix),
		}
		if err := query.Validate(); err != nil {
			return err
		}
		if query.All && !bucketsResetYes && !bucketsResetDryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		matched, err := db.CountBuckets(cmd.Context(), query)
		if err != nil {
			return err
		}

		sink, err := openBucketsSink(cmd, format, "buckets.reset")
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		if bucketsResetDryRun {
			return writeBucketsResetResult(format, sink.writer, matched, 0, true)
		}

		deleted, err := db.ResetBuckets(cmd.Context(), query)
		if err != nil {
			return err
		}
		return writeBucketsResetResult(format, sink.writer, matched, deleted, false)
	},
}

func openBucketsSink(cmd *cobra.Command, format output.Format, name string) (*outputSink, error) {
	outPath, outDir, err := resolveOutputTargets(cmd)
	if err != nil {
		return nil, err
	}
	if outDir != "" {
		dir, err := ensureOutDir(outDir)
		if err != nil {
			return nil, err
		}
		outPath = filepath.Join(dir, name+"."+outputExtension(format))
	}
	return openSink(outPath)
}

func writeBucketsResetResult(format output.Format, w io.Writer, matched int, deleted int64, dryRun bool) error {
	result := map[string]any{
		"matched": matched,
		"deleted": deleted,
		"dry_run": dryRun,
	}

	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	if dryRun {
		_, err := fmt.Fprintf(w, "Would delete %d bucket hash(es)\n", matched)
		return err
	}
	_, err := fmt.Fprintf(w, "Deleted %d/%d bucket hash(es)\n", deleted, matched)
	return err
}

func init() {
	bucketsCmd.AddCommand(bucketsListCmd)
	bucketsCmd.AddCommand(bucketsResetCmd)
	rootCmd.AddCommand(bucketsCmd)

	bucketsListCmd.Flags().BoolVar(&bucketsListAll, "all", false, "List all keys (default when no filter is given)")
	bucketsListCmd.Flags().StringVar(&bucketsListKey, "key", "", "List a single METHOD:route key")
	bucketsListCmd.Flags().StringVar(&bucketsListPrefix, "prefix", "", "List keys with matching prefix")
	bucketsListCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table, json, markdown")
	bucketsListCmd.Flags().String("out", "", "Write output to a file (default stdout)")
	bucketsListCmd.Flags().String("out-dir", "", "Write output to a directory")

	bucketsResetCmd.Flags().BoolVar(&bucketsResetAll, "all", false, "Reset all keys")
	bucketsResetCmd.Flags().StringVar(&bucketsResetKey, "key", "", "Reset a single METHOD:route key (exact match)")
	bucketsResetCmd.Flags().StringVar(&bucketsResetPrefix, "prefix", "", "Reset keys with matching prefix")
	bucketsResetCmd.Flags().BoolVar(&bucketsResetYes, "yes", false, "Confirm destructive reset")
	bucketsResetCmd.Flags().BoolVar(&bucketsResetDryRun, "dry-run", false, "Show what would be deleted")
	bucketsResetCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table, json")
	bucketsResetCmd.Flags().String("out", "", "Write output to a file (default stdout)")
	bucketsResetCmd.Flags().String("out-dir", "", "Write output to a directory")
}
