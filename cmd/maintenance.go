package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitescraper/internal/sink"
)

// fileOptions locate an output file either directly or through the profile.
type fileOptions struct {
	file      string
	keyColumn string
}

func (o *fileOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.file, "file", "f", "", "output CSV (default: the profile's output.path)")
	cmd.Flags().StringVar(&o.keyColumn, "key", "", "key column (default: the profile's key column, else the first column)")
}

// resolve fills in the path and key column from the profile when not given.
func (o *fileOptions) resolve(rt *runtime) (path, keyColumn string, err error) {
	path, keyColumn = o.file, o.keyColumn
	if path != "" && keyColumn != "" {
		return path, keyColumn, nil
	}
	if rt.cfg.Profile == "" {
		if path == "" {
			return "", "", errors.New("pass --file or --profile")
		}
		return path, keyColumn, nil
	}
	p, err := loadProfile(rt)
	if err != nil {
		return "", "", err
	}
	if path == "" {
		path = p.Output.Path
	}
	if keyColumn == "" {
		keyColumn = p.KeyColumn(!p.HasLookup())
	}
	return path, keyColumn, nil
}

func newStatusCmd() *cobra.Command {
	opts := &fileOptions{}
	var last int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize an output file",
		Long:  "Counts rows, unique and duplicate keys, the fill ratio of every column and lists the last keys written.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := runtimeFrom(cmd.Context())
			if err != nil {
				return err
			}
			path, keyColumn, err := opts.resolve(rt)
			if err != nil {
				return err
			}
			t, err := sink.ReadTable(path, 0)
			if err != nil {
				return err
			}
			summary, err := sink.Summarize(t, keyColumn, last)
			if err != nil {
				return err
			}
			renderSummary(cmd.OutOrStdout(), path, summary)
			return nil
		},
	}
	opts.register(cmd)
	cmd.Flags().IntVar(&last, "last", 5, "number of most recent keys to list")
	return cmd
}

func newDedupeCmd() *cobra.Command {
	opts := &fileOptions{}
	cmd := &cobra.Command{
		Use:   "dedupe",
		Short: "Keep the most complete row per key",
		Long: `Rewrites the output file keeping, for every key, the row with the most
non-empty cells. The original is kept next to it with a .bak suffix.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := runtimeFrom(cmd.Context())
			if err != nil {
				return err
			}
			path, keyColumn, err := opts.resolve(rt)
			if err != nil {
				return err
			}
			res, err := sink.Compact(path, keyColumn, 0)
			if err != nil {
				return err
			}
			rt.logger.Info("output compacted",
				zap.String("path", path),
				zap.Int("before", res.Before),
				zap.Int("after", res.After),
				zap.String("backup", res.Backup),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rows -> %d rows (%d removed), backup at %s\n",
				path, res.Before, res.After, res.Removed, res.Backup)
			return nil
		},
	}
	opts.register(cmd)
	return cmd
}

func newExportCmd() *cobra.Command {
	opts := &fileOptions{}
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write an output file as NDJSON",
		Long:  "Writes every row as one JSON object keyed by the header, to stdout or --out.",
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			rt, err := runtimeFrom(cmd.Context())
			if err != nil {
				return err
			}
			path, _, err := opts.resolve(rt)
			if err != nil {
				return err
			}
			t, err := sink.ReadTable(path, 0)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				defer func() {
					if cerr := f.Close(); cerr != nil && err == nil {
						err = fmt.Errorf("close %s: %w", out, cerr)
					}
				}()
				bw := bufio.NewWriter(f)
				defer func() {
					if ferr := bw.Flush(); ferr != nil && err == nil {
						err = fmt.Errorf("flush %s: %w", out, ferr)
					}
				}()
				w = bw
			}
			n, err := sink.ExportNDJSON(t, w)
			if err != nil {
				return err
			}
			rt.logger.Info("exported", zap.String("path", path), zap.Int("rows", n))
			return nil
		},
	}
	opts.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "destination file (default stdout)")
	return cmd
}
