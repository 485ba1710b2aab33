package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/curio/internal/archive"
	"github.com/fyrsmithlabs/curio/internal/embeddings"
)

func newArchiveCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect archived experiences",
		Long: `archive reads the durable experience archive that train writes to when
archive.enabled is set.`,
	}
	cmd.AddCommand(newArchiveQueryCmd(a), newArchiveCountCmd(a))
	return cmd
}

func newArchiveQueryCmd(a *app) *cobra.Command {
	var (
		limit  int
		format string
	)
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Find archived experiences similar to text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validFormat(format); err != nil {
				return err
			}
			if limit < 1 {
				return fmt.Errorf("limit must be positive, got %d", limit)
			}
			return a.withArchive(cmd.Context(), func(arch *archive.ChromemArchive) error {
				text := strings.Join(args, " ")
				records, err := arch.QueryText(cmd.Context(), text, limit)
				if err != nil {
					return err
				}
				a.logger.Debug(cmd.Context(), "archive queried",
					zap.String("query", text),
					zap.Int("results", len(records)))

				if format == formatTable {
					_, err := fmt.Fprint(a.out, renderRecords(records))
					return err
				}
				return encode(a.out, format, records)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "maximum results")
	cmd.Flags().StringVarP(&format, "format", "o", formatTable, "output format: table, json or yaml")
	return cmd
}

func newArchiveCountCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of archived experiences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withArchive(cmd.Context(), func(arch *archive.ChromemArchive) error {
				_, err := fmt.Fprintln(a.out, arch.Count())
				return err
			})
		},
	}
}

// withArchive opens the configured archive for the duration of fn.
func (a *app) withArchive(ctx context.Context, fn func(*archive.ChromemArchive) error) error {
	if !a.cfg.Archive.Enabled {
		a.logger.Warn(ctx, "archive.enabled is false; reading the configured path anyway",
			zap.String("path", a.cfg.Archive.Chromem.Path))
	}

	provider, err := embeddings.NewProvider(a.cfg.Embeddings, a.logger.Component("embeddings"))
	if err != nil {
		return fmt.Errorf("creating embeddings provider: %w", err)
	}
	defer provider.Close()

	arch, err := archive.NewChromemArchive(a.cfg.Archive.Chromem, provider, a.logger.Component("archive"))
	if err != nil {
		return err
	}
	return fn(arch)
}
