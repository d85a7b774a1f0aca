package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"signclips/internal/app"
	"signclips/internal/config"
	"signclips/internal/domain"
	fileutil "signclips/internal/file"
	"signclips/internal/pipeline"
)

func newRunCommand(cfg *config.Config) *cobra.Command {
	var (
		maxVideos int
		outDir    string
	)
	cmd := &cobra.Command{
		Use:   "run URL",
		Short: "Process one playlist or video in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			maxVideos = min(max(maxVideos, 1), cfg.MaxVideosCap)
			generated := outDir == ""
			if generated {
				outDir = filepath.Join(cfg.DataDir, "runs", uuid.NewString())
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := runOnce(ctx, *cfg, args[0], maxVideos, outDir)
			if ctx.Err() != nil && generated {
				_ = fileutil.RemoveQuiet(outDir)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderSummary(result))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "archive:", result.ArchivePath)
			return nil
		},
	}
	cmd.Flags().IntVarP(&maxVideos, "max-videos", "n", 5, "Maximum number of videos to fetch")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Working directory (default data_dir/runs/<id>)")
	return cmd
}

func runOnce(ctx context.Context, cfg config.Config, url string, maxVideos int, outDir string) (pipeline.Result, error) {
	if err := fileutil.EnsureDir(outDir); err != nil {
		return pipeline.Result{}, fmt.Errorf("ensure out dir: %w", err)
	}
	updates := make(chan pipeline.Update, 32)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for u := range updates {
			log.Info().Int("progress", u.Progress).Msg(u.Message)
		}
	}()

	p := app.BuildPipeline(cfg, nil)
	result, err := p.Run(ctx, pipeline.Request{
		TaskID:    filepath.Base(outDir),
		URL:       url,
		MaxVideos: maxVideos,
		WorkDir:   outDir,
	}, updates)
	close(updates)
	<-done
	return result, err
}

// renderSummary prints one row per retained video and the clip totals.
func renderSummary(result pipeline.Result) string {
	segments := make(map[string][2]int)
	for _, s := range result.Segments {
		counts := segments[s.VideoRef]
		if s.Status == domain.SegmentSuccess {
			counts[0]++
		} else {
			counts[1]++
		}
		segments[s.VideoRef] = counts
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Video", "Title", "Status", "Clips", "Failed"})
	totalOK, totalFailed := 0, 0
	for _, v := range result.Videos {
		counts := segments[v.TitleSlug]
		totalOK += counts[0]
		totalFailed += counts[1]
		tw.AppendRow(table.Row{v.TitleSlug, v.Title, string(v.Status), counts[0], counts[1]})
	}
	for _, s := range result.Skipped {
		tw.AppendRow(table.Row{s.SourceID, s.Title, "skipped: " + s.Reason, "", ""})
	}
	tw.AppendFooter(table.Row{"", "", "signers " + strconv.Itoa(result.Clusters.NSigners), totalOK, totalFailed})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	return tw.Render()
}
