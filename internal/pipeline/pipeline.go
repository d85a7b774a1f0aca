// Package pipeline drives a task from a source URL to a packaged clip dataset.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"signclips/internal/archive"
	"signclips/internal/cluster"
	"signclips/internal/domain"
	fileutil "signclips/internal/file"
	"signclips/internal/presence"
	"signclips/internal/segment"
	"signclips/internal/slug"
	"signclips/internal/source"
	"signclips/internal/telemetry"
	"signclips/internal/transcribe"
)

// Working directory layout.
const (
	RawDir         = "raw"
	RegionDir      = "region"
	TranscriptsDir = "transcripts"
	ClipsDir       = "clips"
	MetadataFile   = "metadata.csv"
	ArchiveFile    = "result.zip"
)

// Source enumerates and downloads candidate videos.
type Source interface {
	Enumerate(ctx context.Context, url string, limit int) ([]source.Entry, error)
	Download(ctx context.Context, e source.Entry, dir string) (string, error)
}

// PresenceChecker decides whether a downloaded video shows a signer.
type PresenceChecker interface {
	Check(ctx context.Context, path string) (presence.Decision, error)
}

// Media crops regions, probes durations and cuts clips.
type Media interface {
	Duration(ctx context.Context, path string) (float64, error)
	Crop(ctx context.Context, src string, roi domain.Rect, dst string) error
	Cut(ctx context.Context, src string, start, duration float64, dst string) error
}

// Transcriber produces ordered speech segments for a video.
type Transcriber interface {
	Transcribe(ctx context.Context, src, outDir string) (transcribe.Transcript, error)
}

// Clusterer groups clips by signer and writes its artifacts into workDir.
type Clusterer interface {
	Run(ctx context.Context, clips []cluster.Clip, workDir string, onProgress func(done, total int)) (domain.ClusterResult, error)
}

// ArchiveBuilder writes the final zip.
type ArchiveBuilder func(ctx context.Context, destZipPath string, entries []archive.Entry) ([]archive.Result, error)

// Deps are the collaborators a Pipeline drives.
type Deps struct {
	Source      Source
	Presence    PresenceChecker
	Media       Media
	Transcriber Transcriber
	Clusterer   Clusterer
	Archive     ArchiveBuilder
}

// Config holds the static numeric policy.
type Config struct {
	SignerROI domain.Rect
	EndBuffer float64
}

// Request is one task's input.
type Request struct {
	TaskID    string
	URL       string
	MaxVideos int
	WorkDir   string
}

// Result is everything a successful run produced.
type Result struct {
	Videos      []domain.VideoRecord `json:"videos"`
	Skipped     []domain.Skip        `json:"skipped"`
	Segments    []domain.Segment     `json:"segments"`
	Clusters    domain.ClusterResult `json:"clusters"`
	ArchivePath string               `json:"archive_path"`
}

// Pipeline runs tasks one at a time per call; it holds no per-task state.
type Pipeline struct {
	cfg  Config
	deps Deps
}

// New returns a pipeline. A nil archive builder falls back to archive.BuildArchive.
func New(cfg Config, deps Deps) *Pipeline {
	if deps.Archive == nil {
		deps.Archive = archive.BuildArchive
	}
	return &Pipeline{cfg: cfg, deps: deps}
}

// run is the state of one invocation.
type run struct {
	*Pipeline
	req    Request
	rep    *reporter
	logger zerolog.Logger
	result Result
}

// Run executes every stage for req, publishing progress into updates (which
// may be nil). It returns ctx.Err() once cancellation is observed and a
// *StageError or one of ErrNoVideos/ErrNoClips for task-fatal failures.
// Per-video and per-segment failures are recorded in the result instead.
func (p *Pipeline) Run(ctx context.Context, req Request, updates chan<- Update) (Result, error) {
	r := &run{
		Pipeline: p,
		req:      req,
		rep:      &reporter{ch: updates},
		logger:   log.With().Str("task_id", req.TaskID).Logger(),
	}
	if err := r.execute(ctx); err != nil {
		if ctx.Err() != nil {
			return r.result, ctx.Err()
		}
		return r.result, err
	}
	return r.result, nil
}

func (r *run) dir(name string) string { return filepath.Join(r.req.WorkDir, name) }

func (r *run) execute(ctx context.Context) error {
	r.rep.report(ctx, 0, "initializing")
	if err := fileutil.EnsureDirs(r.req.WorkDir, RawDir, RegionDir, TranscriptsDir, ClipsDir); err != nil {
		return stageErr("init", "", err)
	}

	if err := r.acquire(ctx); err != nil {
		return err
	}
	if len(r.result.Videos) == 0 {
		return ErrNoVideos
	}

	for i := range r.result.Videos {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.processVideo(ctx, i); err != nil {
			return err
		}
	}

	metadataPath := r.dir(MetadataFile)
	if err := segment.WriteMetadata(metadataPath, r.result.Segments); err != nil {
		return stageErr(StageMetadata, "", err)
	}
	clips := r.successfulClips()
	if len(clips) == 0 {
		return ErrNoClips
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := r.cluster(ctx, clips); err != nil {
		return err
	}
	if err := segment.WriteMetadata(metadataPath, r.result.Segments); err != nil {
		return stageErr(StageMetadata, "", err)
	}
	return r.pack(ctx, metadataPath, clips)
}

// acquire enumerates the source, downloads every entry and keeps those the
// presence filter accepts under a deduplicated slug.
func (r *run) acquire(ctx context.Context) error {
	r.rep.report(ctx, acquireStart, "enumerating videos")
	started := time.Now()
	entries, err := r.deps.Source.Enumerate(ctx, r.req.URL, r.req.MaxVideos)
	telemetry.ObserveStage(StageEnumerate, started)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return stageErr(StageEnumerate, "", err)
	}
	r.logger.Info().Int("entries", len(entries)).Msg("source enumerated")

	slugs := slug.NewRegistry()
	rawDir := r.dir(RawDir)
	for k, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.rep.report(ctx, acquireProgress(k, len(entries)), fmt.Sprintf("downloading video %d/%d", k+1, len(entries)))
		video, reason, err := r.acquireOne(ctx, entry, rawDir, slugs)
		if err != nil {
			return err
		}
		if reason != "" {
			r.result.Skipped = append(r.result.Skipped, domain.Skip{SourceID: entry.ID, Title: entry.Title, Reason: reason})
			continue
		}
		r.result.Videos = append(r.result.Videos, video)
	}
	r.rep.report(ctx, acquireEnd, fmt.Sprintf("%d of %d videos retained", len(r.result.Videos), len(entries)))
	return nil
}

// acquireOne returns either a retained video or a skip reason. The error is
// reserved for cancellation.
func (r *run) acquireOne(ctx context.Context, entry source.Entry, rawDir string, slugs *slug.Registry) (domain.VideoRecord, string, error) {
	logger := r.logger.With().Str("video", entry.ID).Logger()

	started := time.Now()
	tmp, err := r.deps.Source.Download(ctx, entry, rawDir)
	telemetry.ObserveStage(StageDownload, started)
	if err != nil {
		if ctx.Err() != nil {
			return domain.VideoRecord{}, "", ctx.Err()
		}
		logger.Warn().Err(err).Msg("download failed, skipping video")
		telemetry.VideosRejected.WithLabelValues(StageDownload).Inc()
		return domain.VideoRecord{}, stageErr(StageDownload, entry.ID, err).Error(), nil
	}

	started = time.Now()
	decision, err := r.deps.Presence.Check(ctx, tmp)
	telemetry.ObserveStage(StagePresence, started)
	if err != nil {
		_ = fileutil.RemoveQuiet(tmp)
		return domain.VideoRecord{}, "", err
	}
	if !decision.Accepted {
		_ = fileutil.RemoveQuiet(tmp)
		logger.Warn().Str("reason", decision.Reason).Int("present", countTrue(decision.Samples)).Msg("presence check rejected video")
		telemetry.VideosRejected.WithLabelValues(StagePresence).Inc()
		return domain.VideoRecord{}, "presence: " + decision.Reason, nil
	}

	video := domain.VideoRecord{
		SourceID:       entry.ID,
		SourceURL:      entry.URL,
		Title:          entry.Title,
		TitleSlug:      slugs.Claim(entry.Title),
		PresenceResult: true,
		Status:         domain.VideoPending,
	}
	video.RawPath = filepath.Join(rawDir, video.FileName())
	if err := fileutil.MoveFile(tmp, video.RawPath); err != nil {
		_ = fileutil.RemoveQuiet(tmp)
		logger.Warn().Err(err).Msg("rename failed, skipping video")
		return domain.VideoRecord{}, stageErr(StageDownload, entry.ID, err).Error(), nil
	}
	logger.Info().Str("slug", video.TitleSlug).Msg("video retained")
	return video, "", nil
}

// processVideo crops, transcribes and cuts video i. Crop and transcription
// failures mark the video failed and return nil; only cancellation escapes.
func (r *run) processVideo(ctx context.Context, i int) error {
	n := len(r.result.Videos)
	video := &r.result.Videos[i]
	logger := r.logger.With().Str("video", video.TitleSlug).Logger()
	label := fmt.Sprintf("video %d/%d", i+1, n)

	r.rep.report(ctx, videoProgress(i, n, false, false, 0), label+": cropping signer region")
	video.RegionPath = filepath.Join(r.dir(RegionDir), video.FileName())
	started := time.Now()
	err := r.deps.Media.Crop(ctx, video.RawPath, r.cfg.SignerROI, video.RegionPath)
	telemetry.ObserveStage(StageCrop, started)
	if err != nil {
		return r.failVideo(ctx, video, logger, stageErr(StageCrop, video.TitleSlug, err))
	}

	r.rep.report(ctx, videoProgress(i, n, true, false, 0), label+": transcribing")
	scratch := filepath.Join(r.dir(TranscriptsDir), "."+video.TitleSlug)
	started = time.Now()
	transcript, err := r.deps.Transcriber.Transcribe(ctx, video.RegionPath, scratch)
	telemetry.ObserveStage(StageTranscribe, started)
	if err != nil {
		return r.failVideo(ctx, video, logger, stageErr(StageTranscribe, video.TitleSlug, err))
	}
	video.Aligned = transcript.Aligned
	video.TranscriptPath = filepath.Join(r.dir(TranscriptsDir), video.TitleSlug+".json")
	if err := transcribe.WriteJSON(video.TranscriptPath, transcript); err != nil {
		return r.failVideo(ctx, video, logger, stageErr(StageTranscribe, video.TitleSlug, err))
	}

	sourceDuration, err := r.deps.Media.Duration(ctx, video.RegionPath)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Debug().Err(err).Msg("probe failed, trailing buffer uncapped")
		sourceDuration = 0
	}
	planned := segment.Plan(*video, transcript.Segments, r.cfg.EndBuffer, sourceDuration)
	r.rep.report(ctx, videoProgress(i, n, true, true, 0), fmt.Sprintf("%s: cutting %d segments", label, len(planned)))

	started = time.Now()
	cut, err := segment.NewCutter(r.deps.Media).Cut(ctx, video.RegionPath, r.dir(ClipsDir), planned, func(done, total int) {
		r.rep.report(ctx, videoProgress(i, n, true, true, float64(done)/float64(total)), fmt.Sprintf("%s: cut %d/%d segments", label, done, total))
	})
	telemetry.ObserveStage(StageCut, started)
	if err != nil {
		return err
	}
	failed := 0
	for _, s := range cut {
		telemetry.SegmentsTotal.WithLabelValues(string(s.Status)).Inc()
		if s.Status == domain.SegmentFailed {
			failed++
		}
	}
	r.result.Segments = append(r.result.Segments, cut...)
	video.SegmentCount = len(cut)
	video.Status = domain.VideoProcessed
	logger.Info().Int("segments", len(cut)).Int("failed", failed).Bool("aligned", video.Aligned).Msg("video processed")
	return nil
}

func (r *run) failVideo(ctx context.Context, video *domain.VideoRecord, logger zerolog.Logger, err *StageError) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	video.Status = domain.VideoFailed
	video.Error = err.Error()
	telemetry.VideosFailed.WithLabelValues(err.Stage).Inc()
	logger.Error().Err(err.Err).Str("stage", err.Stage).Str("class", err.Class().String()).Msg("video aborted")
	return nil
}

func (r *run) successfulClips() []cluster.Clip {
	clipsDir := r.dir(ClipsDir)
	var clips []cluster.Clip
	for _, s := range r.result.Segments {
		if s.Status == domain.SegmentSuccess {
			clips = append(clips, cluster.Clip{Name: s.Name(), Path: filepath.Join(clipsDir, s.ClipFile())})
		}
	}
	return clips
}

func (r *run) cluster(ctx context.Context, clips []cluster.Clip) error {
	r.rep.report(ctx, videosEnd, fmt.Sprintf("clustering %d clips by signer", len(clips)))
	started := time.Now()
	result, err := r.deps.Clusterer.Run(ctx, clips, r.req.WorkDir, func(done, total int) {
		r.rep.report(ctx, clusterProgress(done, total), fmt.Sprintf("embedding clip %d/%d", done, total))
	})
	telemetry.ObserveStage(StageCluster, started)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return stageErr(StageCluster, "", err)
	}
	r.result.Clusters = result
	segment.AssignSigners(r.result.Segments, result.Assignments())
	r.logger.Info().Int("signers", result.NSigners).Int("unclustered", len(result.Unclustered)).Msg("signers assigned")
	return nil
}

func (r *run) pack(ctx context.Context, metadataPath string, clips []cluster.Clip) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.rep.report(ctx, clusterEnd, "packaging dataset")
	clipPaths := make([]string, len(clips))
	for i, c := range clips {
		clipPaths[i] = c.Path
	}
	entries := archive.Layout(clipPaths, metadataPath, r.dir(cluster.ClustersFile))
	dest := r.dir(ArchiveFile)
	started := time.Now()
	results, err := r.deps.Archive(ctx, dest, entries)
	telemetry.ObserveStage(StagePackage, started)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return stageErr(StagePackage, "", err)
	}
	for _, res := range results {
		if res.Err != "" {
			return stageErr(StagePackage, "", errors.New(res.Name+": "+res.Err))
		}
	}
	r.result.ArchivePath = dest
	r.rep.report(ctx, packageEnd, "archive ready")
	return nil
}

func countTrue(samples []bool) int {
	n := 0
	for _, s := range samples {
		if s {
			n++
		}
	}
	return n
}
