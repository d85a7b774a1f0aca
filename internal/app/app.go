// Package app assembles the service from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"signclips/internal/api"
	"signclips/internal/cluster"
	"signclips/internal/config"
	"signclips/internal/faceapi"
	fileutil "signclips/internal/file"
	"signclips/internal/media"
	"signclips/internal/pipeline"
	"signclips/internal/presence"
	"signclips/internal/retry"
	"signclips/internal/runner"
	"signclips/internal/source"
	"signclips/internal/storage/redisstore"
	"signclips/internal/storage/sqlitestore"
	"signclips/internal/task"
	"signclips/internal/transcribe"
)

// App owns the long-lived collaborators of a serving process.
type App struct {
	Config   config.Config
	Manager  *task.Manager
	Pipeline *pipeline.Pipeline

	closeStore func() error
}

// New opens the task store, builds the pipeline and restores persisted tasks.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	if err := fileutil.EnsureDir(cfg.DataDir); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}
	store, closeStore, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p := BuildPipeline(cfg, nil)
	tm := task.NewManagerWithOptions(task.Options{
		DataDir:            cfg.DataDir,
		MaxConcurrentTasks: cfg.MaxConcurrentTasks,
		MaxVideosCap:       cfg.MaxVideosCap,
		Store:              store,
		Pipeline:           p,
	})
	if err := tm.LoadFromDisk(ctx); err != nil {
		log.Warn().Err(err).Msg("restore tasks failed")
	}
	return &App{Config: cfg, Manager: tm, Pipeline: p, closeStore: closeStore}, nil
}

// Close releases the task store.
func (a *App) Close() error {
	if a.closeStore == nil {
		return nil
	}
	return a.closeStore()
}

// OpenStore selects the record backend named in cfg.Store.Backend.
func OpenStore(ctx context.Context, cfg config.Config) (task.TaskStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Store.Backend {
	case config.StoreRedis:
		s, err := redisstore.New(ctx, redisstore.NewClient(cfg.Store.RedisAddr), cfg.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("open redis store: %w", err)
		}
		log.Info().Str("addr", cfg.Store.RedisAddr).Msg("task records in redis")
		return s, s.Close, nil
	case config.StoreSQLite:
		s, err := sqlitestore.Open(ctx, cfg.SQLitePath(), cfg.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		log.Info().Str("path", cfg.SQLitePath()).Msg("task records in sqlite")
		return s, s.Close, nil
	case config.StoreFile, "":
		return task.NewFileStore(cfg.DataDir), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// BuildPipeline wires the external tools and the face service. A nil runner
// executes real processes.
func BuildPipeline(cfg config.Config, r runner.Runner) *pipeline.Pipeline {
	transcoder := media.NewTranscoder(cfg.Tools.FFmpeg, cfg.Tools.FFprobe, r)
	faces := faceapi.New(cfg.FaceService.URL, cfg.FaceService.Timeout)

	return pipeline.New(pipeline.Config{
		SignerROI: cfg.Region.ROI,
		EndBuffer: cfg.Segment.EndBufferSeconds,
	}, pipeline.Deps{
		Source: source.NewClient(cfg.Tools.YtDlp, r, retry.Config{
			Attempts:  cfg.Download.Attempts,
			BaseDelay: cfg.Download.BaseDelay,
		}),
		Presence: presence.NewFilter(presence.Config{
			Timestamps:  cfg.Presence.SampleTimestamps,
			FrameWidth:  cfg.Presence.FrameWidth,
			FrameHeight: cfg.Presence.FrameHeight,
			ROI:         cfg.Presence.ROI,
		}, transcoder, faces),
		Media: transcoder,
		Transcriber: transcribe.NewWhisperX(transcribe.Config{
			Binary:      cfg.Tools.WhisperX,
			Model:       cfg.Transcription.Model,
			Language:    cfg.Transcription.Language,
			Device:      cfg.Transcription.Device,
			ComputeType: cfg.Transcription.ComputeType,
			BatchSize:   cfg.Transcription.BatchSize,
		}, r),
		Clusterer: cluster.New(transcoder, faces, grouper(cfg.Clustering, faces), cfg.Clustering.FramesPerClip),
	})
}

func grouper(cfg config.Clustering, service cluster.ClusterService) cluster.Grouper { //nolint:ireturn
	if cfg.Method == config.ClusterRemote {
		return cluster.Remote{Service: service, Eps: cfg.Eps, MinSamples: cfg.MinSamples}
	}
	return cluster.DBSCAN{Eps: cfg.Eps, MinSamples: cfg.MinSamples}
}

// Router returns the gin engine serving the API, the UI, health and metrics.
func Router(tm *task.Manager) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(api.ZerologLogger())

	apiHandler := api.NewAPI(tm)
	apiHandler.RegisterRoutes(r)
	apiHandler.RegisterUIRoutes(r)
	return r
}
