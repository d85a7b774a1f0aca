package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"signclips/internal/domain"
)

const (
	defaultPort               = 8080
	defaultDataDir            = "data"
	defaultMaxConcurrentTasks = 1
	defaultMaxVideosCap       = 50
	defaultLogLevel           = "info"
)

// Store backends.
const (
	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

// Clustering methods.
const (
	ClusterDBSCAN = "dbscan"
	ClusterRemote = "remote"
)

// Config describes runtime configuration for the service.
type Config struct {
	Port               int    `yaml:"port"`
	DataDir            string `yaml:"data_dir"`
	MaxConcurrentTasks int    `yaml:"max_concurrent_tasks"`
	MaxVideosCap       int    `yaml:"max_videos_cap"`
	LogLevel           string `yaml:"log_level"`

	Store         Store         `yaml:"store"`
	Tools         Tools         `yaml:"tools"`
	Transcription Transcription `yaml:"transcription"`
	FaceService   FaceService   `yaml:"face_service"`
	Presence      Presence      `yaml:"presence"`
	Region        Region        `yaml:"region"`
	Segment       Segment       `yaml:"segment"`
	Clustering    Clustering    `yaml:"clustering"`
	Download      Download      `yaml:"download"`
}

type Store struct {
	Backend    string `yaml:"backend"`
	RedisAddr  string `yaml:"redis_addr"`
	SQLitePath string `yaml:"sqlite_path"`
}

type Tools struct {
	YtDlp    string `yaml:"ytdlp"`
	FFmpeg   string `yaml:"ffmpeg"`
	FFprobe  string `yaml:"ffprobe"`
	WhisperX string `yaml:"whisperx"`
}

type Transcription struct {
	Model       string `yaml:"model"`
	Language    string `yaml:"language"`
	Device      string `yaml:"device"`
	ComputeType string `yaml:"compute_type"`
	BatchSize   int    `yaml:"batch_size"`
}

type FaceService struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type Presence struct {
	SampleTimestamps []float64   `yaml:"sample_timestamps"`
	FrameWidth       int         `yaml:"frame_width"`
	FrameHeight      int         `yaml:"frame_height"`
	ROI              domain.Rect `yaml:"roi"`
}

type Region struct {
	ROI domain.Rect `yaml:"roi"`
}

type Segment struct {
	EndBufferSeconds float64 `yaml:"end_buffer_seconds"`
}

type Clustering struct {
	Method        string  `yaml:"method"`
	Eps           float64 `yaml:"eps"`
	MinSamples    int     `yaml:"min_samples"`
	FramesPerClip int     `yaml:"frames_per_clip"`
}

type Download struct {
	Attempts  int           `yaml:"attempts"`
	BaseDelay time.Duration `yaml:"base_delay"`
}

// Default returns the configuration the pipeline was tuned with.
func Default() Config {
	return Config{
		Port:               defaultPort,
		DataDir:            defaultDataDir,
		MaxConcurrentTasks: defaultMaxConcurrentTasks,
		MaxVideosCap:       defaultMaxVideosCap,
		LogLevel:           defaultLogLevel,
		Store:              Store{Backend: StoreFile, RedisAddr: "localhost:6379"},
		Tools:              Tools{YtDlp: "yt-dlp", FFmpeg: "ffmpeg", FFprobe: "ffprobe", WhisperX: "whisperx"},
		Transcription: Transcription{
			Model:     "large-v3",
			Language:  "vi",
			BatchSize: 16,
		},
		FaceService: FaceService{URL: "http://localhost:8001", Timeout: 30 * time.Second},
		Presence: Presence{
			SampleTimestamps: []float64{2, 10, 20},
			FrameWidth:       1920,
			FrameHeight:      1080,
			ROI:              domain.Rect{X: 125, Y: 637, Width: 178, Height: 159},
		},
		Region:     Region{ROI: domain.Rect{X: 50, Y: 600, Width: 327, Height: 426}},
		Segment:    Segment{EndBufferSeconds: 2.0},
		Clustering: Clustering{Method: ClusterDBSCAN, Eps: 1.0, MinSamples: 2, FramesPerClip: 10},
		Download:   Download{Attempts: 3, BaseDelay: 2 * time.Second},
	}
}

// Load reads YAML config from the provided path. If the file does not exist
// or is empty, defaults are returned with no error. Keys absent from the file
// keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(fileData, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.DataDir == "" {
		c.DataDir = defaultDataDir
	}
	if c.MaxVideosCap <= 0 {
		c.MaxVideosCap = defaultMaxVideosCap
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = StoreFile
	}
	c.Clustering.Method = strings.ToLower(strings.TrimSpace(c.Clustering.Method))
	if c.Clustering.Method == "" {
		c.Clustering.Method = ClusterDBSCAN
	}
	c.FaceService.URL = strings.TrimRight(strings.TrimSpace(c.FaceService.URL), "/")
}

// Validate rejects values the pipeline cannot run with.
func (c Config) Validate() error {
	var problems []string
	// validate concurrency explicitly: values < 1 are not allowed
	if c.MaxConcurrentTasks < 1 {
		problems = append(problems, fmt.Sprintf("invalid max_concurrent_tasks: %d (must be >= 1)", c.MaxConcurrentTasks))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, fmt.Sprintf("invalid log_level: %q", c.LogLevel))
	}
	switch c.Store.Backend {
	case StoreFile:
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			problems = append(problems, "store.redis_addr is required for the redis backend")
		}
	case StoreSQLite:
	default:
		problems = append(problems, fmt.Sprintf("unknown store.backend: %q", c.Store.Backend))
	}
	if c.Clustering.Method != ClusterDBSCAN && c.Clustering.Method != ClusterRemote {
		problems = append(problems, fmt.Sprintf("unknown clustering.method: %q", c.Clustering.Method))
	}
	if c.Clustering.Eps <= 0 || c.Clustering.MinSamples < 1 {
		problems = append(problems, "clustering.eps must be > 0 and clustering.min_samples >= 1")
	}
	if len(c.Presence.SampleTimestamps) == 0 {
		problems = append(problems, "presence.sample_timestamps must not be empty")
	}
	if !c.Presence.ROI.Valid() || !c.Region.ROI.Valid() {
		problems = append(problems, "presence.roi and region.roi need a positive size")
	}
	if c.Segment.EndBufferSeconds < 0 {
		problems = append(problems, "segment.end_buffer_seconds must be >= 0")
	}
	if c.FaceService.URL == "" {
		problems = append(problems, "face_service.url is required")
	}
	if c.Download.Attempts < 1 {
		problems = append(problems, "download.attempts must be >= 1")
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// SQLitePath resolves the database path, defaulting under DataDir.
func (c Config) SQLitePath() string {
	if c.Store.SQLitePath != "" {
		return c.Store.SQLitePath
	}
	return filepath.Join(c.DataDir, "tasks.db")
}
