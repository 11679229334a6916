package common

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server" json:"server"`
	Pipeline PipelineConfig `mapstructure:"pipeline" json:"pipeline"`
	OCR      OCRConfig      `mapstructure:"ocr" json:"ocr"`
	Tools    ToolsConfig    `mapstructure:"tools" json:"tools"`
	Storage  StorageConfig  `mapstructure:"storage" json:"storage"`
	Log      LogConfig      `mapstructure:"log" json:"log"`
}

// ServerConfig holds transport-related configuration
type ServerConfig struct {
	HTTPAddr        string        `mapstructure:"http_addr" json:"http_addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr" json:"grpc_addr"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes" json:"max_upload_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
}

// PipelineConfig holds batch scheduling configuration
type PipelineConfig struct {
	Workers        int           `mapstructure:"workers" json:"workers"`
	ForceOCR       bool          `mapstructure:"force_ocr" json:"force_ocr"`
	ScratchDir     string        `mapstructure:"scratch_dir" json:"scratch_dir"`
	OutputDir      string        `mapstructure:"output_dir" json:"output_dir"`
	BatchRetention time.Duration `mapstructure:"batch_retention" json:"batch_retention"`
	PreviewLength  int           `mapstructure:"preview_length" json:"preview_length"`
	ASCIIOnly      bool          `mapstructure:"ascii_only" json:"ascii_only"`
}

// OCRConfig holds OCR engine tuning
type OCRConfig struct {
	Language         string        `mapstructure:"language" json:"language"`
	Deskew           bool          `mapstructure:"deskew" json:"deskew"`
	Clean            bool          `mapstructure:"clean" json:"clean"`
	Jobs             int           `mapstructure:"jobs" json:"jobs"`
	TesseractTimeout time.Duration `mapstructure:"tesseract_timeout" json:"tesseract_timeout"`
	Timeout          time.Duration `mapstructure:"timeout" json:"timeout"`
	DownsampleAbove  int           `mapstructure:"downsample_above" json:"downsample_above"`
	TessdataDir      string        `mapstructure:"tessdata_dir" json:"tessdata_dir"`
}

// ToolsConfig names the external binaries and their time budgets
type ToolsConfig struct {
	OCRmyPDF          string        `mapstructure:"ocrmypdf" json:"ocrmypdf"`
	Img2PDF           string        `mapstructure:"img2pdf" json:"img2pdf"`
	LibreOffice       string        `mapstructure:"libreoffice" json:"libreoffice"`
	Pdftotext         string        `mapstructure:"pdftotext" json:"pdftotext"`
	Pdfinfo           string        `mapstructure:"pdfinfo" json:"pdfinfo"`
	ConvertTimeout    time.Duration `mapstructure:"convert_timeout" json:"convert_timeout"`
	ExtractTimeout    time.Duration `mapstructure:"extract_timeout" json:"extract_timeout"`
	MaxImageDimension int           `mapstructure:"max_image_dimension" json:"max_image_dimension"`
}

// StorageConfig selects where debug PDFs live until the batch is released
type StorageConfig struct {
	ArtifactBackend string `mapstructure:"artifact_backend" json:"artifact_backend"`
	SQLitePath      string `mapstructure:"sqlite_path" json:"sqlite_path"`
}

// LogConfig holds slog handler settings
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// envAliases keeps the bare variable names used by existing deployments.
var envAliases = map[string]string{
	"server.http_addr":   "HTTP_ADDR",
	"server.grpc_addr":   "GRPC_ADDR",
	"ocr.tessdata_dir":   "TESSDATA_PREFIX",
	"pipeline.workers":   "WORKERS",
	"log.level":          "LOG_LEVEL",
	"log.format":         "LOG_FORMAT",
	"pipeline.force_ocr": "FORCE_OCR",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_addr", ":8000")
	v.SetDefault("server.grpc_addr", ":9090")
	v.SetDefault("server.max_upload_bytes", int64(200<<20))
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("pipeline.workers", runtime.NumCPU())
	v.SetDefault("pipeline.force_ocr", true)
	v.SetDefault("pipeline.scratch_dir", filepath.Join(os.TempDir(), "docs2md"))
	v.SetDefault("pipeline.output_dir", "")
	v.SetDefault("pipeline.batch_retention", time.Hour)
	v.SetDefault("pipeline.preview_length", 100)
	v.SetDefault("pipeline.ascii_only", false)

	v.SetDefault("ocr.language", "eng")
	v.SetDefault("ocr.deskew", true)
	v.SetDefault("ocr.clean", true)
	v.SetDefault("ocr.jobs", 2)
	v.SetDefault("ocr.tesseract_timeout", 300*time.Second)
	v.SetDefault("ocr.timeout", 10*time.Minute)
	v.SetDefault("ocr.downsample_above", 0)
	v.SetDefault("ocr.tessdata_dir", "")

	v.SetDefault("tools.ocrmypdf", "ocrmypdf")
	v.SetDefault("tools.img2pdf", "img2pdf")
	v.SetDefault("tools.libreoffice", "libreoffice")
	v.SetDefault("tools.pdftotext", "pdftotext")
	v.SetDefault("tools.pdfinfo", "pdfinfo")
	v.SetDefault("tools.convert_timeout", 5*time.Minute)
	v.SetDefault("tools.extract_timeout", 2*time.Minute)
	v.SetDefault("tools.max_image_dimension", 0)

	v.SetDefault("storage.artifact_backend", "memory")
	v.SetDefault("storage.sqlite_path", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// LoadConfig layers defaults, an optional YAML file and the environment.
// An empty path searches for docs2md.yaml in the working directory and
// tolerates its absence; an explicit path must exist.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DOCS2MD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, alias := range envAliases {
		envKey := "DOCS2MD_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, alias); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("docs2md")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, NewAppError("CONFIG_ERROR", "read config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, NewAppError("CONFIG_ERROR", "decode config", err)
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = filepath.Join(cfg.Pipeline.ScratchDir, "artifacts.db")
	}
	return &cfg, nil
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if err := ValidateConfigSchema(c); err != nil {
		return NewAppError("CONFIG_ERROR", "config does not match schema", err)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "server.http_addr is required", ErrInvalidInput)
	}
	if c.Pipeline.ScratchDir == "" {
		return NewAppError("CONFIG_ERROR", "pipeline.scratch_dir is required", ErrInvalidInput)
	}
	if c.OCR.Timeout < c.OCR.TesseractTimeout {
		return NewAppError("CONFIG_ERROR", "ocr.timeout must not be shorter than ocr.tesseract_timeout", ErrInvalidInput)
	}
	return nil
}
