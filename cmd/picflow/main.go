package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"PicFlow/internal/compress"
	"PicFlow/internal/config"
	"PicFlow/internal/gallery"
	"PicFlow/internal/hostapi"
	"PicFlow/internal/hostsettings"
	"PicFlow/internal/registry"
	"PicFlow/internal/s3host"
	"PicFlow/internal/uploader"
	"PicFlow/pkg/imagehost"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	hostID := flag.String("host", "", "image host plugin id (default: last used)")
	format := flag.String("format", "", "link format: plain, html, markdown or bbcode")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: picflow [flags] file...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	bootLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}

	configLoader := config.NewConfigLoader(bootLogger)
	cfg, err := configLoader.Load(*configPath)
	if err != nil {
		bootLogger.Fatal("Failed to load config", zap.Error(err))
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		bootLogger.Fatal("Failed to build logger", zap.Error(err))
	}
	defer func(logger *zap.Logger) {
		err := logger.Sync()
		if err != nil {
			log.Printf("error syncing logger: %v", err)
		}
	}(logger)

	store, err := gallery.Open(cfg.Paths.DataDir, logger)
	if err != nil {
		logger.Fatal("Failed to open gallery index", zap.Error(err))
	}
	defer store.Close()

	settings := hostsettings.NewStore(
		hostsettings.NewFileBackend(filepath.Join(cfg.Paths.ConfigDir, "image-hosts.json")),
		hostsettings.NewLegacyFile(filepath.Join(cfg.Paths.ConfigDir, "settings.json")),
		logger,
		hostsettings.DefaultDebounce,
	)

	source := registry.NewDirSource(cfg.Paths.BuiltinPluginDir, cfg.Paths.UserPluginDir, logger)
	reg := registry.New(source, logger)
	reg.RegisterBuiltin("s3", func() (imagehost.Host, error) {
		return s3host.New(logger), nil
	})

	rt := hostapi.NewRuntimeContext(&http.Client{Timeout: 60 * time.Second}, logger)
	codec := compress.NewExecCodec(cfg.Compression.CodecPath, filepath.Join(cfg.Paths.DataDir, "compressed"), logger)
	orchestrator := uploader.NewOrchestrator(settings, store, codec, rt, logger)
	prefs := config.LoadPreferences(filepath.Join(cfg.Paths.ConfigDir, "preferences.json"), logger)

	ctx := context.Background()

	host := pickHost(ctx, reg, prefs, *hostID, logger)
	if host == nil {
		logger.Fatal("No usable image host plugin found")
	}
	desc := host.Descriptor()
	settings.Hydrate(ctx, desc)
	defer settings.Flush(desc.ID)

	citation := *format
	if citation == "" {
		citation = prefs.CitationFormat()
	}

	result, err := orchestrator.Run(ctx, host, flag.Args(), uploader.BatchOptions{
		Concurrency:        cfg.Upload.MaxConcurrentUploads,
		CompressionEnabled: cfg.Compression.EnableOnUpload,
		Compression: compress.Options{
			Quality:       cfg.Compression.Quality,
			ConvertToWebP: cfg.Compression.ConvertToWebP,
		},
		Format: uploader.ParseCitationFormat(citation),
	})
	if err != nil {
		logger.Fatal("Upload batch failed", zap.Error(err))
	}

	prefs.SetLastPluginID(desc.ID)

	for _, line := range result.Lines {
		fmt.Println(line)
	}
	for _, msg := range result.Errors {
		fmt.Fprintln(os.Stderr, msg)
	}
	if len(result.Errors) > 0 {
		os.Exit(1)
	}
}

// pickHost resolves the plugin to upload with: the explicit -host flag, the
// last-used plugin, then the first discovered one.
func pickHost(ctx context.Context, reg *registry.Registry, prefs *config.Preferences, explicit string, logger *zap.Logger) imagehost.Host {
	if explicit != "" {
		return reg.Find(ctx, explicit)
	}
	if last := prefs.LastPluginID(); last != "" {
		if host := reg.Find(ctx, last); host != nil {
			return host
		}
		logger.Warn("last used plugin unavailable, falling back", zap.String("plugin", last))
	}
	entries, err := reg.ListEntries(ctx, false)
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		host, err := reg.Load(ctx, entry)
		if err != nil {
			continue
		}
		return host
	}
	return nil
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	if cfg.Output == "file" {
		zapCfg.OutputPaths = []string{cfg.FilePath}
	}
	return zapCfg.Build()
}
