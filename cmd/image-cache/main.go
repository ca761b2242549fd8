package main

import (
	"context"
	"fmt"
	"io"
	"os"

	imgcache "github.com/always-cache/image-cache"
	"github.com/always-cache/image-cache/cache"
	imagefetch "github.com/always-cache/image-cache/pkg/image-fetch"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	// CLI flags
	configFilenameFlag string
	providerFlag       string
	dbFilenameFlag     string
	dedupeFlag         bool
	verbosityFlag      bool
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string

	// loaded before any subcommand runs
	activeConfig Config
)

var rootCmd = &cobra.Command{
	Use:   "image-cache",
	Short: "A persistent cache of remote images, keyed by URL.",
	Long: `image-cache keeps downloaded images in a local store keyed by their URL.
Images are fetched once and served from the store afterwards.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		activeConfig = config
		return setupLogging(config.LogFile)
	},
}

func init() {
	if version == "" {
		version = "DEV"
	}
	rootCmd.Version = version

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flags.StringVar(&providerFlag, "provider", "", "Cache provider to use: sqlite, bolt or memory (overrides config)")
	flags.StringVar(&dbFilenameFlag, "db", "", "Cache DB file name (overrides config)")
	flags.BoolVar(&dedupeFlag, "dedupe", false, "Share one fetch between concurrent requests for the same URL")
	flags.BoolVarP(&verbosityFlag, "verbose", "v", false, "Verbosity: debug logging")
	flags.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flags.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stderr)")

	rootCmd.AddCommand(resolveCmd, getCmd, listCmd, serveCmd)
}

// resetFlags restores every flag to its default and clears its changed state.
func resetFlags() {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	rootCmd.PersistentFlags().VisitAll(reset)
	for _, cmd := range rootCmd.Commands() {
		cmd.Flags().VisitAll(reset)
	}
	activeConfig = Config{}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(logFilename string) error {
	logLevel := zerolog.InfoLevel
	if verbosityFlag {
		logLevel = zerolog.DebugLevel
	}
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// log to stderr, and to a log file if specified
	logOutputs := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr}}
	if logFilename != "" {
		logFileOutput, err := os.OpenFile(logFilename, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			return fmt.Errorf("cannot open log file: %w", err)
		}
		logOutputs = append(logOutputs, logFileOutput)
	}
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(logOutputs...)).
		Level(logLevel).
		With().Timestamp().Str("version", version).Logger()
	return nil
}

// loadConfig reads the config and applies command line overrides.
func loadConfig(cmd *cobra.Command) (Config, error) {
	config, err := getConfig(configFilenameFlag)
	if err != nil {
		return config, err
	}
	flags := cmd.Flags()
	if flags.Changed("provider") {
		config.Provider = providerFlag
	}
	if flags.Changed("db") {
		config.DB = dbFilenameFlag
	}
	if flags.Changed("dedupe") {
		config.Deduplicate = dedupeFlag
	}
	if flags.Changed("log-file") {
		config.LogFile = logFilenameFlag
	}
	// serve flags; unknown to the other commands
	if flags.Changed("port") {
		config.Serve.Port = portFlag
	}
	if flags.Changed("base-url") {
		config.Serve.BaseURL = baseURLFlag
	}
	if flags.Changed("handles") {
		config.Serve.Handles = handlesFlag
	}
	if flags.Changed("handle-ttl") {
		config.Serve.HandleTTL = handleTTLFlag
	}
	return config, config.validate()
}

func newProvider(config Config) (cache.Provider, error) {
	switch config.Provider {
	case "sqlite":
		dbFilename := config.DB
		if dbFilename == "memory" {
			dbFilename = ""
		}
		return cache.NewSQLiteCache(dbFilename), nil
	case "bolt":
		return cache.NewBoltCache(config.DB), nil
	case "memory":
		return cache.NewMemCache(), nil
	default:
		return nil, fmt.Errorf("unsupported cache provider: %s", config.Provider)
	}
}

// newImageCache builds the cache described by config.
// extra is applied last and may set handles or other options.
func newImageCache(ctx context.Context, config Config, extra func(*imgcache.Config)) (*imgcache.ImageCache, error) {
	provider, err := newProvider(config)
	if err != nil {
		return nil, err
	}
	logger := log.Logger.With().Str("provider", config.Provider).Logger()
	cacheConfig := imgcache.Config{
		Cache: provider,
		Fetcher: imagefetch.New(
			imagefetch.WithTimeout(config.FetchTimeout),
			imagefetch.WithLogger(logger),
		),
		Logger:      &logger,
		Deduplicate: config.Deduplicate,
	}
	if extra != nil {
		extra(&cacheConfig)
	}
	return imgcache.CreateCache(ctx, cacheConfig), nil
}
