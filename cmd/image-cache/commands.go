package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	imgcache "github.com/always-cache/image-cache"
	displayhandle "github.com/always-cache/image-cache/pkg/display-handle"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	outputFlag    string
	portFlag      int
	baseURLFlag   string
	handlesFlag   string
	handleTTLFlag time.Duration
)

var resolveCmd = &cobra.Command{
	Use:   "resolve URL...",
	Short: "Print a display handle (data URI) for each image URL",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ic, err := newImageCache(cmd.Context(), activeConfig, nil)
		if err != nil {
			return err
		}
		defer ic.Close()

		failed := 0
		for _, url := range args {
			h, err := ic.Resolve(cmd.Context(), url)
			if err != nil {
				// the display element would be removed; report and go on
				log.Error().Err(err).Str("url", url).Msg("Could not resolve image")
				failed++
				continue
			}
			fmt.Fprintln(cmd.OutOrStdout(), h)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d images could not be resolved", failed, len(args))
		}
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get URL",
	Short: "Write the image for URL to a file or stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ic, err := newImageCache(cmd.Context(), activeConfig, nil)
		if err != nil {
			return err
		}
		defer ic.Close()

		rec, status, err := ic.Lookup(cmd.Context(), args[0])
		if err != nil {
			if code, ok := imgcache.FetchStatus(err); ok {
				return fmt.Errorf("origin answered %d: %w", code, err)
			}
			return err
		}
		log.Info().
			Str("url", args[0]).
			Str("status", status.String()).
			Str("contentType", rec.ContentType).
			Int("bytes", len(rec.Payload)).
			Msg("Got image")

		if outputFlag == "" || outputFlag == "-" {
			_, err = cmd.OutOrStdout().Write(rec.Payload)
			return err
		}
		return os.WriteFile(outputFlag, rec.Payload, 0o644)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the URLs of all stored images",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := newProvider(activeConfig)
		if err != nil {
			return err
		}
		if err := provider.Open(cmd.Context()); err != nil {
			return err
		}
		defer provider.Close()
		return provider.Keys(cmd.Context(), func(key string) {
			fmt.Fprintln(cmd.OutOrStdout(), key)
		})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve /resolve and /images over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		config := activeConfig
		ic, err := newServer(cmd.Context(), config)
		if err != nil {
			return err
		}
		defer ic.Close()

		if storeErr := ic.StoreErr(); storeErr != nil {
			log.Warn().Err(storeErr).Msg("Serving without cache")
		}
		addr := fmt.Sprintf(":%d", config.Serve.Port)
		log.Info().Msgf("Serving images on %s (provider %s, handles %s)", addr, config.Provider, config.Serve.Handles)
		err = http.ListenAndServe(addr, ic)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	},
}

// newServer builds the cache served by serve, with registry handles
// mounted under imgcache.HandlesPath when configured.
func newServer(ctx context.Context, config Config) (*imgcache.ImageCache, error) {
	return newImageCache(ctx, config, func(c *imgcache.Config) {
		if config.Serve.Handles != "registry" {
			return
		}
		baseURL := config.Serve.BaseURL
		if baseURL == "" {
			baseURL = fmt.Sprintf("http://localhost:%d", config.Serve.Port)
		}
		c.Handles = displayhandle.NewRegistry(strings.TrimSuffix(baseURL, "/")+imgcache.HandlesPath,
			displayhandle.WithTTL(config.Serve.HandleTTL))
	})
}

func init() {
	getCmd.Flags().StringVarP(&outputFlag, "output", "o", "", "File to write the image to (default stdout)")

	serveCmd.Flags().IntVar(&portFlag, "port", 8080, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&baseURLFlag, "base-url", "", "Externally visible server URL for registry handles")
	serveCmd.Flags().StringVar(&handlesFlag, "handles", "data", "Handle type for /resolve: data or registry")
	serveCmd.Flags().DurationVar(&handleTTLFlag, "handle-ttl", time.Minute, "Lifetime of registry handles, must be positive")
}
