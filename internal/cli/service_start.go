package cli

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gofer-hq/gofer/internal/app"
	"github.com/gofer-hq/gofer/internal/config"
)

var cmdServiceStart = &cobra.Command{
	Use:   "start",
	Short: "Start the Gofer engine service",
	Long: `Start the Gofer engine service.

This loads configuration, opens the storage, object store, and secret
store, starts the scheduler and event bus, and blocks serving the
extension callback intake until interrupted with SIGINT or SIGTERM.

### List of environment variables

` + strings.Join(config.EnvVarNames(), "\n"),
	RunE: serviceStart,
}

func serviceStart(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("could not load configuration")
	}

	setupLogging(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return app.Run(ctx, cfg, log.Logger)
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.With().Caller().Logger()
	zerolog.SetGlobalLevel(parseLogLevel(level))
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		log.Error().Msgf("log level %q not recognized; defaulting to info", level)
		return zerolog.InfoLevel
	}
}
