package main

import (
	"context"
	"evloop"
	"evloop/responder"
	"flag"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"os"
	"os/signal"
	"syscall"
)

const openFilesLimit = 4096

var configFilePath string

func init() {
	flag.StringVar(&configFilePath, "c", "", "path to configuration file (.toml or .yaml).")
}

func loadConfig() *evloop.Config {
	if configFilePath == "" {
		return evloop.DefaultConfig()
	}
	config, err := evloop.LoadConfig(configFilePath)
	if err != nil {
		log.Fatal().Msgf("can't load config: %+v", err)
	}
	return config
}

func initLog(config *evloop.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := config.LogLevel()
	if err != nil {
		log.Warn().Msgf("invalid log level %q, using info", config.Global.LogLevel)
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func main() {
	flag.Parse()
	config := loadConfig()
	initLog(config)

	if _, err := evloop.RaiseOpenFilesLimit(openFilesLimit); err != nil {
		log.Warn().Msgf("can't raise open files limit: %+v", err)
	}

	eventLoop, err := evloop.NewEventLoop(config.ToEventLoopConfig())
	if err != nil {
		log.Fatal().Msgf("can't init event loop: %+v", err)
	}
	listener, err := responder.Listen(eventLoop, responder.OptionsFromConfig(config.Responder))
	if err != nil {
		_ = eventLoop.Close()
		log.Fatal().Msgf("can't start responder: %+v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runErr := eventLoop.RunContext(ctx)

	stats := eventLoop.Stats()
	log.Info().Msgf("event loop %s finished: waits:%d events:%d served:%d", stats.Name, stats.Waits, stats.Events, listener.Served())
	if err := eventLoop.Close(); err != nil {
		log.Error().Msgf("got error while closing event loop: %+v", err)
	}
	if runErr != nil {
		log.Fatal().Msgf("event loop failed: %+v", runErr)
	}
}
