// Command portalwatch keeps a seller portal session under watch: it collects
// listings on a cycle, reacts to matching rules and sends a daily digest.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ternarybob/portalwatch/internal/app"
	"github.com/ternarybob/portalwatch/internal/common"
	"github.com/ternarybob/portalwatch/internal/server"
)

// configPaths collects repeated -config flags; later files override earlier ones
type configPaths []string

func (c *configPaths) String() string { return strings.Join(*c, ",") }

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

// Searched in order when no -config is given
var defaultConfigPaths = []string{"portalwatch.toml", "deployments/local/portalwatch.toml"}

const shutdownTimeout = 15 * time.Second

func main() {
	var (
		configs     configPaths
		port        int
		host        string
		showVersion bool
	)
	flag.Var(&configs, "config", "Configuration file (repeatable, later files win)")
	flag.Var(&configs, "c", "Configuration file (shorthand)")
	flag.IntVar(&port, "port", 0, "Server port (overrides config)")
	flag.IntVar(&port, "p", 0, "Server port (shorthand)")
	flag.StringVar(&host, "host", "", "Server host (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.BoolVar(&showVersion, "v", false, "Print version and exit (shorthand)")
	flag.Parse()

	common.LoadVersionFromFile()
	if showVersion {
		fmt.Printf("portalwatch %s\n", common.CurrentVersion())
		return
	}

	os.Exit(run(configs, port, host))
}

func run(configs configPaths, port int, host string) int {
	if len(configs) == 0 {
		for _, path := range defaultConfigPaths {
			if _, err := os.Stat(path); err == nil {
				configs = append(configs, path)
				break
			}
		}
	}

	config, err := common.LoadFromFiles(configs...)
	if err != nil {
		common.GetLogger().Error().Strs("paths", configs).Err(err).Msg("Failed to load configuration")
		return 1
	}
	common.ApplyFlagOverrides(config, port, host)

	logger := common.InitLogger(config)
	common.InstallCrashHandler(common.LogDir(config.Logging))
	defer common.RecoverWithCrashFile()

	common.PrintBanner(config, logger)
	logger.Info().
		Strs("config_files", configs).
		Str("log_level", config.Logging.Level).
		Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(config, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize application")
		return 1
	}

	srv := server.New(application)
	serverErr := make(chan error, 1)
	common.SafeGo(logger, "http-server", func() {
		serverErr <- srv.Start()
	})

	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("HTTP server stopped unexpectedly")
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}

	// Stops the schedulers and flushes every store
	application.Close()
	logger.Info().Msg("portalwatch stopped")
	return exitCode
}
