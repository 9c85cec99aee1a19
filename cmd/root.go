package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/wiserep-spider/internal/config"
	"github.com/JakeFAU/wiserep-spider/internal/crawler"
	"github.com/JakeFAU/wiserep-spider/internal/logging"
	"github.com/JakeFAU/wiserep-spider/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what commands need from the built application. Tests inject a fake.
type App interface {
	Run(ctx context.Context) (crawler.RunSummary, error)
	Close()
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return app, nil
}

// newRootCmd creates the root command. Each call gets its own viper instance
// so flag bindings do not leak between invocations.
func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "wiserep-spider",
		Short: "Mirrors public supernova spectra from WISeREP.",
		Long: `wiserep-spider walks the WISeREP object catalog, downloads the public
spectra of every supernova it finds and writes them into a local or GCS
mirror, one directory per event with a README.json metadata record.

A registry of completed and excluded events lets interrupted runs resume.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./wiserep-spider.yaml or $HOME/.wiserep-spider/wiserep-spider.yaml)")

	cmd.AddCommand(newCrawlCmd(v, &cfgFile))
	return cmd
}

// prepareApp loads configuration, builds the logger and the application,
// and stores the application in the command context.
func prepareApp(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	cfg, err := config.LoadWith(v, cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	appInstance, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
	return nil
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// execute runs the command tree with args and returns the process exit code.
func execute(ctx context.Context, args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		return 1
	}
	return 0
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the crawl
// between events.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
