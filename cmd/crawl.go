// Package cmd defines and implements the CLI commands for the wiserep-spider executable.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/wiserep-spider/internal/crawler"
)

// newCrawlCmd creates the 'crawl' subcommand. Its flags bind onto the viper
// keys they override so config files and WISESPIDER_ variables still apply
// when a flag is absent.
func newCrawlCmd(v *viper.Viper, cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Mirrors supernova spectra",
		Long: `Runs one crawl. Without flags every object on the objects page is
visited and the completed list is cleared at the end of the pass. With
--update only objects modified within --days are visited, and their mirror
directories are rebuilt. With --event only that object is visited.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return prepareApp(cmd, v, *cfgFile)
		},
		RunE: runCrawlCommand,
	}

	flags := cmd.Flags()
	flags.BoolP("update", "u", false, "only crawl objects modified in the last --days days")
	flags.Int("days", 7, "update window in days")
	flags.String("output", "", "mirror root directory")
	flags.String("event", "", "crawl a single object by name")
	flags.StringSlice("types", nil, "exclusive list of object types to mirror")
	flags.String("metrics-addr", "", "serve status and metrics on this address during the run")

	for key, name := range map[string]string{
		"crawl.update":       "update",
		"crawl.days":         "days",
		"storage.output_dir": "output",
		"crawl.event":        "event",
		"crawl.types":        "types",
		"metrics.addr":       "metrics-addr",
	} {
		// BindPFlag only fails on a nil flag.
		_ = v.BindPFlag(key, flags.Lookup(name))
	}
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer appInstance.Close()

	summary, err := appInstance.Run(cmd.Context())
	if err != nil {
		if crawler.IsTransient(err) {
			zap.L().Warn("crawl interrupted; completed events are checkpointed, rerun to resume",
				zap.Int("events", summary.Events))
		}
		return fmt.Errorf("run crawler: %w", err)
	}

	zap.L().Info("crawl command finished",
		zap.String("run_id", summary.RunID),
		zap.Int("events", summary.Events),
		zap.Int("downloaded", summary.Downloaded),
		zap.Duration("runtime", summary.Runtime()),
	)
	return nil
}
