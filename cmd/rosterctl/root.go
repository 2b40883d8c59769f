package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/goliatone/go-query-cache/pkg/di"
	"github.com/goliatone/go-query-cache/remote/httpsource"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// offline marks commands that do not talk to the admin API.
const offline = "offline"

type app struct {
	v         *viper.Viper
	settings  settings
	logger    *slog.Logger
	client    *httpsource.Client
	container *di.Container
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "rosterctl",
		Short: "Browse and edit the course roster through the query cache",
		Long: `rosterctl lists users and course members, creates and deletes users and
enrolls members, reading through a cache that refreshes every affected page
after a write.

Configuration is read from ./config.yaml (or --config), then ROSTER_*
environment variables, then flags.`,
		Version:            version,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error { return a.teardown() },
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default: ./config.yaml)")
	flags.String("api-url", defaultAPIURL, "admin API base URL")
	flags.Int("page-size", 10, "records per page")
	flags.Duration("timeout", httpsource.DefaultTimeout, "request timeout")
	flags.Duration("stale-time", 0, "revalidate cached pages older than this on reuse (0 = never)")
	flags.Duration("cache-ttl", 0, "result store TTL (0 = default)")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")
	flags.Bool("json", false, "output as JSON")

	root.AddCommand(
		newUsersCmd(a),
		newMembersCmd(a),
		newCourseCmd(a),
		newEnrollCmd(a),
		newBrowseCmd(a),
		newServeCmd(a),
	)
	return root
}

// setup resolves configuration and, unless cmd is offline, connects the
// cache to the admin API.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	s, err := loadConfig(a.v, cmd)
	if err != nil {
		return err
	}
	level, err := parseLevel(s.LogLevel)
	if err != nil {
		return err
	}
	a.settings = s
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	if _, ok := cmd.Annotations[offline]; ok {
		return nil
	}

	cfg := s.cacheConfig()
	a.client, err = httpsource.New(s.APIURL,
		httpsource.WithTimeout(s.Timeout),
		httpsource.WithPageSize(cfg.PageSize),
		httpsource.WithLogger(a.logger),
	)
	if err != nil {
		return err
	}
	a.container, err = di.NewContainer(cfg,
		di.WithFetch(a.client.Fetch),
		di.WithMutate(a.client.Mutate),
		di.WithLogger(a.logger),
	)
	if err != nil {
		return fmt.Errorf("build cache: %w", err)
	}
	a.logger.Debug("rosterctl: connected", "api", s.APIURL, "page_size", s.PageSize)
	return nil
}

func (a *app) teardown() error {
	if a.container == nil {
		return nil
	}
	return a.container.Close()
}
