package main

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dosco/docjin/conf"
	"github.com/dosco/docjin/core"
	"github.com/dosco/docjin/memdb"
	"github.com/dosco/docjin/mongodriver"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// These variables are set using -ldflags
	version string
	commit  string
	date    string
)

var (
	log    *zap.SugaredLogger
	zlog   *zap.Logger
	config *conf.Config
	cpath  string
)

// defaultConfig is used when the config directory does not exist
const defaultConfig = `
connections:
  default:
    driver: memory
`

// Cmd is the entry point for the CLI
func Cmd() {
	zlog, _ = conf.NewLogger(false, "info")
	log = zlog.Sugar()

	cobra.EnableCommandSorting = false
	rootCmd := &cobra.Command{
		Use:   "docjin",
		Short: BuildDetails(),
	}

	rootCmd.PersistentFlags().StringVar(&cpath,
		"path", "./config", "path to config files")

	// Add --config as an alias for --path
	rootCmd.PersistentFlags().StringVar(&cpath,
		"config", "./config", "alias for --path")
	rootCmd.PersistentFlags().MarkHidden("config") //nolint:errcheck

	rootCmd.AddCommand(queryCmd())
	rootCmd.AddCommand(dbCmd())
	rootCmd.AddCommand(demoCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("%s", err)
	}
}

// GetConfigName returns the config file name for the GO_ENV environment
func GetConfigName() string {
	ge := strings.ToLower(strings.TrimSpace(os.Getenv("GO_ENV")))

	switch ge {
	case "", "dev", "development":
		return "dev"
	case "prod", "production":
		return "prod"
	case "test", "testing":
		return "test"
	default:
		return ge
	}
}

// setup is a helper function to read the config file
func setup(cpath string) {
	if config != nil {
		return
	}

	cp, err := filepath.Abs(cpath)
	if err != nil {
		log.Fatal(err)
	}

	if _, err := os.Stat(cp); os.IsNotExist(err) {
		log.Infof("Config directory %s not found, using the in-memory store", cp)
		config, err = conf.NewConfig(defaultConfig, "yaml")
	} else {
		config, err = conf.ReadInConfig(filepath.Join(cp, GetConfigName()))
	}
	if err != nil {
		log.Fatal(err)
	}

	l, err := config.Logger()
	if err != nil {
		log.Fatal(err)
	}
	zlog, log = l, l.Sugar()
}

// openConnections dials every configured connection. With no connections
// configured the default connection is an in-memory store.
func openConnections(ctx context.Context, c *core.Config) (core.ConnectionMap, error) {
	conns, err := mongodriver.Open(ctx, c)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open mongodb connections")
	}

	names := make([]string, 0, len(c.Connections))
	for name := range c.Connections {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if strings.EqualFold(c.Connections[name].Driver, "memory") {
			conns[name] = memdb.NewDB()
		}
	}

	if len(conns) == 0 {
		conns[core.DefaultConnectionName] = memdb.NewDB()
	}
	return conns, nil
}

// newDocJin opens the configured connections and builds the engine
func newDocJin(ctx context.Context) (*core.DocJin, error) {
	setup(cpath)

	conns, err := openConnections(ctx, config.Engine())
	if err != nil {
		return nil, err
	}

	dj, err := core.NewDocJin(config.Engine(), conns, core.OptionSetLogger(zlog))
	if err != nil {
		conns.Close(ctx) //nolint:errcheck
		return nil, errors.Wrap(err, "failed to initialize docjin")
	}
	return dj, nil
}

// BuildDetails returns the build details
func BuildDetails() string {
	if version == "" {
		return `
DocJin (unknown version)
For documentation, visit https://github.com/dosco/docjin
`
	}

	return `
DocJin ` + version + `
For documentation, visit https://github.com/dosco/docjin

Commit SHA-1          : ` + commit + `
Commit timestamp      : ` + date + `
`
}

// versionCmd is the cobra CLI command for the version subcommand
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(BuildDetails())
		},
	}
}
