// Command showctl runs the show control server and administers its store.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"obs-showctl/config"
	"obs-showctl/internal/data"
)

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"log-level":  "log.level",
	"log-format": "log.format",
	"addr":       "server.addr",
	"db":         "store.path",
	"store":      "store.driver",
	"static-dir": "server.static_dir",
}

type cli struct {
	configFile string
	cfg        *config.Config
	logger     log.Logger
	stderr     io.Writer
}

func main() {
	if err := newRootCmd(os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stderr io.Writer) *cobra.Command {
	c := &cli{stderr: stderr, logger: log.NewNopLogger()}
	root := &cobra.Command{
		Use:           "showctl",
		Short:         "Drive scene changes across many OBS instances",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd.Flags())
		},
	}
	root.PersistentFlags().StringVar(&c.configFile, "config", "", "config file (yaml, toml or json)")
	root.PersistentFlags().String("log-level", "info", "debug, info, warn or error")
	root.PersistentFlags().String("log-format", "logfmt", "logfmt or json")
	root.PersistentFlags().String("db", "showctl.db", "sqlite database path")
	root.PersistentFlags().String("store", "sqlite", "store driver: sqlite or redis")

	root.AddCommand(newServeCmd(c))
	root.AddCommand(newShowCmd(c))
	root.AddCommand(newInstanceCmd(c))
	return root
}

func (c *cli) load(flags *pflag.FlagSet) error {
	v := config.NewViper()
	if c.configFile != "" {
		v.SetConfigFile(c.configFile)
	}
	if err := bindFlags(v, flags); err != nil {
		return err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	logger, err := newLogger(c.stderr, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return err
	}
	c.cfg, c.logger = cfg, logger
	return nil
}

// bindFlags binds only the flags present on the running command.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

func newLogger(w io.Writer, format, lvl string) (log.Logger, error) {
	var logger log.Logger
	switch strings.ToLower(format) {
	case "", "logfmt":
		logger = log.NewLogfmtLogger(log.NewSyncWriter(w))
	case "json":
		logger = log.NewJSONLogger(log.NewSyncWriter(w))
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	var allow level.Option
	switch strings.ToLower(lvl) {
	case "debug":
		allow = level.AllowDebug()
	case "", "info":
		allow = level.AllowInfo()
	case "warn", "warning":
		allow = level.AllowWarn()
	case "error":
		allow = level.AllowError()
	default:
		return nil, fmt.Errorf("unknown log level %q", lvl)
	}
	logger = level.NewFilter(logger, allow)
	logger = log.WithPrefix(logger, "ts", log.DefaultTimestampUTC)
	logger = log.WithPrefix(logger, "caller", log.DefaultCaller)
	return logger, nil
}

func (c *cli) openStore(ctx context.Context) (data.ConfigStore, error) {
	sc := c.cfg.Store
	switch sc.Driver {
	case "redis":
		repo, err := data.NewRedisRepo(ctx, sc.RedisAddr, sc.RedisPrefix)
		if err != nil {
			return nil, err
		}
		level.Info(c.logger).Log("msg", "using redis store", "addr", sc.RedisAddr, "prefix", sc.RedisPrefix)
		return repo, nil
	default:
		repo, err := data.NewSQLiteRepo(sc.Path)
		if err != nil {
			return nil, err
		}
		level.Info(c.logger).Log("msg", "using sqlite store", "path", sc.Path)
		return repo, nil
	}
}
