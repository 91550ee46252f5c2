package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	projectName = "terrashine"
	envPrefix   = "TERRASHINE"
)

const (
	logKeyCaller    = "caller"
	logKeyHostname  = "hostname"
	logKeyTimestamp = "timestamp"
)

var (
	flagJSON  bool
	flagDebug bool
)

var (
	logger log.Logger
)

var rootCmd = &cobra.Command{
	Use:           projectName,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initializeConfig(cmd); err != nil {
			return err
		}

		logger = setupLogger(os.Stdout)

		if flagDebug {
			level.Debug(logger).Log("msg", "debug mode enabled")
		}

		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "log-json", false, "Enable JSON logging")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
}

func initializeConfig(cmd *cobra.Command) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	bindFlags(cmd, v)
	return nil
}

func setupLogger(w io.Writer) log.Logger {
	logger := log.NewLogfmtLogger(w)

	if flagJSON {
		logger = log.NewJSONLogger(w)
	}

	logger = log.With(logger,
		logKeyCaller, log.Caller(5),
		logKeyTimestamp, log.DefaultTimestampUTC,
	)

	logLevel := level.AllowInfo()
	{
		if flagDebug {
			logLevel = level.AllowDebug()
		}
		logger = level.NewFilter(logger, logLevel)
	}

	if hostname, err := os.Hostname(); err == nil {
		logger = log.With(logger, logKeyHostname, hostname)
	}

	return logger
}

// bindFlags binds every flag on cmd to a TERRASHINE_-prefixed env var, so
// an unset flag falls back to its environment value before cobra applies
// the flag's own default.
func bindFlags(cmd *cobra.Command, v *viper.Viper) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		envVarSuffix := strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		v.BindEnv(f.Name, fmt.Sprintf("%s_%s", envPrefix, envVarSuffix))
		if !f.Changed && v.IsSet(f.Name) {
			val := v.Get(f.Name)
			cmd.Flags().Set(f.Name, fmt.Sprintf("%v", val))
		}
	})
}
