package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mcrider/bikeserial"
	"github.com/mcrider/bikeserial/internal/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "bikecli",
	Short: "Find and talk to the bike controller over serial",
	Long: `bikecli locates the exercise-bike controller on whichever serial port it is
attached to, remembers that port in a local cache, and reads or writes
newline framed messages on it.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default $HOME/.bikecli.yaml)")
	pf.String("cache-dir", defaultCacheDir(), "directory holding the cached device config")
	pf.String("fallback-port", "", "port opened when none was detected (default COM4 / /dev/ttyUSB0)")
	pf.String("log-level", "info", "log level: trace, debug, info, warn, error")
	pf.String("log-file", "", "also write JSON logs to this rotating file")
	pf.Bool("log-json", false, "write JSON logs to stderr")

	for _, name := range []string{"cache-dir", "fallback-port", "log-level", "log-file", "log-json"} {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".bikecli")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("BIKECLI")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ".bikeserial"
	}
	return filepath.Join(dir, "bikeserial")
}

// newService wires a Service from the resolved settings. The returned cleanup
// closes the port and the log file.
func newService() (*bikeserial.Service, func(), error) {
	logger, closer, err := logging.New(logging.Options{
		Level: viper.GetString("log-level"),
		JSON:  viper.GetBool("log-json"),
		File:  viper.GetString("log-file"),
	})
	if err != nil {
		return nil, nil, err
	}

	svc := &bikeserial.Service{
		Logger:       &logger,
		Cache:        &bikeserial.FileCache{Dir: viper.GetString("cache-dir")},
		FallbackPort: viper.GetString("fallback-port"),
	}

	cleanup := func() {
		if err := svc.Close(); err != nil {
			logger.Debug().Err(err).Msg("closing port")
		}
		_ = closer.Close()
	}
	return svc, cleanup, nil
}
