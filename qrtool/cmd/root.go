package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	flagConfig string
	log        zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:          "qrtool",
	Short:        "encode, decode and simulate fountain-coded animated QR transfers",
	SilenceUsage: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		return initLogger()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "read settings from `file`; flags passed on the command line take precedence")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn or error")
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(encodeCmd, decodeCmd, simulateCmd, benchCmd)
}

func initConfig() {
	viper.SetEnvPrefix("qrtool")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	if flagConfig == "" {
		return
	}
	viper.SetConfigFile(flagConfig)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintln(os.Stderr, "cannot read config:", err)
		os.Exit(1)
	}
}

func initLogger() error {
	lvl, err := zerolog.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(lvl).
		With().Timestamp().Logger()
	return nil
}

// bindFlags exposes the flags of a subcommand to viper under its name, so that
// "simulate.fps" in a config file or QRTOOL_SIMULATE_FPS in the environment
// sets --fps of simulate.
func bindFlags(c *cobra.Command) {
	c.Flags().VisitAll(func(f *pflag.Flag) {
		_ = viper.BindPFlag(c.Name()+"."+f.Name, f)
	})
}

func setting(c *cobra.Command, name string) string {
	return c.Name() + "." + name
}
