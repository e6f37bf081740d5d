package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"highwayhub/voice/internal/log"
)

var settings = viper.New()

var rootCmd = &cobra.Command{
	Use:   "voicectl",
	Short: "Terminal client for Highway Hub voice channels",
	Long: `voicectl joins a Highway Hub voice channel from the terminal, lists the
audio devices the host exposes and probes a voice server's health.

Flags can also be set through the environment, e.g. VOICECTL_BACKEND.`,
}

func init() {
	settings.SetEnvPrefix("voicectl")
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()

	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	_ = settings.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// newLogger honours LOG_LEVEL when set and the log-level flag otherwise.
func newLogger() *log.Logger {
	if os.Getenv("LOG_LEVEL") == "" {
		_ = os.Setenv("LOG_LEVEL", settings.GetString("log-level"))
	}
	return log.New("console")
}
