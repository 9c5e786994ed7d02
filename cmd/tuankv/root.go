package main

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version of tuankv
const Version = "0.2.0"

var (
	rootCmd = &cobra.Command{
		Use:   "tuankv",
		Short: "redis compatible key-value server over a bitcask engine",
		Long: fmt.Sprintf(`tuankv (v%s)

A key-value server speaking the redis serialization protocol,
storing data in an append-only bitcask engine.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of tuankv",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tuankv v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// 环境变量格式 TUANKV_<flag>，例如 TUANKV_PORT=6380
	viper.SetEnvPrefix("tuankv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}
