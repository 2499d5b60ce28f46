package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/kvbind/cmd/http"
	"github.com/ValentinKolb/kvbind/cmd/kv"
	"github.com/ValentinKolb/kvbind/cmd/serve"
	"github.com/ValentinKolb/kvbind/cmd/util"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "kvbind",
		Short: "asynchronous key-value binding",
		Long: fmt.Sprintf(`kvbind (v%s)

A callback driven binding for an asynchronous key-value and HTTP client.
Completions of every connection are dispatched to per-kind continuations
on a single driving goroutine.`, util.Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of kvbind",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kvbind %s\n", color.CyanString("v%s", util.Version))
		},
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(http.HTTPCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (json, gob, binary)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (http, tcp, unix)"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
	key = "log-format"
	RootCmd.PersistentFlags().String(key, "console", util.WrapString("Format of the log output (console, json)"))
	key = "sentry-dsn"
	RootCmd.PersistentFlags().String(key, "", util.WrapString("Report failures that no error continuation handled to this Sentry DSN"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
