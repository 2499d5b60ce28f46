package serve

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	cmdUtil "github.com/ValentinKolb/kvbind/cmd/util"
	"github.com/ValentinKolb/kvbind/rpc/common"
	"github.com/ValentinKolb/kvbind/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the kvbind server",
		Long:    `Start the kvbind server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is KVBIND_<flag> (e.g. KVBIND_NODE_NAME=node-1)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// add flags
	key := "node-name"
	ServeCmd.PersistentFlags().String(key, "node-1", cmdUtil.WrapString("NodeName identifies this node in stats, observe and version responses"))

	key = "buckets"
	ServeCmd.PersistentFlags().String(key, "default", cmdUtil.WrapString("Comma-separated list of buckets to create on startup. Format: NAME or NAME:PASSWORD"))

	key = "admin-user"
	ServeCmd.PersistentFlags().String(key, "Administrator", cmdUtil.WrapString("User name of the cluster administrator"))

	key = "admin-password"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Password of the cluster administrator"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Timeout in seconds"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:11210", cmdUtil.WrapString("The address on which the RPC api will listen (e.g. localhost:11210, /tmp/kvbind.sock, ...)"))

	key = "mgmt-endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8091", cmdUtil.WrapString("The address of the management router, empty to disable it"))

	key = "view-endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8092", cmdUtil.WrapString("The address of the view router, empty to disable it"))

	key = "workers"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Maximum concurrent requests per connection (tcp and unix only, 0 for the transport default)"))

	key = "buffer-size"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Socket buffer size in KB (tcp and unix only, 0 for the transport default)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := cmdUtil.InitLogging(); err != nil {
		return err
	}

	serveCmdConfig.Buckets = nil
	for _, b := range strings.Split(viper.GetString("buckets"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			serveCmdConfig.Buckets = append(serveCmdConfig.Buckets, b)
		}
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.NodeName = viper.GetString("node-name")
	serveCmdConfig.AdminUser = viper.GetString("admin-user")
	serveCmdConfig.AdminPassword = viper.GetString("admin-password")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.MgmtEndpoint = viper.GetString("mgmt-endpoint")
	serveCmdConfig.ViewEndpoint = viper.GetString("view-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.LogFormat = viper.GetString("log-format")
	serveCmdConfig.SentryDSN = viper.GetString("sentry-dsn")

	return serveCmdConfig.Validate()
}

// run starts the kvbind server and stops it on SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}
	t, err := cmdUtil.GetServerTransport()
	if err != nil {
		return err
	}

	hub, err := cmdUtil.InitSentry()
	if err != nil {
		return err
	}
	defer cmdUtil.FlushSentry(hub)

	serv := server.NewRPCServer(*serveCmdConfig, t, s)

	done := make(chan error, 1)
	go func() {
		done <- serv.Serve()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case err = <-done:
	case sg := <-sig:
		server.Logger.Infof("received %s, shutting down", sg)
		err = multierr.Append(serv.Close(), <-done)
	}

	if err != nil && hub != nil {
		hub.CaptureException(err)
	}
	return err
}
