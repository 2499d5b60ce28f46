package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/kvbind/lib/completion"
	"github.com/ValentinKolb/kvbind/lib/engine"
	"github.com/ValentinKolb/kvbind/rpc/common"
	"github.com/ValentinKolb/kvbind/rpc/serializer"
	"github.com/ValentinKolb/kvbind/rpc/transport"
	"github.com/ValentinKolb/kvbind/rpc/transport/http"
	"github.com/ValentinKolb/kvbind/rpc/transport/tcp"
	"github.com/ValentinKolb/kvbind/rpc/transport/unix"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
	// EnvPrefix is the prefix of all environment variables read by the cli
	EnvPrefix = "kvbind"
	// Version of the kvbind cli
	Version = "0.3.1"
)

var Logger = logger.GetLogger("cli")

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// InitConfig loads the env files and initializes viper
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// InitLogging configures the loggers of all packages from the log-level
// and log-format flags
func InitLogging() error {
	return common.InitLoggers(viper.GetString("log-level"), viper.GetString("log-format"))
}

// InitSentry creates a hub for the configured sentry dsn. It returns nil
// if no dsn is configured.
func InitSentry() (*sentry.Hub, error) {
	dsn := viper.GetString("sentry-dsn")
	if dsn == "" {
		return nil, nil
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:     dsn,
		Release: "kvbind@" + Version,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sentry: %w", err)
	}
	return sentry.NewHub(client, sentry.NewScope()), nil
}

// SetupRPCClientFlags adds common RPC connection flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds of the transport"))

	key = "transport-endpoints"
	cmd.PersistentFlags().String(key, "localhost:11210", WrapString("The address of the kvbind server. For transports that support load balancing, multiple endpoints can be specified as a comma-separated list"))

	key = "transport-conn-per-endpoint"
	cmd.PersistentFlags().Int(key, 1, WrapString("Simultaneous connections per endpoint - for transports that support this feature"))

	key = "transport-retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many times to retry the request"))

	key = "transport-write-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the write buffer for the transport (in KB, ignored for http)"))

	key = "transport-read-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the read buffer for the transport (in KB, ignored for http)"))

	key = "transport-tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY for the transport (only for tcp)"))

	key = "transport-tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval for the transport (in seconds, only for tcp)"))

	key = "transport-tcp-linger"
	cmd.PersistentFlags().Int(key, 0, WrapString("The linger time for the transport (in seconds, only for tcp)"))

	key = "mgmt-endpoint"
	cmd.PersistentFlags().String(key, "http://localhost:8091", WrapString("Base url of the management router used for http requests"))

	key = "view-endpoint"
	cmd.PersistentFlags().String(key, "http://localhost:8092", WrapString("Base url of the view router used for http requests"))

	key = "bucket"
	cmd.PersistentFlags().String(key, "default", WrapString("The bucket to connect to"))

	key = "user"
	cmd.PersistentFlags().String(key, "", WrapString("The user to authenticate as, defaults to the bucket name (or the administrator for management requests)"))

	key = "password"
	cmd.PersistentFlags().String(key, "", WrapString("The password of the bucket or the administrator"))

	key = "op-timeout"
	cmd.PersistentFlags().Duration(key, engine.DefaultTimeout, WrapString("The timeout of a single operation"))
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	return &common.ClientConfig{
		Endpoints:              strings.Split(viper.GetString("transport-endpoints"), ","),
		TimeoutSecond:          viper.GetInt("timeout"),
		RetryCount:             viper.GetInt("transport-retries"),
		ConnectionsPerEndpoint: viper.GetInt("transport-conn-per-endpoint"),
		MgmtEndpoint:           viper.GetString("mgmt-endpoint"),
		ViewEndpoint:           viper.GetString("view-endpoint"),
		WriteBufferSize:        viper.GetInt("transport-write-buffer") * 1024,
		ReadBufferSize:         viper.GetInt("transport-read-buffer") * 1024,
		TCPNoDelay:             viper.GetBool("transport-tcp-nodelay"),
		TCPKeepAliveSec:        viper.GetInt("transport-tcp-keepalive"),
		TCPLingerSec:           viper.GetInt("transport-tcp-linger"),
	}
}

// GetConnConfig reads the connection configuration from viper
func GetConnConfig(t completion.ConnectionType) engine.ConnConfig {
	return engine.ConnConfig{
		Type:     t,
		Bucket:   viper.GetString("bucket"),
		User:     viper.GetString("user"),
		Password: viper.GetString("password"),
		Timeout:  viper.GetDuration("op-timeout"),
	}
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IRPCSerializer, error) {
	switch viper.GetString("serializer") {
	case "json":
		return serializer.NewJSONSerializer(), nil
	case "gob":
		return serializer.NewGOBSerializer(), nil
	case "binary":
		return serializer.NewBinarySerializer(), nil
	default:
		return nil, fmt.Errorf("invalid serializer %s", viper.GetString("serializer"))
	}
}

// GetTransport creates the client transport based on configuration
func GetTransport() (transport.IRPCClientTransport, error) {
	switch viper.GetString("transport") {
	case "http":
		return http.NewHttpClientTransport(), nil
	case "tcp":
		return tcp.NewTCPClientTransport(), nil
	case "unix":
		return unix.NewUnixClientTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// GetServerTransport creates the server transport based on configuration
func GetServerTransport() (transport.IRPCServerTransport, error) {
	workers := viper.GetInt("workers")
	buffer := viper.GetInt("buffer-size") * 1024
	switch viper.GetString("transport") {
	case "http":
		return http.NewHttpServerTransport(), nil
	case "tcp":
		if workers <= 0 || buffer <= 0 {
			return tcp.NewTCPDefaultServerTransport(), nil
		}
		return tcp.NewTCPServerTransport(buffer, workers), nil
	case "unix":
		if workers <= 0 || buffer <= 0 {
			return unix.NewUnixDefaultServerTransport(), nil
		}
		return unix.NewUnixServerTransport(buffer, workers), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// FlushSentry waits for buffered sentry events
func FlushSentry(hub *sentry.Hub) {
	if hub != nil {
		hub.Flush(2 * time.Second)
	}
}
