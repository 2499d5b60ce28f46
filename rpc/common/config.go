package common

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ValentinKolb/kvbind/lib/cluster"
	"github.com/ValentinKolb/kvbind/lib/engine"
)

// ErrInvalidConfig is returned when a server or client configuration fails validation
var ErrInvalidConfig = errors.New("invalid configuration")

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of a kvbind node.
type ServerConfig struct {
	// Node identity reported in stats and version responses
	NodeName string `validate:"required"`

	// Buckets served by the node, each "name" or "name:password"
	Buckets []string `validate:"dive,required"`

	// Administrator credentials for the management API
	AdminUser     string `validate:"required"`
	AdminPassword string

	// RPC settings
	Endpoint      string `validate:"required"`
	TimeoutSecond int64  `validate:"gte=0"`

	// HTTP api settings, an empty endpoint disables the router
	MgmtEndpoint string
	ViewEndpoint string

	// Logging configuration
	LogLevel  string `validate:"oneof=debug info warn warning error"`
	LogFormat string `validate:"oneof=console json"`

	// Diagnostics
	SentryDSN string
}

// Validate checks the configuration
func (c *ServerConfig) Validate() error {
	if err := engine.Validator().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	for _, b := range c.BucketConfigs() {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}

// BucketConfigs parses the bucket list into bucket configurations
func (c *ServerConfig) BucketConfigs() []cluster.BucketConfig {
	configs := make([]cluster.BucketConfig, 0, len(c.Buckets))
	for _, entry := range c.Buckets {
		name, password, _ := strings.Cut(entry, ":")
		configs = append(configs, cluster.BucketConfig{
			Name:       name,
			Password:   password,
			RAMQuotaMB: 100,
			Type:       cluster.BucketTypeCouchbase,
		})
	}
	return configs
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	orDisabled := func(s string) string {
		if s == "" {
			return "disabled"
		}
		return s
	}

	// Node Identity
	addSection("Node Identity")
	addField("Node Name", c.NodeName)
	addField("Admin User", c.AdminUser)

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	// HTTP settings
	addSection("HTTP")
	addField("Management Endpoint", orDisabled(c.MgmtEndpoint))
	addField("View Endpoint", orDisabled(c.ViewEndpoint))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)
	addField("Log Format", c.LogFormat)
	addField("Sentry", orDisabled(redact(c.SentryDSN)))

	// Buckets
	addSection("Buckets")
	for i, b := range c.BucketConfigs() {
		auth := "no password"
		if b.Password != "" {
			auth = "password"
		}
		addField(strconv.Itoa(i), fmt.Sprintf("%s (%s)", b.Name, auth))
	}
	return sb.String()
}

// redact hides everything but the host of a dsn
func redact(dsn string) string {
	if at := strings.LastIndex(dsn, "@"); at >= 0 {
		return "***@" + dsn[at+1:]
	}
	return dsn
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds the parameters of the remote engine
type ClientConfig struct {
	Endpoints              []string `validate:"min=1,dive,required"`
	TimeoutSecond          int      `validate:"gte=0"`
	RetryCount             int      `validate:"gte=0"`
	ConnectionsPerEndpoint int      `validate:"gte=0"`

	// MgmtEndpoint is the base url of the management router used for
	// HTTP requests, e.g. http://localhost:8091
	MgmtEndpoint string `validate:"omitempty,url"`
	// ViewEndpoint is the base url of the view router
	ViewEndpoint string `validate:"omitempty,url"`

	// Socket settings
	WriteBufferSize int  `validate:"gte=0"`
	ReadBufferSize  int  `validate:"gte=0"`
	TCPNoDelay      bool // only used by the tcp transport
	TCPKeepAliveSec int  `validate:"gte=0"`
	TCPLingerSec    int  `validate:"gte=-1"`
}

// Validate checks the configuration
func (c *ClientConfig) Validate() error {
	if err := engine.Validator().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.ConnectionsPerEndpoint)))))
	addField("Management Endpoint", c.MgmtEndpoint)
	addField("View Endpoint", c.ViewEndpoint)

	// Socket settings
	addSection("Socket")
	addField("Write Buffer", fmt.Sprintf("%d bytes", c.WriteBufferSize))
	addField("Read Buffer", fmt.Sprintf("%d bytes", c.ReadBufferSize))
	addField("TCP No Delay", strconv.FormatBool(c.TCPNoDelay))
	addField("TCP Keep Alive", fmt.Sprintf("%d sec", c.TCPKeepAliveSec))
	addField("TCP Linger", fmt.Sprintf("%d sec", c.TCPLingerSec))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
