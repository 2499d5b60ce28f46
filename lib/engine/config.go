package engine

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/kvbind/lib/completion"
	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared validator instance
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ConnConfig describes one connection
type ConnConfig struct {
	// Host is the node to connect to. Engines that know their endpoints
	// may leave it empty.
	Host string `validate:"max=1024"`
	// User defaults to the bucket name for bucket connections
	User string
	// Password of the bucket, or of the administrator for cluster connections
	Password string
	// Bucket of a bucket connection, "default" if empty
	Bucket string `validate:"max=100"`
	// Type selects a bucket or a cluster (management) connection
	Type completion.ConnectionType `validate:"lte=1"`
	// Timeout is the initial operation timeout, DefaultTimeout if zero
	Timeout time.Duration `validate:"gte=0"`
}

// Validate checks the configuration and fills in defaults
func (c *ConnConfig) Validate() error {
	if c.Type == completion.ConnectionBucket && c.Bucket == "" {
		c.Bucket = "default"
	}
	if err := Validator().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if c.User == "" && c.Type == completion.ConnectionBucket {
		c.User = c.Bucket
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c ConnConfig) String() string {
	var sb strings.Builder
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}
	addField("Host", c.Host)
	addField("Type", c.Type.String())
	addField("Bucket", c.Bucket)
	addField("User", c.User)
	addField("Timeout", c.Timeout.String())
	return sb.String()
}
