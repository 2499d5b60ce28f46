package cluster

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/kvbind/lib/completion"
	"github.com/ValentinKolb/kvbind/lib/store"
	"github.com/ValentinKolb/kvbind/lib/store/lstore"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("cluster")

// DefaultVersion is reported by nodes without a configured version
const DefaultVersion = "2.0.0-kvbind"

var (
	// ErrBucketExists is returned when creating a bucket that already exists
	ErrBucketExists = errors.New("bucket already exists")
	// ErrNoSuchBucket is returned for operations on a missing bucket
	ErrNoSuchBucket = errors.New("no such bucket")
	// ErrInvalidBucket is returned for bucket configurations that fail validation
	ErrInvalidBucket = errors.New("invalid bucket configuration")
)

// Bucket types
const (
	BucketTypeCouchbase = "couchbase"
	BucketTypeMemcached = "memcached"
)

var bucketNameRe = regexp.MustCompile(`^[A-Za-z0-9._%-]+$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func bucketValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("bucketname", func(fl validator.FieldLevel) bool {
			return bucketNameRe.MatchString(fl.Field().String())
		})
	})
	return validate
}

// BucketConfig describes a bucket
type BucketConfig struct {
	Name          string `validate:"required,max=100,bucketname" form:"name"`
	Password      string `validate:"max=256" form:"saslPassword"`
	RAMQuotaMB    int    `validate:"gte=100" form:"ramQuotaMB"`
	ReplicaNumber int    `validate:"gte=0,lte=3" form:"replicaNumber"`
	Type          string `validate:"omitempty,oneof=couchbase memcached" form:"bucketType"`
}

// Validate checks the configuration and fills in defaults
func (c *BucketConfig) Validate() error {
	if c.Type == "" {
		c.Type = BucketTypeCouchbase
	}
	if err := bucketValidator().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBucket, err)
	}
	return nil
}

// Bucket is a named store
type Bucket struct {
	cfg     BucketConfig
	store   store.IStore
	created time.Time
}

// Config returns the configuration the bucket was created with
func (b *Bucket) Config() BucketConfig { return b.cfg }

// Store returns the storage of the bucket
func (b *Bucket) Store() store.IStore { return b.store }

// Created returns the creation time of the bucket
func (b *Bucket) Created() time.Time { return b.created }

// Config configures a Cluster
type Config struct {
	// NodeName identifies the node in server scoped completions
	NodeName string
	// AdminUser and AdminPassword guard the management API
	AdminUser     string
	AdminPassword string
	// Version is reported by version requests, DefaultVersion if empty
	Version string
	// NewStore creates the storage of a new bucket (lstore if nil)
	NewStore func() store.IStore
}

// Cluster is the state of a single node cluster
type Cluster struct {
	cfg       Config
	uuid      string
	buckets   *xsync.MapOf[string, *Bucket]
	views     *xsync.MapOf[string, ViewFunc]
	verbosity atomic.Uint32
}

// New creates an empty cluster
func New(cfg Config) *Cluster {
	if cfg.NodeName == "" {
		cfg.NodeName = "127.0.0.1:11210"
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.AdminUser == "" {
		cfg.AdminUser = "Administrator"
	}
	if cfg.NewStore == nil {
		cfg.NewStore = func() store.IStore {
			return lstore.NewLocalStore(lstore.DefaultOptions())
		}
	}
	c := &Cluster{
		cfg:     cfg,
		uuid:    uuid.NewString(),
		buckets: xsync.NewMapOf[string, *Bucket](),
		views:   xsync.NewMapOf[string, ViewFunc](),
	}
	c.registerBuiltinViews()
	return c
}

// NodeName returns the name of this node
func (c *Cluster) NodeName() string { return c.cfg.NodeName }

// Version returns the version string of this node
func (c *Cluster) Version() string { return c.cfg.Version }

// UUID returns the random identity of this cluster
func (c *Cluster) UUID() string { return c.uuid }

// SetVerbosity sets the log verbosity of the node
func (c *Cluster) SetVerbosity(level uint8) {
	c.verbosity.Store(uint32(level))
	Logger.Infof("verbosity set to %d", level)
}

// Verbosity returns the current log verbosity
func (c *Cluster) Verbosity() uint8 { return uint8(c.verbosity.Load()) }

// --------------------------------------------------------------------------
// Buckets
// --------------------------------------------------------------------------

// CreateBucket validates cfg and creates a new, empty bucket
func (c *Cluster) CreateBucket(cfg BucketConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	b := &Bucket{cfg: cfg, store: c.cfg.NewStore(), created: time.Now()}
	if _, loaded := c.buckets.LoadOrStore(cfg.Name, b); loaded {
		return fmt.Errorf("%w: %s", ErrBucketExists, cfg.Name)
	}
	Logger.Infof("created bucket %q (type=%s, quota=%dMB)", cfg.Name, cfg.Type, cfg.RAMQuotaMB)
	return nil
}

// DeleteBucket removes a bucket and all its items
func (c *Cluster) DeleteBucket(name string) error {
	b, ok := c.buckets.LoadAndDelete(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchBucket, name)
	}
	_ = b.store.Flush()
	Logger.Infof("deleted bucket %q", name)
	return nil
}

// Bucket returns the bucket called name
func (c *Cluster) Bucket(name string) (*Bucket, bool) {
	return c.buckets.Load(name)
}

// Buckets returns all buckets sorted by name
func (c *Cluster) Buckets() []*Bucket {
	out := make([]*Bucket, 0, c.buckets.Size())
	c.buckets.Range(func(_ string, b *Bucket) bool {
		out = append(out, b)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].cfg.Name < out[j].cfg.Name })
	return out
}

// --------------------------------------------------------------------------
// Authentication
// --------------------------------------------------------------------------

// AuthenticateAdmin checks the administrator credentials
func (c *Cluster) AuthenticateAdmin(user, password string) bool {
	return user == c.cfg.AdminUser && password == c.cfg.AdminPassword
}

// Authenticate checks the credentials of a bucket connection. The user is
// either the bucket name with the bucket password or the administrator.
func (c *Cluster) Authenticate(bucket, user, password string) completion.Status {
	b, ok := c.Bucket(bucket)
	if !ok {
		return completion.StatusBucketEnoent
	}
	if c.AuthenticateAdmin(user, password) {
		return completion.StatusSuccess
	}
	if user != bucket || password != b.cfg.Password {
		return completion.StatusAuthError
	}
	return completion.StatusSuccess
}

// --------------------------------------------------------------------------
// Statistics
// --------------------------------------------------------------------------

// Stats returns a statistics group of a bucket. The default group ("")
// carries the store statistics, "settings" the bucket and node settings.
func (c *Cluster) Stats(bucket, group string) ([]store.Stat, completion.Status) {
	b, ok := c.Bucket(bucket)
	if !ok {
		return nil, completion.StatusBucketEnoent
	}

	var stats []store.Stat
	switch group {
	case "":
		stats = append(b.store.Stats(),
			store.Stat{Key: "version", Value: c.cfg.Version},
			store.Stat{Key: "verbosity", Value: strconv.Itoa(int(c.Verbosity()))},
		)
	case "settings":
		stats = []store.Stat{
			{Key: "bucket_name", Value: b.cfg.Name},
			{Key: "bucket_type", Value: b.cfg.Type},
			{Key: "ram_quota_mb", Value: strconv.Itoa(b.cfg.RAMQuotaMB)},
			{Key: "replica_number", Value: strconv.Itoa(b.cfg.ReplicaNumber)},
			{Key: "item_size_max", Value: strconv.Itoa(store.MaxValueSize)},
			{Key: "key_length_max", Value: strconv.Itoa(store.MaxKeyLength)},
			{Key: "node_name", Value: c.cfg.NodeName},
		}
	default:
		return nil, completion.StatusKeyEnoent
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Key < stats[j].Key })
	return stats, completion.StatusSuccess
}

// StatusOf maps a store error to the status reported in completions
func StatusOf(err error) completion.Status {
	switch store.CodeOf(err) {
	case store.RetCSuccess:
		return completion.StatusSuccess
	case store.RetCKeyNotFound:
		return completion.StatusKeyEnoent
	case store.RetCKeyExists:
		return completion.StatusKeyEexists
	case store.RetCNotStored:
		return completion.StatusNotStored
	case store.RetCLocked, store.RetCNotLocked:
		return completion.StatusEtmpfail
	case store.RetCDeltaBadval:
		return completion.StatusDeltaBadval
	case store.RetCTooBig:
		return completion.StatusE2Big
	case store.RetCInvalidArgument:
		return completion.StatusEinval
	case store.RetCUnsupportedOperation:
		return completion.StatusNotSupported
	default:
		return completion.StatusEinternal
	}
}
