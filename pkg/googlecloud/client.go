package googlecloud

import (
	"context"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/locvowork/task_management_sample/internal/domain"
	"github.com/locvowork/task_management_sample/internal/logger"
	"github.com/locvowork/task_management_sample/pkg/docstore"
	"google.golang.org/api/option"
)

// DefaultPollInterval is how often live queries re-read Datastore to pick up writes made by
// other processes. Writes through this client are seen immediately.
const DefaultPollInterval = 2 * time.Second

// Client is a domain.Store on Google Cloud Datastore.
type Client struct {
	ds        *datastore.Client
	namespace string
	poll      time.Duration
	bus       *docstore.Bus
}

var _ domain.Store = (*Client)(nil)

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	namespace string
	poll      time.Duration
	client    []option.ClientOption
}

// WithNamespace keeps every entity in namespace.
func WithNamespace(ns string) Option {
	return func(o *clientOptions) { o.namespace = ns }
}

// WithPollInterval sets how often live queries re-read.
func WithPollInterval(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.poll = d
		}
	}
}

// WithClientOptions passes options to the underlying Datastore client, e.g.
// option.WithCredentialsFile.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(o *clientOptions) { o.client = append(o.client, opts...) }
}

// NewClient creates a new Google Cloud Datastore client.
// The official client detects DATASTORE_EMULATOR_HOST on its own.
func NewClient(ctx context.Context, projectID string, opts ...Option) (*Client, error) {
	o := clientOptions{poll: DefaultPollInterval}
	for _, opt := range opts {
		opt(&o)
	}
	if emulatorHost := os.Getenv("DATASTORE_EMULATOR_HOST"); emulatorHost != "" {
		logger.InfoLog(ctx, fmt.Sprintf("initializing datastore client against emulator at %s", emulatorHost))
	}

	ds, err := datastore.NewClient(ctx, projectID, o.client...)
	if err != nil {
		return nil, fmt.Errorf("failed to create datastore client: %w", err)
	}

	return &Client{ds: ds, namespace: o.namespace, poll: o.poll, bus: docstore.NewBus()}, nil
}

// Close closes the underlying datastore client.
func (c *Client) Close() error {
	return c.ds.Close()
}

func (c *Client) key(kind, name string) *datastore.Key {
	k := datastore.NameKey(kind, name, nil)
	k.Namespace = c.namespace
	return k
}

func (c *Client) query(kind string) *datastore.Query {
	return datastore.NewQuery(kind).Namespace(c.namespace)
}
