package kyusub

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Client dials connections for a configured provider.
type Client struct {
	config  *Config
	factory ProviderFactory
	logger  *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the logger handed to every connection.
func WithClientLogger(log *zap.Logger) ClientOption {
	return func(c *Client) {
		if log != nil {
			c.logger = log
		}
	}
}

// registry holds registered provider factories.
var (
	registryMu sync.RWMutex
	registry   = make(map[Provider]ProviderFactory)
)

// RegisterProvider registers a provider factory for the given provider name.
// This is typically called by provider packages in their init() functions.
func RegisterProvider(name Provider, factory ProviderFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// getFactory returns the factory for the given provider.
func getFactory(provider Provider) (ProviderFactory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	factory, ok := registry[provider]
	if !ok {
		return nil, ErrUnsupportedProvider
	}
	return factory, nil
}

// NewClient creates a new client with the given configuration.
func NewClient(cfg *Config, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	factory, err := getFactory(cfg.Provider)
	if err != nil {
		return nil, err
	}

	c := &Client{
		config:  cfg,
		factory: factory,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewClientFromEnv creates a new client using environment variables.
func NewClientFromEnv(opts ...ClientOption) (*Client, error) {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return NewClient(cfg, opts...)
}

// Connect establishes the network link. The returned connection is in
// StateCreated: nothing is delivered until Start is called.
func (c *Client) Connect(ctx context.Context) (*Connection, error) {
	log := c.logger.With(zap.String("provider", string(c.config.Provider)))

	transport, err := c.factory.Dial(ctx, c.config)
	if err != nil {
		log.Error("connect failed", zap.Error(err))
		return nil, err
	}

	log.Info("connected")
	return newConnection(transport, log), nil
}

// Config returns a copy of the client's configuration.
func (c *Client) Config() Config {
	return *c.config
}
