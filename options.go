package gocast

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/relaycast/gocast/controller/media"
	"github.com/relaycast/gocast/discovery"
)

// Option configures a Device at construction time.
type Option func(*deviceConfig)

type deviceConfig struct {
	logger          zerolog.Logger
	sourceID        string
	retryWait       time.Duration
	tries           int
	registry        *discovery.Registry
	mediaAppID      string
	cecBypassNames  []string
}

func defaultConfig() deviceConfig {
	return deviceConfig{
		logger:     zerolog.Nop(),
		mediaAppID: media.DefaultMediaReceiverAppID,
	}
}

// WithLogger attaches a logger to the device and every component it owns
// (engine, discovery registry lookups); the zero value discards output.
func WithLogger(l zerolog.Logger) Option {
	return func(c *deviceConfig) { c.logger = l }
}

// WithSourceID overrides the default "sender-0" source id used on every
// outbound frame.
func WithSourceID(id string) Option {
	return func(c *deviceConfig) { c.sourceID = id }
}

// WithRetryWait overrides the initial per-service reconnect backoff.
func WithRetryWait(d time.Duration) Option {
	return func(c *deviceConfig) { c.retryWait = d }
}

// WithTries bounds the number of connect passes before giving up; 0 (the
// default) retries forever.
func WithTries(n int) Option {
	return func(c *deviceConfig) { c.tries = n }
}

// WithRegistry lets the device re-resolve its CastInfo's mDNS service at
// connect/reconnect time instead of only using the address last seen.
func WithRegistry(r *discovery.Registry) Option {
	return func(c *deviceConfig) { c.registry = r }
}

// WithMediaReceiverAppID overrides the default media receiver app id
// (CC1AD845) the media controller auto-launches, for custom CAF receivers.
func WithMediaReceiverAppID(appID string) Option {
	return func(c *deviceConfig) { c.mediaAppID = appID }
}

// WithCECBypass lists receiver friendly names for which the is_idle CEC
// signal is ignored — some receivers report spurious "external input"
// states that would otherwise make IsIdle() misreport a playing device.
func WithCECBypass(friendlyNames ...string) Option {
	return func(c *deviceConfig) { c.cecBypassNames = append(c.cecBypassNames, friendlyNames...) }
}
