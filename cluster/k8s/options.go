package k8s

import (
	"log/slog"
	"time"
)

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithLeaseName sets the Lease object name used for leader election.
// Default: "stepflow-leader".
func WithLeaseName(name string) Option {
	return func(p *Provider) { p.leaseName = name }
}

// WithLabelSelector overrides the label selector used to discover server Pods.
// Default: "app.kubernetes.io/component=stepflow-server".
func WithLabelSelector(sel string) Option {
	return func(p *Provider) { p.labelSelector = sel }
}

// WithAnnotationPrefix sets the prefix for server-data annotations on Pods.
// Default: "stepflow.xraph.com/".
func WithAnnotationPrefix(prefix string) Option {
	return func(p *Provider) { p.annotationPrefix = prefix }
}

// WithClock overrides the time source used for heartbeats and lease expiry.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}
