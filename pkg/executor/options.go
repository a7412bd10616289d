package executor

import (
	"time"
)

const (
	// MaxRetries bounds the retries of a transient transport failure: a
	// remote command is spawned at most MaxRetries+1 times.
	MaxRetries        = 10
	DefaultRetryDelay = 500 * time.Millisecond
	DefaultShell      = "bash"
)

type options struct {
	spawner     Spawner
	shell       string
	timeout     time.Duration
	stdin       string
	installRoot string
	classifier  *Classifier
	retryDelay  time.Duration
	breakers    *Breakers
}

type Option func(*options)

func defaultOptions() options {
	return options{
		spawner:    NewDefaultSpawner(),
		shell:      DefaultShell,
		classifier: DefaultClassifier(),
		retryDelay: DefaultRetryDelay,
	}
}

func newOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithSpawner sets a custom process spawner.
func WithSpawner(s Spawner) Option {
	return func(o *options) { o.spawner = s }
}

// WithShell sets the shell the rendered string is passed to with -c.
func WithShell(shell string) Option {
	return func(o *options) { o.shell = shell }
}

// WithTimeout bounds every single spawn. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithStdin feeds payload to every spawned process.
func WithStdin(payload string) Option {
	return func(o *options) { o.stdin = payload }
}

// WithInstallRoot overrides the process-wide install root. Empty keeps the default.
func WithInstallRoot(path string) Option {
	return func(o *options) { o.installRoot = path }
}

// WithTransient adds predicates to the transient classifier.
func WithTransient(preds ...TransientPredicate) Option {
	return func(o *options) { o.classifier = o.classifier.With(preds...) }
}

// WithClassifier replaces the transient classifier.
func WithClassifier(c *Classifier) Option {
	return func(o *options) { o.classifier = c }
}

// WithRetryDelay sets the pause between transient retries.
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) { o.retryDelay = d }
}

// WithBreakers guards remote executions with per-host circuit breakers.
func WithBreakers(b *Breakers) Option {
	return func(o *options) { o.breakers = b }
}
