package callback

import "time"

// Option defines a common functional options type
type Option func(interface{})

// listenerOptions is the set of available options for NewListener
type listenerOptions struct {
	withTimeout      time.Duration
	withPollInterval time.Duration
	withSuccessFn    SuccessResponseFunc
	withErrorFn      ErrorResponseFunc
}

// listenerDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func listenerDefaults() listenerOptions {
	return listenerOptions{
		withTimeout:      DefaultTimeout,
		withPollInterval: DefaultPollInterval,
		withSuccessFn:    DefaultSuccessResponse,
		withErrorFn:      DefaultErrorResponse,
	}
}

// getListenerOpts gets the listener defaults and applies the opt overrides
// passed in
func getListenerOpts(opt ...Option) listenerOptions {
	opts := listenerDefaults()
	for _, o := range opt {
		o(&opts)
	}
	return opts
}

// WithTimeout provides an optional timeout for the listener, overriding
// DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*listenerOptions); ok {
			o.withTimeout = d
		}
	}
}

// WithPollInterval provides an optional poll interval for the listener,
// overriding DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*listenerOptions); ok {
			o.withPollInterval = d
		}
	}
}

// WithSuccessResponseFunc provides an optional response body func for
// successful callbacks.
func WithSuccessResponseFunc(fn SuccessResponseFunc) Option {
	return func(o interface{}) {
		if o, ok := o.(*listenerOptions); ok && fn != nil {
			o.withSuccessFn = fn
		}
	}
}

// WithErrorResponseFunc provides an optional response body func for failed
// callbacks.
func WithErrorResponseFunc(fn ErrorResponseFunc) Option {
	return func(o interface{}) {
		if o, ok := o.(*listenerOptions); ok && fn != nil {
			o.withErrorFn = fn
		}
	}
}
