package compose

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Options configures the composers in this package.
type Options struct {
	ContentType string
	Logger      logrus.FieldLogger
}

// Option is a functional option for configuring composers.
type Option func(*Options)

// WithContentType sets the content type of the composed object.
func WithContentType(contentType string) Option {
	return func(o *Options) {
		o.ContentType = contentType
	}
}

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *Options) {
		o.Logger = log
	}
}

func applyOptions(options []Option) Options {
	var opts Options
	for _, opt := range options {
		opt(&opts)
	}
	if opts.Logger == nil {
		log := logrus.New()
		log.SetOutput(io.Discard)
		opts.Logger = log
	}
	return opts
}
