package multipart

import "go.uber.org/zap"

type options struct {
	log       *zap.Logger
	overwrite bool
}

// Option configures a Writer or Reader.
type Option func(*options)

func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithOverwrite lets a Writer remove part files left in the destination by an
// earlier run instead of failing with a conflict.
func WithOverwrite(overwrite bool) Option {
	return func(o *options) {
		o.overwrite = overwrite
	}
}

func applyOptions(opts []Option) options {
	o := options{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
