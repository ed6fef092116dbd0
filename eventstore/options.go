package eventstore

import (
	"errors"
	"time"

	"github.com/GabrielCarpr/eventcore/metrics"
	"github.com/GabrielCarpr/eventcore/normalize"
	"github.com/GabrielCarpr/eventcore/registry"
	"github.com/GabrielCarpr/eventcore/upcast"
)

// Option configures a Store.
type Option func(*Store) error

func WithRegistry(r *registry.Registry) Option {
	return func(s *Store) error {
		if r == nil {
			return errors.New("eventcore.eventstore: nil registry")
		}
		s.registry = r
		return nil
	}
}

func WithUpcasters(chain *upcast.Chain) Option {
	return func(s *Store) error {
		s.chain = chain
		return nil
	}
}

func WithCodec(c normalize.Codec) Option {
	return func(s *Store) error {
		if c == nil {
			return errors.New("eventcore.eventstore: nil codec")
		}
		s.codec = c
		return nil
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) error {
		s.metrics = m
		return nil
	}
}

// WithNotifier is told about every committed append.
func WithNotifier(n Notifier) Option {
	return func(s *Store) error {
		s.notifier = n
		return nil
	}
}

// WithOrigin sets the version of the first event of every stream.
func WithOrigin(origin int64) Option {
	return func(s *Store) error {
		if origin < 0 {
			return errors.New("eventcore.eventstore: origin must not be negative")
		}
		s.origin = origin
		return nil
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) error {
		s.now = now
		return nil
	}
}
