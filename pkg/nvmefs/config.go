package nvmefs

import (
	"github.com/sirupsen/logrus"

	"nvmefs/internal/device"
)

// Config is the facade's external configuration surface: device path,
// placement-handle budget, and per-region size caps. Loading it from a
// flag set, file, or secret store is the caller's concern, not this
// package's.
type Config struct {
	DevicePath       string
	PlacementHandles uint64
	MaxTempSize      uint64
	MaxWALSize       uint64
}

// Option customizes an FS beyond what Config exposes, following the
// teacher's OptionFunc pattern.
type Option interface {
	apply(*FS)
}

// OptionFunc adapts a plain function to Option.
type OptionFunc func(*FS)

func (f OptionFunc) apply(fs *FS) {
	f(fs)
}

// WithDevice swaps in a pre-constructed device.Adapter instead of
// probing and opening Config.DevicePath. Used by tests to attach an
// in-memory device.Adapter.
func WithDevice(dev device.Adapter) Option {
	return OptionFunc(func(fs *FS) {
		fs.dev = dev
	})
}

// WithLogger overrides the default logrus logger.
func WithLogger(logger *logrus.Entry) Option {
	return OptionFunc(func(fs *FS) {
		fs.log = logger
	})
}
