package vm

import (
	"io"
	"os"
)

// Default limits.
const (
	DefaultMaxFrames = 1024
	DefaultStackSize = 1 << 16
)

// Config holds VM settings. The zero value is not usable; start from
// DefaultConfig or pass options to New.
type Config struct {
	// Stdout receives the output of print.
	Stdout io.Writer
	// MaxFrames bounds the call depth; deeper calls fail with StackOverflow.
	MaxFrames int
	// StackSize bounds the operand stack.
	StackSize int
	// Strict panics on InternalConsistency errors instead of returning them.
	Strict bool
	// Trace logs every executed instruction at debug level.
	Trace bool
}

// DefaultConfig returns the settings used when no options are given.
func DefaultConfig() Config {
	return Config{
		Stdout:    os.Stdout,
		MaxFrames: DefaultMaxFrames,
		StackSize: DefaultStackSize,
	}
}

// Option adjusts a Config.
type Option func(*Config)

func WithStdout(w io.Writer) Option {
	return func(c *Config) { c.Stdout = w }
}

func WithMaxFrames(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxFrames = n
		}
	}
}

func WithStackSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.StackSize = n
		}
	}
}

func WithStrict(strict bool) Option {
	return func(c *Config) { c.Strict = strict }
}

func WithTrace(trace bool) Option {
	return func(c *Config) { c.Trace = trace }
}
