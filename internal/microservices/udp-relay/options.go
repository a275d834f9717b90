package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chatrelay/internal/config"
)

const maxDatagramSize = 65507

// Option configures a Server before its socket is bound.
type Option func(s *Server) error

// WithQueueSize sets the capacity of the ingest -> dispatch handoff channel.
// A full channel blocks ingestion until dispatch catches up.
func WithQueueSize(n int) Option {
	return func(s *Server) error {
		if n < 1 {
			return fmt.Errorf("relay.WithQueueSize: invalid size (%d)", n)
		}
		s.queueSize = n
		return nil
	}
}

// WithBufferSize sets the receive buffer; longer datagrams are truncated.
func WithBufferSize(n int) Option {
	return func(s *Server) error {
		if n < 1 || n > maxDatagramSize {
			return fmt.Errorf("relay.WithBufferSize: invalid size (%d)", n)
		}
		s.bufferSize = n
		return nil
	}
}

// WithReadTimeout overrides how long one receive blocks before the ingest loop retries.
func WithReadTimeout(timeout time.Duration) Option {
	return func(s *Server) error {
		if timeout <= 0 {
			return fmt.Errorf("relay.WithReadTimeout: invalid timeout (%v)", timeout)
		}
		s.readTimeout = timeout
		return nil
	}
}

// WithFormatter sets how relayed lines are annotated.
func WithFormatter(f Formatter) Option {
	return func(s *Server) error {
		if f == nil {
			return errors.New("relay.WithFormatter: nil formatter")
		}
		s.format = f
		return nil
	}
}

// WithDecodePolicy sets the handling of payloads that are not UTF-8.
func WithDecodePolicy(p DecodePolicy) Option {
	return func(s *Server) error {
		if p != DecodeSkip && p != DecodeFatal {
			return fmt.Errorf("relay.WithDecodePolicy: invalid policy (%d)", p)
		}
		s.decodePolicy = p
		return nil
	}
}

// WithPeerRateLimit throttles each peer to perSecond messages with the given burst.
// Zero disables throttling.
func WithPeerRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) error {
		if perSecond < 0 {
			return fmt.Errorf("relay.WithPeerRateLimit: invalid rate (%v)", perSecond)
		}
		if perSecond > 0 && burst < 1 {
			return fmt.Errorf("relay.WithPeerRateLimit: invalid burst (%d)", burst)
		}
		s.peerRate = perSecond
		s.peerBurst = burst
		return nil
	}
}

// WithLogger replaces slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger == nil {
			return errors.New("relay.WithLogger: nil logger")
		}
		s.logger = logger
		return nil
	}
}

// ConfigOptions translates the relay section of cfg into options.
func ConfigOptions(cfg *config.Config) ([]Option, error) {
	format, err := ParseFormatter(cfg.AnnotationFormat)
	if err != nil {
		return nil, err
	}
	policy, err := ParseDecodePolicy(cfg.DecodePolicy)
	if err != nil {
		return nil, err
	}

	return []Option{
		WithQueueSize(cfg.QueueSize),
		WithBufferSize(cfg.BufferSize),
		WithReadTimeout(cfg.ReadTimeout),
		WithFormatter(format),
		WithDecodePolicy(policy),
		WithPeerRateLimit(cfg.PeerRate, cfg.PeerBurst),
	}, nil
}
