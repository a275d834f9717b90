package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatrelay/internal/transport/udp"
)

// ingest reads datagrams and hands them to the dispatch loop in arrival order.
// Timeouts and transient read errors are retried; only a dead socket ends the
// loop, and that is an error unless ctx was cancelled first.
func (s *Server) ingest(ctx context.Context, out chan<- InboundMessage) error {
	buffer := make([]byte, s.bufferSize)

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, src, err := s.endpoint.Receive(buffer)
		if err != nil {
			switch {
			case errors.Is(err, udp.ErrTimeout):
				s.logger.Debug("udp_read_timeout")
				continue
			case errors.Is(err, udp.ErrIO):
				s.logger.Warn("udp_read_error", "error", err.Error())
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ingest loop: %w", err)
		}

		s.logger.Debug("message_received", "source", src.String(), "bytes", n)

		// the buffer is reused on the next read
		payload := make([]byte, n)
		copy(payload, buffer[:n])

		msg := InboundMessage{
			Payload:    payload,
			Source:     src,
			ReceivedAt: time.Now(),
		}

		select {
		case out <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}
