package relay

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"golang.org/x/time/rate"
)

// dispatch owns the peer registry. It drains the ingest channel in order and
// answers admin requests between messages.
func (s *Server) dispatch(ctx context.Context, in <-chan InboundMessage) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case msg := <-in:
			if err := s.handleInbound(msg); err != nil {
				return err
			}

		case req := <-s.peersReq:
			req.reply <- s.registry.Snapshot()

		case req := <-s.announceReq:
			line := s.format(s.Addr(), req.text)
			req.reply <- s.fanOut(line)
			s.logger.Info("relay_announcement_sent",
				"peers", s.registry.Len(),
				"bytes", len(req.text),
			)
		}
	}
}

// handleInbound registers the sender and rebroadcasts its message. A returned
// error stops the relay.
func (s *Server) handleInbound(msg InboundMessage) error {
	s.counters.received.Add(1)

	text, err := Decode(msg.Payload)
	if err != nil {
		s.counters.decodeFailures.Add(1)
		if s.decodePolicy == DecodeFatal {
			return fmt.Errorf("dispatch loop: message from %s: %w", msg.Source, err)
		}
		s.logger.Warn("message_decode_failed",
			"source", msg.Source.String(),
			"error", err.Error(),
		)
		return nil
	}

	if s.registry.Add(msg.Source) {
		s.counters.peers.Store(int64(s.registry.Len()))
		s.logger.Info("peer_connected",
			"peer", msg.Source.String(),
			"total_peers", s.registry.Len(),
		)
	}

	if !s.allow(msg.Source) {
		s.counters.throttled.Add(1)
		s.logger.Warn("peer_throttled", "peer", msg.Source.String())
		return nil
	}

	delivered := s.fanOut(s.format(msg.Source, text))
	s.logger.Debug("message_relayed",
		"source", msg.Source.String(),
		"delivered", delivered,
		"latency", time.Since(msg.ReceivedAt).String(),
	)
	return nil
}

// allow applies the per-peer rate limit, if one is configured.
func (s *Server) allow(peer netip.AddrPort) bool {
	if s.peerRate <= 0 {
		return true
	}
	limiter, ok := s.limiters[peer]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(s.peerRate), s.peerBurst)
		s.limiters[peer] = limiter
	}
	return limiter.Allow()
}

// fanOut sends line to every registered peer in registration order. A failed
// send is logged and does not stop delivery to the remaining peers.
func (s *Server) fanOut(line string) int {
	payload := []byte(line)
	delivered := 0

	_ = s.registry.ForEach(func(peer netip.AddrPort) error {
		if err := s.endpoint.SendTo(payload, peer); err != nil {
			s.counters.sendFailures.Add(1)
			s.logger.Warn("broadcast_send_failed",
				"peer", peer.String(),
				"error", err.Error(),
			)
			return err
		}
		s.counters.relayed.Add(1)
		delivered++
		return nil
	})

	return delivered
}
