package relay

import (
	"fmt"
	"net/netip"
	"time"
	"unicode/utf8"

	"chatrelay/internal/transport/udp"
)

// InboundMessage is one datagram handed from the ingest loop to the dispatch loop
type InboundMessage struct {
	Payload    []byte
	Source     netip.AddrPort
	ReceivedAt time.Time
}

// Formatter renders the line broadcast for a message from source.
type Formatter func(source netip.AddrPort, text string) string

// FormatFrom renders "FROM: <addr> MESSAGE: <text>"
func FormatFrom(source netip.AddrPort, text string) string {
	return fmt.Sprintf("FROM: %s MESSAGE: %s", source, text)
}

// FormatCompact renders "<addr> : <text>"
func FormatCompact(source netip.AddrPort, text string) string {
	return fmt.Sprintf("%s : %s", source, text)
}

// ParseFormatter resolves a RELAY_ANNOTATION name
func ParseFormatter(name string) (Formatter, error) {
	switch name {
	case "", "from":
		return FormatFrom, nil
	case "compact":
		return FormatCompact, nil
	default:
		return nil, fmt.Errorf("unknown annotation format %q", name)
	}
}

// DecodePolicy decides what the dispatch loop does with a payload that is not UTF-8.
type DecodePolicy int

const (
	// DecodeSkip logs and drops the message.
	DecodeSkip DecodePolicy = iota
	// DecodeFatal stops the relay.
	DecodeFatal
)

func (p DecodePolicy) String() string {
	switch p {
	case DecodeSkip:
		return "skip"
	case DecodeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ParseDecodePolicy resolves a RELAY_DECODE_POLICY name
func ParseDecodePolicy(name string) (DecodePolicy, error) {
	switch name {
	case "", "skip":
		return DecodeSkip, nil
	case "fatal":
		return DecodeFatal, nil
	default:
		return DecodeSkip, fmt.Errorf("unknown decode policy %q", name)
	}
}

// Decode returns payload as text, or an error wrapping udp.ErrDecode.
func Decode(payload []byte) (string, error) {
	if !utf8.Valid(payload) {
		return "", fmt.Errorf("%w (%d bytes)", udp.ErrDecode, len(payload))
	}
	return string(payload), nil
}
