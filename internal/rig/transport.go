package rig

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lumenrig/lumenrig/internal/device"
	"github.com/lumenrig/lumenrig/internal/errs"
)

// Transport is the out-of-scope collaborator contract Rig drives every
// tick: a named backend that turns the current device population into
// wire output. Concrete fixture libraries and wire encoders are not
// specified further; this package carries two reference
// implementations exercised by the tick loop and show-document
// round-trip.
type Transport interface {
	Init() error
	Update(devices []*device.Device) error
	Close() error
	json.Marshaler
}

// TransportKind discriminates the transport-node `type` field.
type TransportKind string

const (
	KindSACN TransportKind = "sacn"
	KindLog  TransportKind = "log"
)

// DecodeTransport parses a patches-map transport-node into its concrete
// Transport, dispatching on the `type` discriminator.
func DecodeTransport(data []byte, log *logrus.Entry) (Transport, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("rig: decode transport discriminator: %w", err)
	}

	switch TransportKind(probe.Type) {
	case KindSACN:
		t := &SACNTransport{}
		if err := json.Unmarshal(data, t); err != nil {
			return nil, err
		}
		t.log = log
		return t, nil
	case KindLog:
		t := &LogTransport{}
		if err := json.Unmarshal(data, t); err != nil {
			return nil, err
		}
		t.log = log
		return t, nil
	default:
		return nil, fmt.Errorf("%w: transport type %q", errs.ErrValidation, probe.Type)
	}
}

// SACNTransport is a simulated sACN/Art-Net DMX transport: each tick it
// packs every device's "intensity" scalar into a 512-byte universe frame
// keyed by channel and writes it as a single UDP datagram. It is a
// stand-in for a real wire encoder.
type SACNTransport struct {
	Target    string `json:"target"`
	SessionID string `json:"sessionID"`

	conn *net.UDPConn
	log  *logrus.Entry
}

// NewSACNTransport constructs a SACNTransport targeting addr (host:port).
func NewSACNTransport(addr string, log *logrus.Entry) *SACNTransport {
	return &SACNTransport{Target: addr, SessionID: uuid.NewString(), log: log}
}

func (s *SACNTransport) Init() error {
	addr, err := net.ResolveUDPAddr("udp", s.Target)
	if err != nil {
		return fmt.Errorf("sacn transport: resolve %s: %w", s.Target, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return fmt.Errorf("sacn transport: dial %s: %w", s.Target, err)
	}
	s.conn = conn
	return nil
}

// Update packs devices into a 512-byte DMX universe frame indexed by
// channel-1 and writes it as one non-blocking-by-contract UDP datagram.
func (s *SACNTransport) Update(devices []*device.Device) error {
	if s.conn == nil {
		return nil
	}
	var frame [512]byte
	for _, d := range devices {
		ch := d.Channel()
		if ch == 0 || ch > 512 {
			continue
		}
		v, ok := d.Param("intensity")
		if !ok {
			continue
		}
		pct, ok := asPercent(v)
		if !ok {
			continue
		}
		frame[ch-1] = byte(clamp255(pct * 255))
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(50 * time.Millisecond))
	_, err := s.conn.Write(frame[:])
	return err
}

func (s *SACNTransport) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

type sacnNode struct {
	Type      string `json:"type"`
	Target    string `json:"target"`
	SessionID string `json:"sessionID"`
}

func (s *SACNTransport) MarshalJSON() ([]byte, error) {
	return json.Marshal(sacnNode{Type: string(KindSACN), Target: s.Target, SessionID: s.SessionID})
}

func (s *SACNTransport) UnmarshalJSON(data []byte) error {
	var n sacnNode
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	s.Target = n.Target
	if n.SessionID == "" {
		n.SessionID = uuid.NewString()
	}
	s.SessionID = n.SessionID
	return nil
}

// LogTransport writes a structured debug line per tick instead of wire
// output — used in development and tests where no DMX sink exists.
type LogTransport struct {
	SessionID string `json:"sessionID"`
	log       *logrus.Entry
}

// NewLogTransport constructs a LogTransport.
func NewLogTransport(log *logrus.Entry) *LogTransport {
	return &LogTransport{SessionID: uuid.NewString(), log: log}
}

func (l *LogTransport) Init() error { return nil }

func (l *LogTransport) Update(devices []*device.Device) error {
	if l.log != nil {
		l.log.WithField("device_count", len(devices)).Debug("log transport tick")
	}
	return nil
}

func (l *LogTransport) Close() error { return nil }

type logNode struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionID"`
}

func (l *LogTransport) MarshalJSON() ([]byte, error) {
	return json.Marshal(logNode{Type: string(KindLog), SessionID: l.SessionID})
}

func (l *LogTransport) UnmarshalJSON(data []byte) error {
	var n logNode
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if n.SessionID == "" {
		n.SessionID = uuid.NewString()
	}
	l.SessionID = n.SessionID
	return nil
}

func clamp255(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
