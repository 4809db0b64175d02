package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Engine.IO v4 packet types, sent as the first byte of each websocket frame.
const (
	engineOpen    = '0'
	engineClose   = '1'
	enginePing    = '2'
	enginePong    = '3'
	engineMessage = '4'
	engineUpgrade = '5'
	engineNoop    = '6'
)

// Socket.IO v5 packet types, carried inside Engine.IO message packets.
const (
	socketConnect      = 0
	socketDisconnect   = 1
	socketEvent        = 2
	socketAck          = 3
	socketConnectError = 4
	socketBinaryEvent  = 5
	socketBinaryAck    = 6
)

var errMalformedPacket = errors.New("malformed socket.io packet")

// handshake is the payload of the Engine.IO open packet.
type handshake struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
}

// readTimeout is how long the peer may stay silent before the session is
// considered dead: one ping interval plus the ping timeout.
func (h handshake) readTimeout() time.Duration {
	d := time.Duration(h.PingInterval+h.PingTimeout) * time.Millisecond
	if d <= 0 {
		return defaultReadTimeout
	}
	return d
}

// socketPacket is a decoded Socket.IO packet. AckID is -1 when absent.
type socketPacket struct {
	Type      int
	Namespace string
	AckID     int
	Data      json.RawMessage
}

// decodeSocketPacket parses the Socket.IO encoding:
// <type>[<attachments>-][<namespace>,][<ack id>][<json>]
func decodeSocketPacket(s string) (socketPacket, error) {
	p := socketPacket{Namespace: "/", AckID: -1}
	if s == "" || s[0] < '0' || s[0] > '6' {
		return p, errMalformedPacket
	}
	p.Type = int(s[0] - '0')
	rest := s[1:]

	if p.Type == socketBinaryEvent || p.Type == socketBinaryAck {
		dash := strings.IndexByte(rest, '-')
		if dash < 0 {
			return p, errMalformedPacket
		}
		rest = rest[dash+1:]
	}

	if strings.HasPrefix(rest, "/") {
		comma := strings.IndexByte(rest, ',')
		if comma < 0 {
			p.Namespace = rest
			return p, nil
		}
		p.Namespace = rest[:comma]
		rest = rest[comma+1:]
	}

	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	if digits > 0 {
		id, err := strconv.Atoi(rest[:digits])
		if err != nil {
			return p, errMalformedPacket
		}
		p.AckID = id
		rest = rest[digits:]
	}

	if rest != "" {
		if !json.Valid([]byte(rest)) {
			return p, errMalformedPacket
		}
		p.Data = json.RawMessage(rest)
	}
	return p, nil
}

// eventArgs splits an event packet payload into its name and arguments.
func eventArgs(data json.RawMessage) (string, []json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil || len(parts) == 0 {
		return "", nil, errMalformedPacket
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return "", nil, errMalformedPacket
	}
	return name, parts[1:], nil
}

// encodeEvent builds the Engine.IO message frame emitting event on the
// default namespace.
func encodeEvent(event string, args ...any) (string, error) {
	payload := make([]any, 0, len(args)+1)
	payload = append(payload, event)
	payload = append(payload, args...)
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", event, err)
	}
	return string(engineMessage) + strconv.Itoa(socketEvent) + string(raw), nil
}

// connectFrame asks the server to join the default namespace.
func connectFrame() string {
	return string(engineMessage) + strconv.Itoa(socketConnect)
}

// socketURL turns a site address such as https://skinport.com into the
// Engine.IO websocket endpoint. An explicit path other than "/" is kept.
func socketURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse feed url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("feed url %q: unsupported scheme %q", base, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("feed url %q: missing host", base)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/socket.io/"
	}
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
