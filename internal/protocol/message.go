// Package protocol defines the messages exchanged with the session server and
// the opcodes written to the actuator controller.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Version is sent in HELLO on every connection.
const Version = "1.0.0"

type MessageType string

const (
	TypeHello          MessageType = "HELLO"
	TypePong           MessageType = "PONG"
	TypeCheckBottle    MessageType = "CHECK_BOTTLE"
	TypeSessionStarted MessageType = "SESSION_STARTED"
	TypeSessionEnd     MessageType = "SESSION_END"
	TypeBottleAccepted MessageType = "BOTTLE_ACCEPTED"

	TypeOK                MessageType = "OK"
	TypeError             MessageType = "ERROR"
	TypePing              MessageType = "PING"
	TypeStartSession      MessageType = "START_SESSION"
	TypeCancelSession     MessageType = "CANCEL_SESSION"
	TypeBottleCheckResult MessageType = "BOTTLE_CHECK_RESULT"
)

// Message is an outbound frame. Only the fields relevant to Type are set.
type Message struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	SKU       string      `json:"sku,omitempty"`
	Code      string      `json:"code,omitempty"`
	Material  string      `json:"material,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
}

// Hello is the first frame of every connection.
type Hello struct {
	Type        MessageType `json:"type"`
	FandomatID  int         `json:"fandomat_id"`
	DeviceToken string      `json:"device_token"`
	Version     string      `json:"version"`
}

// Inbound is any frame received from the server.
type Inbound struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Error     string      `json:"error,omitempty"`
	Exist     bool        `json:"exist,omitempty"`
	Bottle    *Bottle     `json:"bottle,omitempty"`
}

// Bottle.Material is nil when the server omitted the key.
type Bottle struct {
	Material *string `json:"material,omitempty"`
}

func NewHello(fandomatID int, token string) Hello {
	return Hello{Type: TypeHello, FandomatID: fandomatID, DeviceToken: token, Version: Version}
}

func Pong() Message {
	return Message{Type: TypePong}
}

func CheckBottle(sessionID, sku string) Message {
	return Message{Type: TypeCheckBottle, SessionID: sessionID, SKU: sku}
}

func SessionStarted(sessionID string) Message {
	return Message{Type: TypeSessionStarted, SessionID: sessionID}
}

func SessionEnd(sessionID string) Message {
	return Message{Type: TypeSessionEnd, SessionID: sessionID}
}

func BottleAccepted(sessionID, code, material string, at time.Time) Message {
	return Message{
		Type:      TypeBottleAccepted,
		SessionID: sessionID,
		Code:      code,
		Material:  material,
		Timestamp: FormatTimestamp(at),
	}
}

// DecodeInbound parses one frame. Frames without a type are rejected.
func DecodeInbound(raw []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return Inbound{}, fmt.Errorf("decode inbound: %w", err)
	}
	if strings.TrimSpace(string(in.Type)) == "" {
		return Inbound{}, fmt.Errorf("decode inbound: missing type")
	}
	return in, nil
}

// Material returns the reported bottle material. A result that omits the
// bottle or its material is treated as plastic; an empty value is kept and
// routes to reject.
func (in Inbound) Material() string {
	if in.Bottle == nil || in.Bottle.Material == nil {
		return "plastic"
	}
	return *in.Bottle.Material
}

const timestampLayout = "2006-01-02T15:04:05.000000Z"

// FormatTimestamp renders t as ISO-8601 UTC with a Z suffix.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// BottleCode formats the receipt identifier for an accepted bottle.
func BottleCode(fandomatID int, counter uint64) string {
	return fmt.Sprintf("BTL-%03d-%05d", fandomatID, counter)
}
