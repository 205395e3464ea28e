// Package monitor renders the runtime status snapshot, either as a
// full-screen terminal dashboard or as plain text.
package monitor

import (
	"fmt"
	"strings"
	"time"

	"fandomat/internal/status"
)

const noStatus = "No status available. Is fandomat running? Expected " + status.FileName + " in the runtime directory."

// FormatSeconds renders an uptime as "1d 2h 3m 4s", dropping leading zero
// units above minutes.
func FormatSeconds(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	total := int64(sec)
	d := total / 86400
	h := (total % 86400) / 3600
	m := (total % 3600) / 60
	s := total % 60

	parts := make([]string, 0, 4)
	if d > 0 {
		parts = append(parts, fmt.Sprintf("%dd", d))
	}
	if d > 0 || h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", h))
	}
	parts = append(parts, fmt.Sprintf("%dm %ds", m, s))
	return strings.Join(parts, " ")
}

// Lines is the plain-text rendering of snap. A nil snap means no status file
// could be read.
func Lines(snap *status.Snapshot) []string {
	if snap == nil {
		return []string{noStatus}
	}
	sc, ar := snap.Devices.Scanner, snap.Devices.Arduino
	return []string{
		"YaxshiLink Fandomat - Monitor",
		"",
		fmt.Sprintf("OS: %s/%s %s | Host: %s", snap.OS.System, snap.OS.Arch, snap.OS.GoVersion, orDash(snap.OS.Hostname)),
		fmt.Sprintf("Uptime: %s | PID: %d | CWD: %s", FormatSeconds(snap.UptimeSeconds), snap.Process.PID, orDash(snap.Process.CWD)),
		"",
		fmt.Sprintf("Session: %s | ID: %s | Bottles: %d", sessionText(snap.Session.Active), deref(snap.Session.SessionID), snap.Session.BottleCounter),
		fmt.Sprintf("WebSocket: %s | URL: %s | Last: %s | Last msg: %s", linkText(snap.Websocket.Connected), orDash(snap.Websocket.URL), deref(snap.Websocket.LastEvent), lastMessage(snap)),
		fmt.Sprintf("Scanner: %s | Port: %s @ %d | Last: %s", linkText(sc.Connected), orDash(sc.Port), sc.Baud, deref(sc.LastLine)),
		fmt.Sprintf("Arduino: %s | Port: %s @ %d | Last: %s", linkText(ar.Connected), orDash(ar.Port), ar.Baud, deref(ar.LastLine)),
		fmt.Sprintf("Queues: outbox=%d  arduino_cmds=%d", snap.Queues.OutboxSize, snap.Queues.ArduinoCommandQueue),
	}
}

func lastMessage(snap *status.Snapshot) string {
	if snap.Websocket.LastServerMsgAt == nil {
		return "-"
	}
	at := time.Unix(0, int64(*snap.Websocket.LastServerMsgAt*float64(time.Second)))
	ago := time.Duration((snap.Time - *snap.Websocket.LastServerMsgAt) * float64(time.Second))
	if ago < 0 {
		ago = 0
	}
	return fmt.Sprintf("%s (%s ago)", at.Format("15:04:05"), ago.Truncate(time.Second))
}

func sessionText(active bool) string {
	if active {
		return "ACTIVE"
	}
	return "idle"
}

func linkText(connected bool) string {
	if connected {
		return "connected"
	}
	return "disconnected"
}

func deref(v *string) string {
	if v == nil {
		return "-"
	}
	return orDash(*v)
}

func orDash(v string) string {
	if strings.TrimSpace(v) == "" {
		return "-"
	}
	return v
}
