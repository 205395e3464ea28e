package status

// Snapshot is the document written to status.json for external monitors.
// Times are Unix seconds.
type Snapshot struct {
	Time          float64 `json:"time"`
	UptimeSeconds float64 `json:"uptime_seconds"`

	OS        OSInfo            `json:"os"`
	Process   ProcessInfo       `json:"process"`
	Session   SessionSnapshot   `json:"session"`
	Devices   DevicesSnapshot   `json:"devices"`
	Websocket WebsocketSnapshot `json:"websocket"`
	Queues    QueuesSnapshot    `json:"queues"`
	UpdatedAt string            `json:"updated_at,omitempty"`
}

type OSInfo struct {
	System    string `json:"system"`
	Arch      string `json:"arch"`
	Hostname  string `json:"hostname,omitempty"`
	GoVersion string `json:"go"`
}

type ProcessInfo struct {
	PID int    `json:"pid"`
	CWD string `json:"cwd,omitempty"`
}

type SessionSnapshot struct {
	Active        bool    `json:"active"`
	SessionID     *string `json:"session_id"`
	BottleCounter uint64  `json:"bottle_counter"`
}

type DevicesSnapshot struct {
	Scanner DeviceSnapshot `json:"scanner"`
	Arduino DeviceSnapshot `json:"arduino"`
}

type DeviceSnapshot struct {
	Connected bool    `json:"connected"`
	LastLine  *string `json:"last_line"`
	Port      string  `json:"port,omitempty"`
	Baud      int     `json:"baud,omitempty"`
}

type WebsocketSnapshot struct {
	Connected       bool     `json:"connected"`
	URL             string   `json:"url,omitempty"`
	LastEvent       *string  `json:"last_event"`
	LastServerMsgAt *float64 `json:"last_server_msg_at"`
}

type QueuesSnapshot struct {
	OutboxSize          int `json:"outbox_size"`
	ArduinoCommandQueue int `json:"arduino_cmd_queue_size"`
}
