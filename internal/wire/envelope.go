// Package wire defines the relay → browser WebSocket contract: the
// envelope and every payload type it can carry. Field names and
// semantics here are bit-exact with the external schema document; they
// must not drift independently of it.
package wire

// MessageType identifies the payload carried by an Envelope.
type MessageType string

const (
	TypePositionUpdate       MessageType = "position_update"
	TypeGateMetrics          MessageType = "gate_metrics"
	TypeStartLineDefinition  MessageType = "start_line_definition"
	TypeDeviceHealth         MessageType = "device_health"
	TypeEvent                MessageType = "event"
	TypeHeartbeat            MessageType = "heartbeat"
)

// SchemaVersion is stamped on every outbound envelope.
const SchemaVersion = "1.0"

// Status is the coaching status classification enum.
type Status string

const (
	StatusSafe        Status = "SAFE"
	StatusApproaching Status = "APPROACHING"
	StatusRisk        Status = "RISK"
	StatusCrossed     Status = "CROSSED"
	StatusOCS         Status = "OCS"
	StatusStale       Status = "STALE"
)

// Latched reports whether a status is fully terminal: no further
// transition, including escalation, is possible. CROSSED is not
// terminal by this definition since it can still escalate to OCS.
func (s Status) Latched() bool {
	return s == StatusOCS
}

// CrossingEvent mirrors the upstream crossing-detection enum.
type CrossingEvent string

const (
	NoCrossing    CrossingEvent = "NO_CROSSING"
	CrossingLeft  CrossingEvent = "CROSSING_LEFT"
	CrossingRight CrossingEvent = "CROSSING_RIGHT"
)

// EventKind enumerates the discrete event payload kinds.
type EventKind string

const (
	EventCrossing      EventKind = "CROSSING"
	EventOCS           EventKind = "OCS"
	EventRiskAlert     EventKind = "RISK_ALERT"
	EventStartSignal   EventKind = "START_SIGNAL"
	EventDeviceOffline EventKind = "DEVICE_OFFLINE"
	EventDeviceOnline  EventKind = "DEVICE_ONLINE"
	EventSystemError   EventKind = "SYSTEM_ERROR"
)

// DeviceType categorizes a tracked device for device_health payloads.
type DeviceType string

const (
	DeviceAnchor  DeviceType = "ANCHOR"
	DeviceTag     DeviceType = "TAG"
	DeviceGateway DeviceType = "GATEWAY"
)

// GateQuality is the start-line geometry quality assessment.
type GateQuality string

const (
	QualityGood     GateQuality = "GOOD"
	QualityDegraded GateQuality = "DEGRADED"
	QualityUnknown  GateQuality = "UNKNOWN"
)

// Envelope is the outer object stamped onto every outbound message.
// seq is monotonic per relay process lifetime, starting at 1; ts_ms is
// relay wall clock in Unix epoch milliseconds.
type Envelope struct {
	Type          MessageType `json:"type"`
	SchemaVersion string      `json:"schema_version"`
	Seq           uint64      `json:"seq"`
	TsMs          int64       `json:"ts_ms"`
	SessionID     *string     `json:"session_id"`
	Payload       any         `json:"payload"`
}

// PositionEntry is a single athlete position within a position_update batch.
type PositionEntry struct {
	AthleteID  string   `json:"athlete_id"`
	DeviceID   int      `json:"device_id"`
	Name       string   `json:"name"`
	Team       string   `json:"team"`
	Lat        float64  `json:"lat"`
	Lon        float64  `json:"lon"`
	AltM       float64  `json:"alt_m"`
	SogKn      *float64 `json:"sog_kn"`
	CogDeg     *float64 `json:"cog_deg"`
	SourceMask int      `json:"source_mask"`
	DeviceTsMs int64    `json:"device_ts_ms"`
	DataAgeMs  int64    `json:"data_age_ms"`
}

// PositionUpdatePayload is the payload for position_update messages.
type PositionUpdatePayload struct {
	Positions []PositionEntry `json:"positions"`
}

// GateMetricEntry is a single athlete's gate metrics.
type GateMetricEntry struct {
	AthleteID          string        `json:"athlete_id"`
	DeviceID           int           `json:"device_id"`
	Name               string        `json:"name"`
	DistToLineM        float64       `json:"dist_to_line_m"`
	SAlong             float64       `json:"s_along"`
	EtaToLineS         *float64      `json:"eta_to_line_s"`
	SpeedToLineMps     float64       `json:"speed_to_line_mps"`
	GateLengthM        float64       `json:"gate_length_m"`
	Status             Status        `json:"status"`
	CrossingEvent      CrossingEvent `json:"crossing_event"`
	CrossingConfidence float64       `json:"crossing_confidence"`
	PositionQuality    float64       `json:"position_quality"`
}

// GateAlert is a crossing alert carried alongside a gate_metrics batch.
type GateAlert struct {
	AthleteID    string        `json:"athlete_id"`
	Name         string        `json:"name"`
	Event        CrossingEvent `json:"event"`
	CrossingTsMs int64         `json:"crossing_ts_ms"`
	Confidence   float64       `json:"confidence"`
}

// GateMetricsPayload is the payload for gate_metrics messages.
type GateMetricsPayload struct {
	Metrics []GateMetricEntry `json:"metrics"`
	Alerts  []GateAlert       `json:"alerts"`
}

// AnchorPoint is an endpoint of the start line.
type AnchorPoint struct {
	DeviceID int     `json:"device_id"`
	AnchorID string  `json:"anchor_id"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
}

// StartLineDefinitionPayload is the payload for start_line_definition messages.
type StartLineDefinitionPayload struct {
	AnchorLeft  AnchorPoint `json:"anchor_left"`
	AnchorRight AnchorPoint `json:"anchor_right"`
	GateLengthM float64     `json:"gate_length_m"`
	Quality     GateQuality `json:"quality"`
}

// DeviceHealthPayload is the payload for device_health messages.
type DeviceHealthPayload struct {
	DeviceID         string     `json:"device_id"`
	DeviceType       DeviceType `json:"device_type"`
	Online           bool       `json:"online"`
	LastSeenMs       int64      `json:"last_seen_ms"`
	BatteryPct       *float64   `json:"battery_pct"`
	PacketLossPct    *float64   `json:"packet_loss_pct"`
	RssiDbm          *float64   `json:"rssi_dbm"`
	TimeSyncOffsetMs *float64   `json:"time_sync_offset_ms"`
}

// EventPayload is the payload for event messages.
type EventPayload struct {
	EventKind EventKind      `json:"event_kind"`
	AthleteID string         `json:"athlete_id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// HeartbeatPayload is the payload for heartbeat messages.
type HeartbeatPayload struct {
	UptimeS              int64 `json:"uptime_s"`
	ConnectedClients     int   `json:"connected_clients"`
	PositionStreamUp     bool  `json:"zmq_position_connected"`
	GateStreamUp         bool  `json:"zmq_gate_connected"`
	AthletesTracked      int   `json:"athletes_tracked"`
	MessagesRelayed      int64 `json:"messages_relayed"`
}
