package parser

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RawGateMetric is a single per-athlete gate metric from the
// gate-metrics stream. Optional fields absent in a payload default to
// their zero value rather than dropping the metric, except TagID, which
// is required to resolve DeviceID.
type RawGateMetric struct {
	TagID              string
	DeviceID           int
	GateID             string
	AnchorLeftID       string
	AnchorRightID      string
	ServerTimestampUs  int64
	EstimateTsUs       int64
	DPerpSignedM       float64
	SAlong             float64
	GateLengthM        float64
	CrossingEvent      string
	CrossingTimeUs     *int64
	CrossingConfidence float64
	PositionQuality    float64
	TimeToLineS        *float64
	SpeedToLineMps     float64
}

// RawGateAlert is a discrete crossing/OCS alert accompanying a batch.
type RawGateAlert struct {
	TagID         string
	DeviceID      int
	GateID        string
	Event         string
	CrossingTimeUs int64
	Confidence    float64
}

// RawGateMetricsBatch is a parsed gate-metrics frame.
type RawGateMetricsBatch struct {
	ServerTimestampUs int64
	Metrics           []RawGateMetric
	Alerts            []RawGateAlert
	Dropped           int
}

// wire shapes mirroring the upstream JSON payload, all fields optional
// except tag_id so missing optional data can be defaulted rather than
// rejecting the whole metric.
type gateMetricsWire struct {
	ServerTimestampUs int64              `json:"server_timestamp_us"`
	Metrics           []gateMetricWire   `json:"metrics"`
	Alerts            []gateAlertWire    `json:"alerts"`
}

type gateMetricWire struct {
	TagID              *string  `json:"tag_id"`
	GateID             string   `json:"gate_id"`
	AnchorLeftID       string   `json:"anchor_left_id"`
	AnchorRightID      string   `json:"anchor_right_id"`
	ServerTimestampUs  int64    `json:"server_timestamp_us"`
	EstimateTsUs       int64    `json:"estimate_timestamp_us"`
	DPerpSignedM       float64  `json:"d_perp_signed_m"`
	SAlong             float64  `json:"s_along"`
	GateLengthM        float64  `json:"gate_length_m"`
	CrossingEvent      string   `json:"crossing_event"`
	CrossingTimeUs     *int64   `json:"crossing_time_us"`
	CrossingConfidence float64  `json:"crossing_confidence"`
	TagPositionQuality float64  `json:"tag_position_quality"`
	TimeToLineS        *float64 `json:"time_to_line_s"`
	SpeedToLineMps     float64  `json:"speed_to_line_mps"`
}

type gateAlertWire struct {
	TagID          *string `json:"tag_id"`
	GateID         string  `json:"gate_id"`
	Event          string  `json:"event"`
	CrossingTimeUs int64   `json:"crossing_time_us"`
	Confidence     float64 `json:"confidence"`
}

// ParseGateMetricsBatch parses a gate-metrics JSON frame. A malformed
// top-level document is rejected outright (err != nil); within a valid
// document, a metric or alert missing its required tag_id is dropped
// and counted rather than failing the whole frame.
func ParseGateMetricsBatch(raw []byte) (RawGateMetricsBatch, error) {
	var wire gateMetricsWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return RawGateMetricsBatch{}, fmt.Errorf("parse gate metrics batch: %w", err)
	}

	batch := RawGateMetricsBatch{ServerTimestampUs: wire.ServerTimestampUs}

	for _, m := range wire.Metrics {
		if m.TagID == nil {
			batch.Dropped++
			continue
		}
		deviceID, ok := TagIDToDeviceID(*m.TagID)
		if !ok {
			batch.Dropped++
			continue
		}

		gateID := m.GateID
		if gateID == "" {
			gateID = "start_line"
		}
		anchorLeft := m.AnchorLeftID
		if anchorLeft == "" {
			anchorLeft = "A0"
		}
		anchorRight := m.AnchorRightID
		if anchorRight == "" {
			anchorRight = "A1"
		}
		serverTs := m.ServerTimestampUs
		if serverTs == 0 {
			serverTs = wire.ServerTimestampUs
		}
		crossingEvent := m.CrossingEvent
		if crossingEvent == "" {
			crossingEvent = "NO_CROSSING"
		}

		batch.Metrics = append(batch.Metrics, RawGateMetric{
			TagID:              *m.TagID,
			DeviceID:           deviceID,
			GateID:             gateID,
			AnchorLeftID:       anchorLeft,
			AnchorRightID:      anchorRight,
			ServerTimestampUs:  serverTs,
			EstimateTsUs:       m.EstimateTsUs,
			DPerpSignedM:       m.DPerpSignedM,
			SAlong:             m.SAlong,
			GateLengthM:        m.GateLengthM,
			CrossingEvent:      crossingEvent,
			CrossingTimeUs:     m.CrossingTimeUs,
			CrossingConfidence: m.CrossingConfidence,
			PositionQuality:    m.TagPositionQuality,
			TimeToLineS:        m.TimeToLineS,
			SpeedToLineMps:     m.SpeedToLineMps,
		})
	}

	for _, a := range wire.Alerts {
		if a.TagID == nil {
			batch.Dropped++
			continue
		}
		deviceID, ok := TagIDToDeviceID(*a.TagID)
		if !ok {
			batch.Dropped++
			continue
		}

		gateID := a.GateID
		if gateID == "" {
			gateID = "start_line"
		}
		event := a.Event
		if event == "" {
			event = "NO_CROSSING"
		}

		batch.Alerts = append(batch.Alerts, RawGateAlert{
			TagID:          *a.TagID,
			DeviceID:       deviceID,
			GateID:         gateID,
			Event:          event,
			CrossingTimeUs: a.CrossingTimeUs,
			Confidence:     a.Confidence,
		})
	}

	return batch, nil
}

// TagIDToDeviceID maps an upstream tag identifier ("T00", "T01", ...) to
// the numeric device id convention used throughout the relay
// (device_id = tag index + 1, so "T00" is device 1 and "T07" is
// device 8).
func TagIDToDeviceID(tagID string) (int, bool) {
	if !strings.HasPrefix(tagID, "T") {
		return 0, false
	}
	idx, err := strconv.Atoi(strings.TrimPrefix(tagID, "T"))
	if err != nil {
		return 0, false
	}
	return idx + 1, true
}
