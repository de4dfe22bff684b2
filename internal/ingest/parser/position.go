// Package parser decodes upstream position-text and gate-metrics JSON
// frames into typed records. Both parsers are pure: no I/O, no
// package-level state. A malformed line or metric is dropped and
// counted in the returned batch; the rest of the frame still yields
// whatever could be parsed.
package parser

import (
	"strconv"
	"strings"
)

// RawPosition is a single position line parsed from the position-text format.
type RawPosition struct {
	DeviceID          int
	Latitude          float64
	Longitude         float64
	Altitude          float64
	SourceMask        int
	DeviceTimestampUs int64
}

// RawPositionBatch is a parsed position batch.
type RawPositionBatch struct {
	ServerTimestampUs int64
	Positions         []RawPosition
	Dropped           int
}

// ParsePositionBatch parses the HKSI_Pos position-text framing:
//
//	SERVER_TS:<server_timestamp_us>
//	COUNT:<num_positions>
//	POS:<device_id>:<lat>:<lon>:<alt>:<source_mask>:<device_timestamp_us>
//	...
//
// A malformed POS line is dropped and counted; missing or mismatched
// COUNT, extra whitespace, and trailing newlines are tolerated.
func ParsePositionBatch(rawText string) RawPositionBatch {
	var batch RawPositionBatch

	lines := strings.Split(strings.TrimSpace(rawText), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "SERVER_TS:"):
			if ts, err := strconv.ParseInt(strings.TrimPrefix(line, "SERVER_TS:"), 10, 64); err == nil {
				batch.ServerTimestampUs = ts
			}
		case strings.HasPrefix(line, "COUNT:"):
			// Informational only; positions are counted from POS lines.
		case strings.HasPrefix(line, "POS:"):
			pos, ok := parsePositionLine(line)
			if !ok {
				batch.Dropped++
				continue
			}
			batch.Positions = append(batch.Positions, pos)
		}
		// Unknown line prefixes are silently ignored.
	}

	return batch
}

func parsePositionLine(line string) (RawPosition, bool) {
	parts := strings.Split(line, ":")
	if len(parts) < 7 {
		return RawPosition{}, false
	}

	deviceID, err := strconv.Atoi(parts[1])
	if err != nil {
		return RawPosition{}, false
	}
	lat, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return RawPosition{}, false
	}
	lon, err := strconv.ParseFloat(parts[3], 64)
	if err != nil {
		return RawPosition{}, false
	}
	alt, err := strconv.ParseFloat(parts[4], 64)
	if err != nil {
		return RawPosition{}, false
	}
	mask, err := strconv.Atoi(parts[5])
	if err != nil {
		return RawPosition{}, false
	}
	deviceTs, err := strconv.ParseInt(parts[6], 10, 64)
	if err != nil {
		return RawPosition{}, false
	}

	return RawPosition{
		DeviceID:          deviceID,
		Latitude:          lat,
		Longitude:         lon,
		Altitude:          alt,
		SourceMask:        mask,
		DeviceTimestampUs: deviceTs,
	}, true
}
