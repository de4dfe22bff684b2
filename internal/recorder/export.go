package recorder

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
)

// csvColumns is the flattened row schema for a session export
// (timestamp, athlete, lat, lon, sog, cog, status, dist, eta), enriched
// with the identity and kinematics columns a coach would want when
// opening a session in a spreadsheet.
var csvColumns = []string{
	"ts_ms", "session_id", "athlete_id", "device_id", "name", "team",
	"lat", "lon", "alt_m", "sog_kn", "cog_deg",
	"dist_to_line_m", "eta_to_line_s", "speed_to_line_mps", "status", "data_age_ms",
}

type csvRow map[string]string

// ExportJSON streams a session's envelope sequence unchanged (the
// header line excluded) to w.
func (r *Recorder) ExportJSON(sessionID string, w io.Writer) error {
	path := r.PackPath(sessionID)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("recorder: open pack %s: %w", sessionID, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue
		}
		if _, err := w.Write(scanner.Bytes()); err != nil {
			return err
		}
		if _, err := w.Write([]byte("\n")); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// ExportCSV flattens a session's position_update/gate_metrics envelopes,
// merged by (ts_ms, athlete_id), and writes them as CSV to w. The pack
// file itself is read once via a line scanner rather than loaded
// whole, but the merged rows are accumulated in memory before being
// written out, since a position_update and the gate_metrics envelope
// it merges with can appear anywhere in the file relative to each
// other. For a single session this is bounded by athlete count times
// tick count, not by wall-clock session length.
func (r *Recorder) ExportCSV(sessionID string, w io.Writer) error {
	path := r.PackPath(sessionID)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("recorder: open pack %s: %w", sessionID, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	rows := make(map[string]csvRow)
	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue
		}
		mergeCSVLine(scanner.Bytes(), rows)
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cw := csv.NewWriter(w)
	if err := cw.Write(csvColumns); err != nil {
		return err
	}
	for _, k := range keys {
		row := rows[k]
		record := make([]string, len(csvColumns))
		for i, col := range csvColumns {
			record[i] = row[col]
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func mergeCSVLine(line []byte, rows map[string]csvRow) {
	var env struct {
		TsMs    int64           `json:"ts_ms"`
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if json.Unmarshal(line, &env) != nil {
		return
	}

	switch env.Type {
	case "position_update":
		var p struct {
			Positions []struct {
				AthleteID string  `json:"athlete_id"`
				DeviceID  int     `json:"device_id"`
				Name      string  `json:"name"`
				Team      string  `json:"team"`
				Lat       float64 `json:"lat"`
				Lon       float64 `json:"lon"`
				AltM      float64 `json:"alt_m"`
				SogKn     *float64 `json:"sog_kn"`
				CogDeg    *float64 `json:"cog_deg"`
				DataAgeMs int64   `json:"data_age_ms"`
			} `json:"positions"`
		}
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		for _, pos := range p.Positions {
			key := fmt.Sprintf("%020d|%s", env.TsMs, pos.AthleteID)
			row := rows[key]
			if row == nil {
				row = csvRow{}
			}
			row["ts_ms"] = strconv.FormatInt(env.TsMs, 10)
			row["athlete_id"] = pos.AthleteID
			row["device_id"] = strconv.Itoa(pos.DeviceID)
			row["name"] = pos.Name
			row["team"] = pos.Team
			row["lat"] = strconv.FormatFloat(pos.Lat, 'f', -1, 64)
			row["lon"] = strconv.FormatFloat(pos.Lon, 'f', -1, 64)
			row["alt_m"] = strconv.FormatFloat(pos.AltM, 'f', -1, 64)
			if pos.SogKn != nil {
				row["sog_kn"] = strconv.FormatFloat(*pos.SogKn, 'f', -1, 64)
			}
			if pos.CogDeg != nil {
				row["cog_deg"] = strconv.FormatFloat(*pos.CogDeg, 'f', -1, 64)
			}
			row["data_age_ms"] = strconv.FormatInt(pos.DataAgeMs, 10)
			rows[key] = row
		}
	case "gate_metrics":
		var p struct {
			Metrics []struct {
				AthleteID      string   `json:"athlete_id"`
				DeviceID       int      `json:"device_id"`
				Name           string   `json:"name"`
				DistToLineM    float64  `json:"dist_to_line_m"`
				EtaToLineS     *float64 `json:"eta_to_line_s"`
				SpeedToLineMps float64  `json:"speed_to_line_mps"`
				Status         string   `json:"status"`
			} `json:"metrics"`
		}
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		for _, m := range p.Metrics {
			key := fmt.Sprintf("%020d|%s", env.TsMs, m.AthleteID)
			row := rows[key]
			if row == nil {
				row = csvRow{
					"ts_ms":      strconv.FormatInt(env.TsMs, 10),
					"athlete_id": m.AthleteID,
					"device_id":  strconv.Itoa(m.DeviceID),
					"name":       m.Name,
				}
			}
			row["dist_to_line_m"] = strconv.FormatFloat(m.DistToLineM, 'f', -1, 64)
			if m.EtaToLineS != nil {
				row["eta_to_line_s"] = strconv.FormatFloat(*m.EtaToLineS, 'f', -1, 64)
			}
			row["speed_to_line_mps"] = strconv.FormatFloat(m.SpeedToLineMps, 'f', -1, 64)
			row["status"] = m.Status
			rows[key] = row
		}
	}
}
