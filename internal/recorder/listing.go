package recorder

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
)

// ListSessions returns metadata for every pack file under the
// recorder's directory, newest first. Each file's full metadata is
// cached by size+mtime so repeated listings avoid rescanning unchanged
// packs.
func (r *Recorder) ListSessions() ([]SessionMeta, error) {
	paths, err := listSessionPaths(r.dir)
	if err != nil {
		return nil, err
	}

	metas := make([]SessionMeta, 0, len(paths))
	for _, path := range paths {
		meta, err := r.sessionMeta(path)
		if err != nil {
			r.logger.Warn("failed to read session pack", zap.String("path", path), zap.Error(err))
			continue
		}
		metas = append(metas, meta)
	}

	sort.Slice(metas, func(i, j int) bool { return metas[i].CreatedUTC > metas[j].CreatedUTC })
	return metas, nil
}

// GetSession returns metadata for a single session id.
func (r *Recorder) GetSession(sessionID string) (SessionMeta, bool) {
	path := filepath.Join(r.dir, sessionID+".jsonl")
	meta, err := r.sessionMeta(path)
	if err != nil {
		return SessionMeta{}, false
	}
	return meta, true
}

// PackPath returns the on-disk path for a session id's pack file.
func (r *Recorder) PackPath(sessionID string) string {
	return filepath.Join(r.dir, sessionID+".jsonl")
}

func (r *Recorder) sessionMeta(path string) (SessionMeta, error) {
	info, err := os.Stat(path)
	if err != nil {
		return SessionMeta{}, err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[path]; ok && cached.size == info.Size() && cached.modTime.Equal(info.ModTime()) {
		r.cacheMu.Unlock()
		return cached.meta, nil
	}
	r.cacheMu.Unlock()

	meta, err := scanSessionMeta(path)
	if err != nil {
		return SessionMeta{}, err
	}

	r.cacheMu.Lock()
	r.cache[path] = cachedMeta{size: info.Size(), modTime: info.ModTime(), meta: meta}
	r.cacheMu.Unlock()

	return meta, nil
}

// scanSessionMeta streams a pack file once to derive message/athlete
// counts and duration, without materializing the whole file.
func scanSessionMeta(path string) (SessionMeta, error) {
	header, err := readHeader(path)
	if err != nil {
		return SessionMeta{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return SessionMeta{}, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	athletes := map[string]struct{}{}
	count := 0
	var lastTsMs int64

	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue // header line already parsed
		}
		var env struct {
			TsMs    int64           `json:"ts_ms"`
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			continue
		}
		count++
		lastTsMs = env.TsMs

		switch env.Type {
		case "position_update":
			var p struct {
				Positions []struct {
					AthleteID string `json:"athlete_id"`
				} `json:"positions"`
			}
			if json.Unmarshal(env.Payload, &p) == nil {
				for _, pos := range p.Positions {
					athletes[pos.AthleteID] = struct{}{}
				}
			}
		case "gate_metrics":
			var p struct {
				Metrics []struct {
					AthleteID string `json:"athlete_id"`
				} `json:"metrics"`
			}
			if json.Unmarshal(env.Payload, &p) == nil {
				for _, m := range p.Metrics {
					athletes[m.AthleteID] = struct{}{}
				}
			}
		}
	}

	return SessionMeta{
		SessionID:    header.SessionID,
		CreatedUTC:   header.Created,
		DurationS:    float64(lastTsMs) / 1000.0,
		MessageCount: count,
		AthleteCount: len(athletes),
		AthleteIDs:   sortedKeys(athletes),
	}, nil
}
