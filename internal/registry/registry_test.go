package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRegistryDoc(t *testing.T, dir string, json string) string {
	t.Helper()
	path := filepath.Join(dir, "athletes.json")
	require.NoError(t, os.WriteFile(path, []byte(json), 0o644))
	return path
}

func TestLoad_populatesTable(t *testing.T) {
	path := writeRegistryDoc(t, t.TempDir(), `{"athletes":[
		{"device_id":1,"athlete_id":"A1","name":"Alice","team":"HKG"},
		{"device_id":2,"athlete_id":"A2","name":"Bob","team":"GBR"}
	]}`)

	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Count())

	a, ok := r.Get(1)
	require.True(t, ok)
	assert.Equal(t, "Alice", a.Name)
}

func TestLoad_missingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestGetOrDefault_unknownDevice(t *testing.T) {
	r := New()
	a := r.GetOrDefault(42)
	assert.Equal(t, "T42", a.AthleteID)
	assert.Equal(t, "Unknown 42", a.Name)
	assert.Equal(t, "—", a.Team)
}

func TestReload_atomicSwap(t *testing.T) {
	dir := t.TempDir()
	path := writeRegistryDoc(t, dir, `{"athletes":[{"device_id":1,"athlete_id":"A1","name":"Alice","team":"HKG"}]}`)

	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Count())

	require.NoError(t, os.WriteFile(path, []byte(`{"athletes":[
		{"device_id":1,"athlete_id":"A1","name":"Alice2","team":"HKG"},
		{"device_id":2,"athlete_id":"A2","name":"Bob","team":"GBR"}
	]}`), 0o644))
	require.NoError(t, r.Reload(path))

	assert.Equal(t, 2, r.Count())
	a, _ := r.Get(1)
	assert.Equal(t, "Alice2", a.Name)
}

func TestReplaceAll(t *testing.T) {
	r := New()
	r.ReplaceAll([]Athlete{{DeviceID: 5, AthleteID: "A5", Name: "Eve", Team: "USA"}})
	assert.Equal(t, 1, r.Count())
	a, ok := r.Get(5)
	require.True(t, ok)
	assert.Equal(t, "Eve", a.Name)
}

func TestAll_sortedByDeviceID(t *testing.T) {
	r := New()
	r.ReplaceAll([]Athlete{
		{DeviceID: 3, AthleteID: "A3"},
		{DeviceID: 1, AthleteID: "A1"},
		{DeviceID: 2, AthleteID: "A2"},
	})
	all := r.All()
	require.Len(t, all, 3)
	assert.Equal(t, 1, all[0].DeviceID)
	assert.Equal(t, 2, all[1].DeviceID)
	assert.Equal(t, 3, all[2].DeviceID)
}
