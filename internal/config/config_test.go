package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sample = `
version: 1
data_dir: state
storage:
  backend: file
  git: true
throttle:
  selects_per_second: 50
tables:
  - name: t_user
    key: name
    fields: [age, city]
    authorized: ["0xABCdef"]
  - name: t_asset
    key: owner
    fields: [amount]
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if c.Storage.Backend != BackendFile || !c.Storage.Git || c.Storage.Author != "statedb" {
		t.Errorf("Storage = %+v", c.Storage)
	}
	if c.Throttle.SelectsPerSecond != 50 || c.Throttle.Burst != 10 {
		t.Errorf("Throttle = %+v", c.Throttle)
	}
	if len(c.Tables) != 2 {
		t.Fatalf("Tables = %d, want 2", len(c.Tables))
	}
	u := c.Table("t_user")
	if u == nil || u.Key != "name" || len(u.Fields) != 2 {
		t.Fatalf("Table(t_user) = %+v", u)
	}
	if u.AuthorizedAddress[0] != "abcdef" {
		t.Errorf("authorized = %q, want normalized", u.AuthorizedAddress[0])
	}
	if c.Table("t_missing") != nil {
		t.Error("Table(t_missing) != nil")
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad yaml", "version: [", "failed to parse"},
		{"version", "version: 2", "unsupported config version"},
		{"backend", "version: 1\nstorage: {backend: s3}", "unknown backend"},
		{"git on memory", "version: 1\nstorage: {backend: memory, git: true}", "git requires"},
		{"negative rate", "version: 1\nthrottle: {selects_per_second: -1}", "selects_per_second"},
		{"negative burst", "version: 1\nthrottle: {burst: -1}", "burst"},
		{"table without key", "version: 1\ntables: [{name: t}]", "key field is required"},
		{"reserved field", "version: 1\ntables: [{name: t, key: k, fields: [_status_]}]", "reserved"},
		{"duplicate table", "version: 1\ntables: [{name: t, key: k}, {name: t, key: k}]", "declared twice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Parse() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "statedb.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if c.DataDir != filepath.Join(dir, "state") {
		t.Errorf("DataDir = %s", c.DataDir)
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Load(missing) succeeded")
	}
}

func TestDefault(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("Default().Validate() error: %v", err)
	}
	if c.DataDir != "data" || c.Storage.Backend != BackendFile {
		t.Errorf("Default() = %+v", c)
	}
}

func TestJSONSchema(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatal(err)
	}
	var s struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"version", "storage", "throttle", "tables"} {
		if _, ok := s.Properties[name]; !ok {
			t.Errorf("schema lacks property %q", name)
		}
	}
	if !strings.Contains(string(data), "Primary key field") {
		t.Error("schema lacks table descriptions")
	}
}
