package model

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestJSONStringArrayValueScan(t *testing.T) {
	arr := JSONStringArray{"pattern:ok", "semgrep:timed_out"}
	v, err := arr.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}

	var got JSONStringArray
	if err := got.Scan(v); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if diff := cmp.Diff(arr, got); diff != "" {
		t.Errorf("roundtrip mismatch (-want +got):\n%s", diff)
	}
}

func TestJSONStringArrayEmptyValue(t *testing.T) {
	var arr JSONStringArray
	v, err := arr.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	if v != nil {
		t.Errorf("Value() = %v, want nil for empty array", v)
	}
}

func TestJSONMapScanString(t *testing.T) {
	var m JSONMap
	if err := m.Scan(`{"critical":1,"high":2}`); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if m["critical"] != float64(1) {
		t.Errorf("m[critical] = %v, want 1", m["critical"])
	}
}

func TestJSONMapScanInvalidType(t *testing.T) {
	var m JSONMap
	if err := m.Scan(42); err == nil {
		t.Error("Scan(int) error = nil, want error")
	}
}

func TestFindingLocation(t *testing.T) {
	tests := []struct {
		name    string
		finding Finding
		want    string
	}{
		{
			name:    "file and line",
			finding: Finding{FilePath: "model/loader.py", Line: 42},
			want:    "model/loader.py:42",
		},
		{
			name:    "config path",
			finding: Finding{FilePath: "mcp.json", ConfigPath: "mcpServers.github.env.TOKEN"},
			want:    "mcp.json:mcpServers.github.env.TOKEN",
		},
		{
			name:    "file only",
			finding: Finding{FilePath: "weights.pkl"},
			want:    "weights.pkl",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.finding.Location(); got != tt.want {
				t.Errorf("Location() = %q, want %q", got, tt.want)
			}
		})
	}
}
