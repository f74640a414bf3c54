package doctor

import (
	"testing"
)

func TestParseMajorMinor(t *testing.T) {
	tests := []struct {
		name      string
		ver       string
		wantMajor int
		wantMinor int
		wantErr   bool
	}{
		{"simple", "1.17", 1, 17, false},
		{"with patch", "1.20.1", 1, 20, false},
		{"v prefix", "v1.22.0", 1, 22, false},
		{"single number", "1", 0, 0, true},
		{"empty", "", 0, 0, true},
		{"bad major", "abc.11", 0, 0, true},
		{"bad minor", "1.xyz", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			major, minor, err := parseMajorMinor(tt.ver)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseMajorMinor(%q) = (%d,%d,nil); want error", tt.ver, major, minor)
				}

				return
			}

			if err != nil {
				t.Fatalf("parseMajorMinor(%q) error: %v", tt.ver, err)
			}

			if major != tt.wantMajor || minor != tt.wantMinor {
				t.Fatalf("parseMajorMinor(%q) = (%d,%d); want (%d,%d)",
					tt.ver, major, minor, tt.wantMajor, tt.wantMinor)
			}
		})
	}
}

func TestCheckRuntimeVersion(t *testing.T) {
	tests := []struct {
		name    string
		ver     string
		min     string
		wantErr bool
	}{
		{"exact minimum", "1.17.0", "1.17", false},
		{"newer minor", "1.22.1", "1.17", false},
		{"newer major", "2.0", "1.17", false},
		{"too old", "1.16.3", "1.17", true},
		{"old major", "0.99", "1.17", true},
		{"not a version", "abc", "1.17", true},
		{"bad minimum", "1.20", "x", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkRuntimeVersion(tt.ver, tt.min)
			if (err != nil) != tt.wantErr {
				t.Fatalf("checkRuntimeVersion(%q, %q) = %v; wantErr=%v", tt.ver, tt.min, err, tt.wantErr)
			}
		})
	}
}
