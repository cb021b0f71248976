package host

import "testing"

func TestCheckModuleVersions(t *testing.T) {
	tests := []struct {
		name    string
		mods    []moduleVersion
		wantErr bool
	}{
		{"linked modules", moduleVersions(), false},
		{"equal", []moduleVersion{{"x", "1.2.3", "1.2.3"}}, false},
		{"newer minor", []moduleVersion{{"x", "1.10.0", "1.9.9"}}, false},
		{"older patch", []moduleVersion{{"x", "1.2.2", "1.2.3"}}, true},
		{"older major", []moduleVersion{{"x", "1.9.9", "2.0.0"}}, true},
		{"malformed", []moduleVersion{{"x", "1.2", "1.0.0"}}, true},
		{"malformed minimum", []moduleVersion{{"x", "1.2.0", "v1.0.0"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkModuleVersions(tt.mods)
			if (err != nil) != tt.wantErr {
				t.Errorf("checkModuleVersions() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
