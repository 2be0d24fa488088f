package versions

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetVersionInfoWithValues(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name            string
		version         string
		commit          string
		buildDate       string
		expectedVersion string
	}{
		{
			name:            "release version is kept verbatim",
			version:         "v0.3.1",
			commit:          "abcdef1234567890",
			buildDate:       unknownStr,
			expectedVersion: "v0.3.1",
		},
		{
			name:            "dev version is derived from commit",
			version:         "dev",
			commit:          "abcdef1234567890",
			buildDate:       unknownStr,
			expectedVersion: "build-abcdef12",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			info := getVersionInfoWithValues(tt.version, tt.commit, tt.buildDate)
			assert.Equal(t, tt.expectedVersion, info.Version)
			assert.Equal(t, runtime.Version(), info.GoVersion)
			assert.Contains(t, info.Platform, runtime.GOOS)
		})
	}
}

func TestGetVersionInfoBuildDateFormatting(t *testing.T) {
	t.Parallel()

	info := getVersionInfoWithValues("v1.0.0", "deadbeef", "2025-03-01T12:30:45Z")
	assert.Equal(t, "2025-03-01 12:30:45 UTC", info.BuildDate)
}
