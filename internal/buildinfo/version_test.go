package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultValues(t *testing.T) {
	assert.Contains(t, GetVersion(), "dev")
	assert.Equal(t, "unknown", GetBuildTime())
	assert.Equal(t, "unknown", GetGitCommit())
}

func TestGetInfo_ReturnsCompleteInfo(t *testing.T) {
	info := GetInfo()

	assert.Contains(t, info.Version, "dev")
	assert.Equal(t, "unknown", info.BuildTime)
	assert.Equal(t, "unknown", info.GitCommit)
}

func TestInfo_String(t *testing.T) {
	info := Info{
		Version:   "1.0.0",
		BuildTime: "2024-01-01T00:00:00Z",
		GitCommit: "abc123",
	}

	str := info.String()
	assert.Contains(t, str, "1.0.0")
	assert.Contains(t, str, "2024-01-01T00:00:00Z")
	assert.Contains(t, str, "abc123")
}

func TestSetters(t *testing.T) {
	origVersion, origBuildTime, origCommit := version, buildTime, gitCommit
	defer func() { version, buildTime, gitCommit = origVersion, origBuildTime, origCommit }()

	setVersionForTest("2.0.0-test")
	setBuildTimeForTest("2024-01-01T12:00:00Z")
	setGitCommitForTest("def456")

	assert.Equal(t, "2.0.0-test", GetVersion())
	assert.Equal(t, "2024-01-01T12:00:00Z", GetBuildTime())
	assert.Equal(t, "def456", GetGitCommit())
}
