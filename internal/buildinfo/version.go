// Package buildinfo exposes the version/build-time/commit trio every
// cmd/ entrypoint stamps in via -ldflags, so cmd/version can report what's
// actually running without each command re-declaring its own copy.
package buildinfo

import "fmt"

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

type Info struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
}

func GetVersion() string   { return version }
func GetBuildTime() string { return buildTime }
func GetGitCommit() string { return gitCommit }

func GetInfo() Info {
	return Info{Version: version, BuildTime: buildTime, GitCommit: gitCommit}
}

func (i Info) String() string {
	return fmt.Sprintf("Version: %s, Build Time: %s, Git Commit: %s", i.Version, i.BuildTime, i.GitCommit)
}

// setVersionForTest and its two siblings below exist only so tests can
// exercise a non-default value without needing a real ldflags build.
func setVersionForTest(v string) {
	version = v
}

func setBuildTimeForTest(bt string) {
	buildTime = bt
}

func setGitCommitForTest(gc string) {
	gitCommit = gc
}
