// Package buildinfo provides build-time properties injected via ldflags:
//
//	go build -ldflags "-X github.com/nomis52/gosdm/buildinfo.version=v0.3.0 \
//	    -X github.com/nomis52/gosdm/buildinfo.gitCommit=$(git rev-parse HEAD)"
//
// Without ldflags the module version and VCS revision recorded by the Go
// toolchain are used where available.
package buildinfo

import "runtime/debug"

// Properties holds build-time properties.
type Properties struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
	GoVersion string `json:"go_version,omitempty"`
}

// Package-level variables for ldflags injection (unexported).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// Get returns the current build properties.
func Get() Properties {
	p := Properties{
		Version:   version,
		BuildTime: buildTime,
		GitCommit: gitCommit,
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return p
	}
	p.GoVersion = info.GoVersion
	if p.Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		p.Version = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if p.GitCommit == "unknown" {
				p.GitCommit = s.Value
			}
		case "vcs.time":
			if p.BuildTime == "unknown" {
				p.BuildTime = s.Value
			}
		}
	}
	return p
}

// Version returns the version string.
func Version() string {
	return Get().Version
}
