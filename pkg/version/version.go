// Package version exposes build metadata injected at link time, e.g.
//
//	go build -ldflags "-X github.com/ecocircle/notifymail/pkg/version.Version=v1.2.0 \
//	  -X github.com/ecocircle/notifymail/pkg/version.GitCommit=$(git rev-parse --short HEAD) \
//	  -X github.com/ecocircle/notifymail/pkg/version.BuildDate=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"fmt"
	"runtime"
	"time"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	// BuildDate is expected in RFC 3339; other values are printed as is.
	BuildDate = "unknown"
)

// BuildInfo is what --version reports.
type BuildInfo struct {
	Version   string
	GitCommit string
	BuildDate string
	// BuildTime is BuildDate parsed, zero when it is not RFC 3339.
	BuildTime time.Time
	GoVersion string
	Platform  string
}

func GetBuildInfo() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if t, err := time.Parse(time.RFC3339, BuildDate); err == nil {
		info.BuildTime = t.UTC()
	}
	return info
}

// String renders the one-line form printed by --version. A parsed build
// time is shown in UTC regardless of the offset it was stamped with.
func (b BuildInfo) String() string {
	built := b.BuildDate
	if !b.BuildTime.IsZero() {
		built = b.BuildTime.Format(time.RFC3339)
	}
	return fmt.Sprintf("%s (commit %s, built %s, %s %s)", b.Version, b.GitCommit, built, b.GoVersion, b.Platform)
}
