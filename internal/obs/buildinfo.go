package obs

import (
	"runtime"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "hrgate_build_info",
		Help: "Always 1; labels identify the running hrgate binary.",
	},
	[]string{"version", "commit", "goversion"},
)

// Build identifies the running binary.
type Build struct {
	Version   string
	Commit    string
	GoVersion string
}

// ResolveBuild completes version and commit, falling back to the VCS stamp the go
// tool embeds when commit is empty. Commits are shortened to 12 characters.
func ResolveBuild(version, commit string) Build {
	return resolveBuild(version, commit, debug.ReadBuildInfo)
}

func resolveBuild(version, commit string, read func() (*debug.BuildInfo, bool)) Build {
	b := Build{Version: version, Commit: commit, GoVersion: runtime.Version()}
	if b.Version == "" {
		b.Version = "dev"
	}
	if b.Commit == "" {
		if info, ok := read(); ok && info != nil {
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" {
					b.Commit = s.Value
				}
			}
		}
	}
	if len(b.Commit) > 12 {
		b.Commit = b.Commit[:12]
	}
	if b.Commit == "" {
		b.Commit = "unknown"
	}
	return b
}

// InitBuildInfo registers the metrics and publishes hrgate_build_info for this binary.
func InitBuildInfo(version, commit string) Build {
	Init()
	b := ResolveBuild(version, commit)
	buildInfo.Reset()
	buildInfo.WithLabelValues(b.Version, b.Commit, b.GoVersion).Set(1)
	return b
}
