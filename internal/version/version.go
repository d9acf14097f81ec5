package version

import (
	"path"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const defaultModule = "pkt.systems/poiconsole"

// buildVersion is set via -ldflags "-X pkt.systems/poiconsole/internal/version.buildVersion=...".
var buildVersion = ""

// readBuildInfo is swapped in tests.
var readBuildInfo = debug.ReadBuildInfo

// Info describes the running build.
type Info struct {
	Module    string
	Version   string
	Revision  string
	Modified  bool
	GoVersion string
}

// Current returns the best available version string (without dirty suffix).
func Current() string {
	return Read().Version
}

// Module returns the module path from build info when available.
func Module() string {
	return Read().Module
}

// UserAgent identifies the client in outbound requests, e.g. "poiconsole/v1.2.3".
func UserAgent() string {
	info := Read()
	return path.Base(info.Module) + "/" + info.Version
}

// Read collects the build description.
func Read() Info {
	out := Info{
		Module:    defaultModule,
		Version:   "v0.0.0-unknown",
		GoVersion: runtime.Version(),
	}
	info, ok := readBuildInfo()
	if ok && info != nil {
		if p := strings.TrimSpace(info.Main.Path); p != "" {
			out.Module = p
		}
		revision, _, modified := vcsSettings(info)
		out.Revision = revision
		out.Modified = modified
		if v := strings.TrimSpace(info.Main.Version); v != "" && v != "(devel)" {
			out.Version = trimDirty(v)
		} else if v := pseudoVersion(info); v != "" {
			out.Version = v
		}
	}
	if v := strings.TrimSpace(buildVersion); v != "" {
		out.Version = trimDirty(v)
	}
	return out
}

func trimDirty(v string) string {
	return strings.TrimSuffix(strings.TrimSpace(v), "+dirty")
}

func vcsSettings(info *debug.BuildInfo) (revision, vcsTime string, modified bool) {
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.time":
			vcsTime = setting.Value
		case "vcs.modified":
			modified = setting.Value == "true"
		}
	}
	return revision, vcsTime, modified
}

func pseudoVersion(info *debug.BuildInfo) string {
	if info == nil {
		return ""
	}
	revision, vcsTime, _ := vcsSettings(info)
	if revision == "" || vcsTime == "" {
		return ""
	}
	parsed, err := time.Parse(time.RFC3339, vcsTime)
	if err != nil {
		return ""
	}
	rev := revision
	if len(rev) > 12 {
		rev = rev[:12]
	}
	return "v0.0.0-" + parsed.UTC().Format("20060102150405") + "-" + rev
}
