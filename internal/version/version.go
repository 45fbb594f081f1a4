// Package version reports the build version of serialmon binaries.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const defaultModule = "pkt.systems/serialmon"

// buildVersion is set via -ldflags "-X pkt.systems/serialmon/internal/version.buildVersion=...".
var buildVersion = ""

// Info describes the running binary.
type Info struct {
	Version   string
	Module    string
	Revision  string
	Modified  bool
	GoVersion string
}

// String renders Info on one line for the version command.
func (i Info) String() string {
	out := fmt.Sprintf("%s %s (%s)", i.Module, i.Version, i.GoVersion)
	if i.Revision != "" {
		rev := i.Revision
		if i.Modified {
			rev += "+dirty"
		}
		out += " rev " + rev
	}
	return out
}

// Current returns the best available version string (without dirty suffix).
func Current() string {
	return Read().Version
}

// Read collects version details from build info.
func Read() Info {
	info, _ := debug.ReadBuildInfo()
	return fromBuildInfo(info)
}

func fromBuildInfo(info *debug.BuildInfo) Info {
	out := Info{Module: defaultModule, GoVersion: runtime.Version(), Version: "v0.0.0-unknown"}
	if info != nil {
		if path := strings.TrimSpace(info.Main.Path); path != "" {
			out.Module = path
		}
		vcs := readVCS(info)
		out.Revision = vcs.revision
		out.Modified = vcs.modified
		if v := strings.TrimSpace(info.Main.Version); v != "" && v != "(devel)" {
			out.Version = strings.TrimSuffix(v, "+dirty")
		} else if v := vcs.pseudo(); v != "" {
			out.Version = v
		}
	}
	if v := strings.TrimSpace(buildVersion); v != "" {
		out.Version = strings.TrimSuffix(v, "+dirty")
	}
	return out
}

type vcsSettings struct {
	revision string
	time     time.Time
	modified bool
}

func readVCS(info *debug.BuildInfo) vcsSettings {
	var vcs vcsSettings
	if info == nil {
		return vcs
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			vcs.revision = setting.Value
		case "vcs.time":
			if parsed, err := time.Parse(time.RFC3339, setting.Value); err == nil {
				vcs.time = parsed
			}
		case "vcs.modified":
			vcs.modified = setting.Value == "true"
		}
	}
	return vcs
}

// pseudo builds a Go pseudo-version from the VCS stamp.
func (v vcsSettings) pseudo() string {
	if v.revision == "" || v.time.IsZero() {
		return ""
	}
	rev := v.revision
	if len(rev) > 12 {
		rev = rev[:12]
	}
	return "v0.0.0-" + v.time.UTC().Format("20060102150405") + "-" + rev
}
