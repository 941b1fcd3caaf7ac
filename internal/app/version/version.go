package version

import "runtime/debug"

// Overridden at build time via -ldflags "-X gatekeeper/internal/app/version.buildVersion=...".
var (
	buildVersion = "dev"
	builtAt      = "unknown"
)

// Info represents the running build metadata.
type Info struct {
	Version   string `json:"version"`
	BuiltAt   string `json:"built_at"`
	GoVersion string `json:"go_version,omitempty"`
}

func BuildVersion() string {
	return buildVersion
}

func Get() Info {
	info := Info{Version: buildVersion, BuiltAt: builtAt}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.GoVersion = bi.GoVersion
	}
	return info
}
