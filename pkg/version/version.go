package version

import "runtime/debug"

// Build holds the build identifier, injected via
// -ldflags "-X peerd/pkg/version.Build=...". Default "dev".
var Build = "dev"

// String returns Build, with the VCS revision appended when the binary
// was built from a checkout.
func String() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Build
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 12 {
			return Build + " (" + s.Value[:12] + ")"
		}
	}
	return Build
}
