package device

import "runtime"

// Platform is the closed set of operating systems reported to the licensing service.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformMacOS   Platform = "macos"
	PlatformLinux   Platform = "linux"
	PlatformUnknown Platform = "unknown"
)

// PlatformFor maps a GOOS value to a Platform. Unrecognized systems map to
// PlatformUnknown rather than failing.
func PlatformFor(goos string) Platform {
	switch goos {
	case "windows":
		return PlatformWindows
	case "darwin":
		return PlatformMacOS
	case "linux":
		return PlatformLinux
	default:
		return PlatformUnknown
	}
}

// CurrentPlatform returns the Platform of the running process.
func CurrentPlatform() Platform {
	return PlatformFor(runtime.GOOS)
}

func (p Platform) String() string {
	return string(p)
}
