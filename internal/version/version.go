// Package version reports the SDK version used in User-Agent strings and by the CLI.
package version

import (
	"fmt"
	"runtime/debug"
)

// modulePath is matched against build info when the SDK is consumed as a dependency.
const modulePath = "github.com/lycento/lycento-sdk-go"

// These variables can be set at build time via ldflags:
//
//	go build -ldflags="-X github.com/lycento/lycento-sdk-go/internal/version.Version=v1.2.3 \
//	                   -X github.com/lycento/lycento-sdk-go/internal/version.Commit=abc123"
var (
	// Version is the semantic version of the SDK.
	Version = ""
	// Commit is the git commit hash.
	Commit = ""
)

func init() {
	if Version == "" || Commit == "" {
		populateFromBuildInfo()
	}
	if Version == "" {
		Version = "dev"
	}
	if Commit == "" {
		Commit = "unknown"
	}
}

// populateFromBuildInfo reads the module version when the SDK is a dependency,
// and the VCS revision when it is the main module.
func populateFromBuildInfo() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	if Version == "" {
		for _, dep := range info.Deps {
			if dep.Path == modulePath && dep.Version != "" && dep.Version != "(devel)" {
				Version = dep.Version
				break
			}
		}
	}
	if Version == "" && info.Main.Path == modulePath && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}

	if Commit != "" {
		return
	}
	var revision, modified string
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			modified = setting.Value
		}
	}
	if revision == "" {
		return
	}
	if len(revision) > 7 {
		revision = revision[:7]
	}
	if modified == "true" {
		revision += "-dirty"
	}
	Commit = revision
}

// Full returns the full version string including commit.
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Version, Commit)
}

// UserAgent returns the default User-Agent sent by the SDK.
func UserAgent() string {
	return "lycento-sdk-go/" + Version
}
