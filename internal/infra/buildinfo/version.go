package buildinfo

import (
	"fmt"
	"runtime"
)

// Build-time variables (set via ldflags).
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = ""
)

// Product is the name reported in version strings and User-Agent headers.
const Product = "retouch"

// Info contains build information.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildTime string `json:"build_time" yaml:"build_time"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
}

// Get returns the build information.
func Get() Info {
	goVersion := GoVersion
	if goVersion == "" {
		goVersion = runtime.Version()
	}
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: goVersion,
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String returns a one-line version string.
func String() string {
	i := Get()
	return fmt.Sprintf("%s %s (%s) built at %s with %s", Product, i.Version, i.Commit, i.BuildTime, i.GoVersion)
}

// UserAgent returns the User-Agent for outbound requests from component,
// e.g. "retouch-cli/v0.3.0".
func UserAgent(component string) string {
	if component == "" {
		component = Product
	}
	return component + "/" + Version
}
