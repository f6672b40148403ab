// Package buildinfo exposes build metadata for Retouch binaries.
//
// Version, Commit and BuildTime are injected with ldflags:
//
//	go build -ldflags "-X github.com/yndnr/retouch-go/internal/infra/buildinfo.Version=v0.3.0"
//
// GoVersion falls back to the running toolchain when not injected.
package buildinfo
