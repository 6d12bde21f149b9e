// Package version holds the build version of the operator binary.
package version

// Version is replaced at build time with
// -ldflags "-X github.com/anvil-dev/middleware-operators/version.Version=<version>".
var Version = "dev"
