// Package internal holds build metadata.
package internal

// Version is overridden at build time with
// -ldflags="-X github.com/zkgroups/deployer/internal.Version=v1.2.3".
var Version = "dev"
