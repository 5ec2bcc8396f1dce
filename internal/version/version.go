// ABOUTME: Build and product identification
// ABOUTME: Version and Commit are overridden at link time with -ldflags -X
package version

import "fmt"

// Product names the software in hello messages and the CLI
const Product = "stagesound"

// Manufacturer is reported in DeviceInfo
const Manufacturer = "stagesound contributors"

var (
	Version = "dev"
	Commit  = "none"
)

// String returns the one-line version banner
func String() string {
	return fmt.Sprintf("%s %s (%s)", Product, Version, Commit)
}
