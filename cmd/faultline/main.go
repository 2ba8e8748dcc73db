// faultline hosts the fault classification, propagation and recovery
// subsystem and inspects what it recorded.
package main

import (
	"os"
)

// version is set via ldflags: -X main.version=v1.0.0
var version = "dev"

func main() {
	if err := Execute(version); err != nil {
		os.Exit(1)
	}
}
