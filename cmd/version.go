package cmd

import "fmt"

// runVersion displays the build information injected via ldflags.
func runVersion() {
	fmt.Printf("vadf-assistant %s\n", AppVersion)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
