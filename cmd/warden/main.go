// Warden - operational watchdog for a personal AI agent gateway.
package main

import (
	"fmt"
	"os"
	"runtime"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

func printVersion() {
	fmt.Printf("warden %s\n", version)
	if gitCommit != "" {
		fmt.Printf("  commit: %s\n", gitCommit)
	}
	if buildTime != "" {
		fmt.Printf("  built:  %s\n", buildTime)
	}
	gv := goVersion
	if gv == "" {
		gv = runtime.Version()
	}
	fmt.Printf("  go:     %s\n", gv)
}

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
