package main

import (
	"fmt"
	"os"

	"github.com/katello/grinder/cmd/grinder"
)

// these variables are set at build time via ldflags
var (
	version   string
	commit    string
	date      string
	buildType string = "unclassified"
	osExit           = os.Exit
)

func main() {
	osExit(runMain(os.Args, run))
}

func run(args []string) error {
	return grinder.Execute(args, grinder.BuildArgs{
		Version:   version,
		Commit:    commit,
		Date:      date,
		BuildType: buildType,
	})
}

func runMain(args []string, runFunc func([]string) error) int {
	if err := runFunc(args); err != nil {
		fmt.Printf("grinder: %s\n", err.Error())
		return 1
	}
	return 0
}
