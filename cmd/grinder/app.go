// Package grinder implements the command-line front-end for the grinder
// repository mirroring engine: it parses flags, wires a metadata source and
// transport configuration, and drives a fetchengine.Driver sync. This
// package, and everything under it, is a collaborator external to the
// core engine, not part of its concurrency and correctness surface.
package grinder

import (
	"fmt"
	"runtime"

	"github.com/urfave/cli"

	"github.com/katello/grinder/cmd/grinder/common"
)

// BuildArgs carries build-time information injected via ldflags.
type BuildArgs struct {
	Version   string
	BuildType string
	Date      string
	Commit    string
}

var currentBuildArgs BuildArgs

var globalFlags = []cli.Flag{
	cli.BoolFlag{
		Name:  "debug, d",
		Usage: "enable verbose logging for troubleshooting",
	},
}

// GetApp builds the CLI application structure without running it.
func GetApp(bArgs BuildArgs) *cli.App {
	commands := []cli.Command{
		{
			Name:                   "sync",
			Usage:                  "mirror a repository to a local directory",
			Description:            SyncDescription,
			OnUsageError:           common.UsageErrorCallback,
			Action:                 syncAction,
			Flags:                  append(syncFlags, globalFlags...),
			UseShortOptionHandling: true,
		},
		credCmd,
		serveReaderCmd,
		{
			Name:    "help",
			Aliases: []string{"h"},
			Usage:   "prints the help message",
			Action:  common.Help,
		},
		{
			Name:    "version",
			Aliases: []string{"v"},
			Usage:   "prints the installed version of grinder",
			Action:  common.GetVersion,
		},
	}

	return &cli.App{
		Name:                   "grinder",
		HelpName:               "grinder",
		Usage:                  "A parallel content-mirroring engine for package repositories.",
		Version:                fmt.Sprintf("%s-%s", bArgs.Version, bArgs.BuildType),
		UsageText:              "grinder <command> [arguments...]",
		Description:            DESCRIPTION,
		OnUsageError:           common.UsageErrorCallback,
		Commands:               commands,
		Flags:                  globalFlags,
		UseShortOptionHandling: true,
		HideHelp:               true,
		HideVersion:            true,
	}
}

// Execute initializes and runs the CLI application.
func Execute(args []string, bArgs BuildArgs) error {
	currentBuildArgs = bArgs
	app := GetApp(bArgs)
	common.VersionCmdStr = fmt.Sprintf("%s %s (%s_%s)\nBuild: %s=%s\n",
		app.Name, app.Version, runtime.GOOS, runtime.GOARCH, bArgs.Date, bArgs.Commit,
	)
	return app.Run(args)
}
