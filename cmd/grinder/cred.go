package grinder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli"

	"github.com/katello/grinder/cmd/grinder/common"
	"github.com/katello/grinder/pkg/credman"
	"github.com/katello/grinder/pkg/logger"
)

var (
	credUsername string
	credPassword string
	credToken    string

	credFlags = []cli.Flag{
		cli.StringFlag{Name: "username, u", Usage: "repository username", Destination: &credUsername},
		cli.StringFlag{Name: "password, p", Usage: "repository password", Destination: &credPassword},
		cli.StringFlag{Name: "token, t", Usage: "repository bearer token (alternative to username/password)", Destination: &credToken},
	}
)

// credCmd groups credential storage subcommands, wiring pkg/credman's OS
// keyring (with file fallback) as the CLI collaborator's credential store.
var credCmd = cli.Command{
	Name:  "cred",
	Usage: "store or remove repository credentials",
	Subcommands: []cli.Command{
		{
			Name:         "put",
			Usage:        "store credentials for a repo label",
			ArgsUsage:    "<repo-label>",
			OnUsageError: common.UsageErrorCallback,
			Flags:        credFlags,
			Action:       credPut,
		},
		{
			Name:         "delete",
			Usage:        "remove stored credentials for a repo label",
			ArgsUsage:    "<repo-label>",
			OnUsageError: common.UsageErrorCallback,
			Action:       credDelete,
		},
	},
}

func newCredStore() (*credman.Store, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("locate config directory: %w", err)
	}
	return credman.NewStore(filepath.Join(configDir, "grinder"), logger.NewNopLogger()), nil
}

func credPut(ctx *cli.Context) error {
	label := ctx.Args().First()
	if label == "" {
		return common.PrintErrWithCmdHelp(ctx, errors.New("no repo label provided"))
	}
	if credUsername == "" && credToken == "" {
		return common.PrintErrWithCmdHelp(ctx, errors.New("either --username/--password or --token is required"))
	}
	store, err := newCredStore()
	if err != nil {
		common.PrintRuntimeErr(ctx, "cred", "put", err)
		return nil
	}
	cred := credman.RepoCredential{Username: credUsername, Password: credPassword, Token: credToken}
	if err := store.Put(label, cred); err != nil {
		common.PrintRuntimeErr(ctx, "cred", "put", err)
		return nil
	}
	fmt.Printf("stored credentials for %s\n", label)
	return nil
}

func credDelete(ctx *cli.Context) error {
	label := ctx.Args().First()
	if label == "" {
		return common.PrintErrWithCmdHelp(ctx, errors.New("no repo label provided"))
	}
	store, err := newCredStore()
	if err != nil {
		common.PrintRuntimeErr(ctx, "cred", "delete", err)
		return nil
	}
	if err := store.Delete(label); err != nil {
		common.PrintRuntimeErr(ctx, "cred", "delete", err)
		return nil
	}
	fmt.Printf("removed credentials for %s\n", label)
	return nil
}
