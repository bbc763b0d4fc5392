package grinder

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/urfave/cli"

	"github.com/katello/grinder/internal/metasource"
	"github.com/katello/grinder/pkg/childproc"
)

// readerChildConfigEnv carries a JSON-encoded metasource.ReaderConfig from
// a ChildMetadataReader's Spawner to the re-exec'd child instance of this
// same binary, the same shape cmd/daemon.go uses to hand a backgrounded
// daemon its startup config through the environment rather than flags.
const readerChildConfigEnv = "GRINDER_READER_CHILD_CONFIG"

// serveReaderCommandName is the hidden subcommand a ChildMetadataReader's
// Spawner re-execs this binary into. It is not listed in GetApp's visible
// commands; the only caller is the parent process spawning its own child.
const serveReaderCommandName = "__serve-reader"

var serveReaderCmd = cli.Command{
	Name:   serveReaderCommandName,
	Hidden: true,
	Action: serveReaderAction,
}

// serveReaderAction is the entire body of a childproc-isolated metadata
// reader process: it decodes its ReaderConfig from the environment and
// serves it over stdin/stdout until the parent closes the pipe.
func serveReaderAction(ctx *cli.Context) error {
	raw := os.Getenv(readerChildConfigEnv)
	if raw == "" {
		return fmt.Errorf("%s: missing reader config", serveReaderCommandName)
	}
	var cfg metasource.ReaderConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return fmt.Errorf("%s: decode reader config: %w", serveReaderCommandName, err)
	}
	return metasource.ServeReaderChild(cfg)
}

// readerChildSpawner returns a childproc.Spawner that re-execs the current
// binary into serveReaderCmd with cfg passed through the environment,
// isolating cfg.Kind's metadata parsing in its own process.
func readerChildSpawner(cfg metasource.ReaderConfig) (childproc.Spawner, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("isolate-reader: resolve own executable: %w", err)
	}
	encoded, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("isolate-reader: encode reader config: %w", err)
	}
	return func() (*exec.Cmd, error) {
		cmd := exec.Command(self, serveReaderCommandName)
		cmd.Env = append(os.Environ(), readerChildConfigEnv+"="+string(encoded))
		cmd.Stderr = os.Stderr
		return cmd, nil
	}, nil
}
