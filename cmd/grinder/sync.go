package grinder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/katello/grinder/cmd/grinder/common"
	"github.com/katello/grinder/internal/metasource"
	"github.com/katello/grinder/pkg/credman"
	"github.com/katello/grinder/pkg/fetchengine"
	"github.com/katello/grinder/pkg/logger"
	"github.com/katello/grinder/pkg/progresshub"
)

var (
	syncSourceType string
	syncURL        string
	syncRepoLabel  string
	syncBasePath   string
	syncSharedPath string
	syncParallel   int
	syncMaxSpeed   int64

	syncProxyURL    string
	syncCACert      string
	syncClientCert  string
	syncClientKey   string
	syncSSLVerify   bool
	syncSkipVerify  bool
	syncNoChecksum  bool
	syncForce       bool
	syncIsolateRead bool
	syncPurgeOrphan bool
	syncRemoveOld   bool
	syncNumOld      int

	syncUsername string
	syncPassword string

	syncProgressAddr string
	syncLogFile      string

	syncFlags = []cli.Flag{
		cli.StringFlag{Name: "source-type", Usage: "metadata source: yum, rhn, or file", Value: "file", Destination: &syncSourceType},
		cli.StringFlag{Name: "url", Usage: "repository root URL", Destination: &syncURL},
		cli.StringFlag{Name: "repo-label", Usage: "repository label, names the destination subdirectory", Destination: &syncRepoLabel},
		cli.StringFlag{Name: "basepath", Usage: "local directory repositories are mirrored under", Value: "./", Destination: &syncBasePath},
		cli.StringFlag{Name: "shared-store", Usage: "optional content-addressed store shared across repo labels", Destination: &syncSharedPath},
		cli.IntFlag{Name: "parallel", Usage: "number of concurrent downloads", Value: DefParallelism, Destination: &syncParallel},
		cli.Int64Flag{Name: "max-speed", Usage: "bandwidth cap in KB/s per download (0 = unlimited)", Destination: &syncMaxSpeed},

		cli.StringFlag{Name: "proxy", Usage: "proxy URL (scheme://[user[:pass]@]host:port)", Destination: &syncProxyURL},
		cli.StringFlag{Name: "ca-cert", Usage: "path to a CA certificate to verify the server against", Destination: &syncCACert},
		cli.StringFlag{Name: "client-cert", Usage: "path to a client certificate for mutual TLS", Destination: &syncClientCert},
		cli.StringFlag{Name: "client-key", Usage: "path to the client certificate's private key", Destination: &syncClientKey},
		cli.BoolTFlag{Name: "ssl-verify", Usage: "verify the server's TLS certificate (enabled by default; pass --ssl-verify=false to disable verification)", Destination: &syncSSLVerify},

		cli.BoolFlag{Name: "skip-verify-size", Usage: "do not verify existing files' size before skipping them", Destination: &syncSkipVerify},
		cli.BoolFlag{Name: "skip-verify-checksum", Usage: "do not verify existing files' checksum before skipping them", Destination: &syncNoChecksum},
		cli.BoolFlag{Name: "force", Usage: "re-download every descriptor regardless of what's already on disk", Destination: &syncForce},
		cli.BoolFlag{Name: "isolate-reader", Usage: "run the metadata reader in an isolated child process", Destination: &syncIsolateRead},

		cli.BoolFlag{Name: "purge-orphaned", Usage: "remove on-disk files no longer named by the repository", Destination: &syncPurgeOrphan},
		cli.BoolFlag{Name: "remove-old", Usage: "prune old package revisions after syncing", Destination: &syncRemoveOld},
		cli.IntFlag{Name: "num-old-packages", Usage: "number of old revisions to retain when --remove-old is set", Value: DefNumOldPackages, Destination: &syncNumOld},

		cli.StringFlag{Name: "username", Usage: "repository username (overrides any stored credential)", Destination: &syncUsername},
		cli.StringFlag{Name: "password", Usage: "repository password (overrides any stored credential)", Destination: &syncPassword},

		cli.StringFlag{Name: "progress-listen", Usage: "optional host:port to serve a live WebSocket progress feed on", Destination: &syncProgressAddr},
		cli.StringFlag{Name: "log-file", Usage: "optional path to also append log output to, in addition to stderr", Destination: &syncLogFile},
	}
)

// syncAction is the "sync" command's Action: it wires a metadata source,
// transport configuration, and a fetchengine.Driver, then runs one
// repository mirror to completion.
func syncAction(ctx *cli.Context) error {
	if syncURL == "" {
		return common.PrintErrWithCmdHelp(ctx, errors.New("--url is required"))
	}
	if syncRepoLabel == "" {
		return common.PrintErrWithCmdHelp(ctx, errors.New("--repo-label is required"))
	}

	stderrLog := logger.NewStandardLogger(log.New(os.Stderr, "", log.LstdFlags))
	var fileLog logger.Logger
	if syncLogFile != "" {
		f, err := os.OpenFile(syncLogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			common.PrintRuntimeErr(ctx, "sync", "log-file", err)
			return cli.NewExitError("", 1)
		}
		defer f.Close()
		fileLog = logger.NewStandardLogger(log.New(f, "", log.LstdFlags))
	}
	var syncLog logger.Logger = stderrLog
	if fileLog != nil {
		syncLog = logger.NewMultiLogger(stderrLog, fileLog)
	}
	log := syncLog

	transport, err := buildTransportOpts()
	if err != nil {
		common.PrintRuntimeErr(ctx, "sync", "transport", err)
		return cli.NewExitError("", 1)
	}

	applyStoredCredential(log)

	reader, closeReader, err := buildReader(transport, log)
	if err != nil {
		common.PrintRuntimeErr(ctx, "sync", "reader", err)
		return cli.NewExitError("", 1)
	}
	if closeReader != nil {
		defer closeReader()
	}

	destPath := filepath.Join(syncBasePath, syncRepoLabel)
	if err := os.MkdirAll(destPath, 0o755); err != nil {
		common.PrintRuntimeErr(ctx, "sync", "mkdir", err)
		return cli.NewExitError("", 1)
	}

	progress := mpb.New(mpb.WithWidth(64))
	bars := newTypeBars(progress)

	driverCfg := fetchengine.DriverConfig{
		RepoLabel:   syncRepoLabel,
		BasePath:    syncBasePath,
		Parallelism: syncParallel,
		FetcherConfig: fetchengine.FetcherConfig{
			Transport: transport,
			Verify:    verifyOptionsFromFlags(),
			Force:     syncForce,
			Log:       log,
		},
		WorkerPoolConf: fetchengine.WorkerPoolConfig{Parallelism: syncParallel, Log: log},
		PurgeOrphaned:  syncPurgeOrphan,
		RemoveOld:      syncRemoveOld,
		NumOldPackages: syncNumOld,
		Progress:       bars.update,
		Log:            log,
	}

	var reportCallback fetchengine.ReportCallback
	if syncProgressAddr != "" {
		hub := progresshub.New(log)
		httpSrv := &http.Server{Addr: syncProgressAddr, Handler: hub.Handler()}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warning("progresshub: serve: %v", err)
			}
		}()
		defer httpSrv.Close()
		reportCallback = hub.Broadcast
		fmt.Printf("grinder: progress feed listening on ws://%s\n", syncProgressAddr)
	}

	driver := fetchengine.NewDriver(driverCfg, reader)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	installSignalHandler(driver, cancel)

	fmt.Printf(">> Syncing %s from %s <<\n", syncRepoLabel, syncURL)
	report, err := driver.Sync(runCtx, reportCallback)
	progress.Wait()
	if err != nil {
		common.PrintRuntimeErr(ctx, "sync", "run", err)
		return cli.NewExitError("", 1)
	}

	printSummary(syncRepoLabel, driver.Progress(), report)
	if hasUnauthorized(report) {
		return cli.NewExitError("", 1)
	}
	return nil
}

// verifyOptionsFromFlags starts from the engine's default (verify
// everything) and drops only the checks the user explicitly skipped.
func verifyOptionsFromFlags() fetchengine.VerifyOptions {
	verify := fetchengine.DefaultVerifyOptions()
	if syncSkipVerify {
		verify.Size = false
	}
	if syncNoChecksum {
		verify.Checksum = false
	}
	return verify
}

// buildTransportOpts translates flags into fetchengine.TransportOpts,
// surfacing a malformed proxy URL or a proxy user given without a
// password as a synchronous configuration error, fatal for the sync
// before any network I/O starts.
func buildTransportOpts() (*fetchengine.TransportOpts, error) {
	opts := &fetchengine.TransportOpts{
		CACertPath:  syncCACert,
		ClientCert:  syncClientCert,
		ClientKey:   syncClientKey,
		SSLVerify:   syncSSLVerify,
		MaxSpeedKBs: syncMaxSpeed,
	}
	if syncProxyURL != "" {
		proxyCfg, err := fetchengine.ParseProxyURL(syncProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid --proxy: %w", err)
		}
		if proxyCfg.Username != "" && proxyCfg.Password == "" {
			return nil, errors.New("--proxy specifies a user but no password")
		}
		opts.Proxy = proxyCfg
	}
	return opts, nil
}

// applyStoredCredential looks up a credential for syncRepoLabel in
// pkg/credman's Store when --username/--password were not given on the
// command line, and folds it into the proxy-style basic-auth fields the
// HTTP source already understands via the URL's userinfo.
func applyStoredCredential(log logger.Logger) {
	if syncUsername != "" || syncPassword != "" {
		if syncUsername != "" {
			syncURL = withBasicAuth(syncURL, syncUsername, syncPassword)
		}
		return
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return
	}
	store := credman.NewStore(filepath.Join(configDir, "grinder"), log)
	cred, err := store.Get(syncRepoLabel)
	if err != nil {
		return
	}
	syncUsername = cred.Username
	syncPassword = cred.Password
	if syncUsername != "" {
		syncURL = withBasicAuth(syncURL, syncUsername, syncPassword)
	}
}

func withBasicAuth(rawURL, username, password string) string {
	scheme, rest, ok := strings.Cut(rawURL, "://")
	if !ok {
		return rawURL
	}
	auth := username
	if password != "" {
		auth += ":" + password
	}
	return scheme + "://" + auth + "@" + rest
}

// buildReader resolves --source-type to a metasource.MetadataReader. yum/
// rhn repomd and channel parsing are not implemented by the core engine;
// metasource.UnimplementedReader surfaces that loudly instead of silently
// no-oping. When --isolate-reader is set, the reader named by
// --source-type runs inside a childproc-isolated subprocess instead of
// this process; the returned close func tears that child down and must be
// called once the sync completes.
func buildReader(transport *fetchengine.TransportOpts, log logger.Logger) (metasource.MetadataReader, func(), error) {
	if syncIsolateRead {
		cfg, err := readerConfigFor(strings.ToLower(syncSourceType))
		if err != nil {
			return nil, nil, err
		}
		spawn, err := readerChildSpawner(cfg)
		if err != nil {
			return nil, nil, err
		}
		child := metasource.NewChildMetadataReader(spawn, log)
		return child, func() { child.Close() }, nil
	}

	switch strings.ToLower(syncSourceType) {
	case "file":
		var proxyURL string
		if transport.Proxy != nil {
			proxyURL = transport.Proxy.URL()
		}
		client, err := fetchengine.NewHTTPClientWithProxy(proxyURL)
		if err != nil {
			client = http.DefaultClient
		}
		return &metasource.FileManifestReader{
			RepoURL:         syncURL,
			SavePath:        filepath.Join(syncBasePath, syncRepoLabel),
			SharedStorePath: syncSharedPath,
			Client:          client,
		}, nil, nil
	case "yum":
		return &metasource.UnimplementedReader{Kind: metasource.KindYum}, nil, nil
	case "rhn":
		return &metasource.UnimplementedReader{Kind: metasource.KindRHN}, nil, nil
	default:
		return &metasource.UnimplementedReader{Kind: metasource.Kind(syncSourceType)}, nil, nil
	}
}

// readerConfigFor builds the metasource.ReaderConfig a childproc-isolated
// reader needs to reconstruct itself in the child, for the source types a
// childproc.Spawner can actually serve.
func readerConfigFor(sourceType string) (metasource.ReaderConfig, error) {
	switch sourceType {
	case "file":
		return metasource.ReaderConfig{
			Kind: metasource.KindFile,
			FileManifest: &metasource.FileManifestReaderConfig{
				RepoURL:         syncURL,
				SavePath:        filepath.Join(syncBasePath, syncRepoLabel),
				SharedStorePath: syncSharedPath,
			},
		}, nil
	default:
		return metasource.ReaderConfig{}, fmt.Errorf("--isolate-reader is not supported for source type %q", sourceType)
	}
}

// installSignalHandler gives a first SIGINT/SIGTERM a graceful stop
// (Driver.Stop, exit 0) and a second signal before the first completes an
// immediate force-quit.
func installSignalHandler(driver *fetchengine.Driver, cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\ngrinder: interrupted, stopping at the next descriptor boundary (press again to force-quit)")
		driver.Stop()
		cancel()
		<-sigCh
		fmt.Println("grinder: force-quitting")
		os.Exit(0)
	}()
}

// typeBars drives one mpb progress bar per ItemType, created lazily as
// the Driver's Progress callback reports a type it hasn't seen yet.
type typeBars struct {
	progress *mpb.Progress
	bars     map[fetchengine.ItemType]*mpb.Bar
}

func newTypeBars(progress *mpb.Progress) *typeBars {
	return &typeBars{progress: progress, bars: make(map[fetchengine.ItemType]*mpb.Bar)}
}

func (b *typeBars) update(snapshot fetchengine.GlobalProgress) {
	for itemType, agg := range snapshot.ByType {
		bar, ok := b.bars[itemType]
		if !ok {
			bar = b.newBar(itemType, agg.TotalSizeBytes)
			b.bars[itemType] = bar
		}
		bar.SetTotal(agg.TotalSizeBytes, false)
		bar.SetCurrent(agg.TotalSizeBytes - agg.SizeLeft)
	}
}

func (b *typeBars) newBar(itemType fetchengine.ItemType, total int64) *mpb.Bar {
	barStyle := mpb.BarStyle().Lbound("╢").Filler("█").Tip("█").Padding("░").Rbound("╟")
	name := string(itemType) + " "
	return b.progress.New(total,
		barStyle,
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DindentRight}),
			decor.OnComplete(decor.EwmaETA(decor.ET_STYLE_GO, 30, decor.WC{W: 4}), "Complete"),
		),
		mpb.AppendDecorators(
			decor.EwmaSpeed(decor.SizeB1024(0), "% .2f", 30),
		),
	)
}

// printSummary restores GrinderCLI.py's per-repository summary line
// ("<label> packages = N", "<label> kickstarts = K"), mapping rpm/
// delta_rpm/file descriptors to "packages" and tree_file descriptors to
// "kickstarts".
func printSummary(label string, snapshot fetchengine.GlobalProgress, report fetchengine.SyncReport) {
	var packages, kickstarts int64
	for itemType, agg := range snapshot.ByType {
		switch itemType {
		case fetchengine.ItemTreeFile:
			kickstarts += agg.NumSuccess
		default:
			packages += agg.NumSuccess
		}
	}
	fmt.Printf("%s packages = %d\n", label, packages)
	if kickstarts > 0 {
		fmt.Printf("%s kickstarts = %d\n", label, kickstarts)
	}
	fmt.Printf("%s errors = %d\n", label, report.Errors)
}

func hasUnauthorized(report fetchengine.SyncReport) bool {
	for _, rec := range report.ErrorDetails {
		if rec.Status == fetchengine.StatusUnauthorized {
			return true
		}
	}
	return false
}
