// Command release-publisher builds a project archive and publishes its
// per-architecture libraries and the archive itself to release-registry.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/animus-labs/codepush/internal/domain"
	"github.com/animus-labs/codepush/internal/project"
	"github.com/animus-labs/codepush/internal/publish"
	"github.com/animus-labs/codepush/internal/registryclient"
	"github.com/animus-labs/codepush/internal/toolchain"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	version           string
	projectDir        string
	archive           string
	toolchainRevision string
	registryURL       string
	concurrency       int
	workDir           string
	verbose           bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var opts options
	flagSet := pflag.NewFlagSet("release-publisher", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&opts.version, "version", "", "release version to publish (required)")
	flagSet.StringVar(&opts.projectDir, "project-dir", ".", "directory containing "+project.FileName)
	flagSet.StringVar(&opts.archive, "archive", "", "publish this archive instead of running the build command")
	flagSet.StringVar(&opts.toolchainRevision, "toolchain-revision", "", "toolchain revision recorded on a new release")
	flagSet.StringVar(&opts.registryURL, "registry-url", "", "release-registry base URL (default $CODEPUSH_REGISTRY_URL)")
	flagSet.IntVar(&opts.concurrency, "concurrency", 1, "parallel architecture uploads")
	flagSet.StringVar(&opts.workDir, "work-dir", "", "extraction directory (default: a temporary directory)")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(stdout, flagSet)
			return publish.ExitSuccess
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return publish.ExitUsage
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(stdout, flagSet)
		return publish.ExitSuccess
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		fmt.Fprintf(stderr, "error: unexpected argument: %s\n", rest[0])
		return publish.ExitUsage
	}
	if opts.version == "" {
		fmt.Fprintln(stderr, "error: --version is required")
		return publish.ExitUsage
	}
	if opts.concurrency < 1 {
		fmt.Fprintln(stderr, "error: --concurrency must be at least 1")
		return publish.ExitUsage
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	summary, err := publishRelease(ctx, logger, opts, stdout, stderr)
	if summary != nil && summary.ReleaseID != "" {
		fmt.Fprint(stdout, summary.String())
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
	}
	return publish.ExitCode(err)
}

func publishRelease(ctx context.Context, logger *slog.Logger, opts options, stdout, stderr io.Writer) (*publish.Summary, error) {
	proj, err := project.Load(opts.projectDir)
	if err != nil {
		return nil, &publish.ConfigError{Err: err}
	}

	clientCfg, err := registryclient.ConfigFromEnv()
	if err != nil {
		return nil, &publish.ConfigError{Err: err}
	}
	if opts.registryURL != "" {
		clientCfg.BaseURL = opts.registryURL
	}
	client, err := registryclient.New(ctx, clientCfg, logger)
	if err != nil {
		return nil, &publish.ConfigError{Err: err}
	}

	builder, err := newBuilder(proj, opts.archive, stderr)
	if err != nil {
		return nil, &publish.ConfigError{Err: err}
	}

	orchestrator, err := publish.NewOrchestrator(publish.Config{
		Registry:  client,
		Builder:   builder,
		Revisions: newRevisionProvider(proj, opts.toolchainRevision),
		Reporter:  publish.NewTextReporter(stdout),
		Logger:    logger,
		Platform:  domain.PlatformAndroid,
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("publishing", "app_id", proj.AppID, "version", opts.version, "run_id", client.RunID())
	return orchestrator.Run(ctx, publish.Options{
		AppID:       proj.AppID,
		Version:     opts.version,
		WorkDir:     opts.workDir,
		Concurrency: opts.concurrency,
		Preconditions: []publish.Precondition{project.Precondition(proj.Dir)},
	})
}

func newBuilder(proj project.Project, archive string, buildOutput io.Writer) (publish.Builder, error) {
	switch {
	case archive != "":
		abs, err := filepath.Abs(archive)
		if err != nil {
			return nil, err
		}
		return toolchain.PrebuiltArchive(abs), nil
	case proj.Build.Command != "":
		return toolchain.CommandBuilder{
			Dir:         proj.Dir,
			Command:     proj.Build.Command,
			ArchivePath: proj.ArchivePath(),
			Output:      buildOutput,
		}, nil
	case proj.Build.Archive != "":
		return toolchain.PrebuiltArchive(proj.ArchivePath()), nil
	default:
		return nil, errors.New("nothing to publish: set build.command or build.archive in " + project.FileName + ", or pass --archive")
	}
}

// newRevisionProvider prefers the flag, then the pinned revision, then the
// toolchain checkout. Without any of them only existing releases can be
// published to.
func newRevisionProvider(proj project.Project, flagRevision string) publish.RevisionProvider {
	switch {
	case flagRevision != "":
		return toolchain.StaticRevision(flagRevision)
	case proj.Toolchain.Revision != "":
		return toolchain.StaticRevision(proj.Toolchain.Revision)
	case proj.Toolchain.Dir != "":
		return toolchain.GitRevision{Dir: proj.ToolchainDir()}
	default:
		return publish.RevisionFunc(func(context.Context) (string, error) {
			return "", errors.New("toolchain revision unknown: set toolchain.dir or toolchain.revision, or pass --toolchain-revision")
		})
	}
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `release-publisher builds the project archive and publishes it to release-registry.

Each architecture library inside the archive and the archive itself become
artifacts of the release for --version. Re-running after a failure resumes:
artifacts that already exist with the same content are skipped.

Usage:
  release-publisher --version <version> [flags]

Flags:
%s
Environment:
  CODEPUSH_REGISTRY_URL     registry base URL
  CODEPUSH_TOKEN            static bearer token
  CODEPUSH_CLIENT_ID        client-credentials client id
  CODEPUSH_CLIENT_SECRET    client-credentials secret
  CODEPUSH_TOKEN_URL        client-credentials token endpoint

Exit codes: 0 success, 64 usage, 70 failure, 78 configuration.
`, flagSet.FlagUsages())
}
