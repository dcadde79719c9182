// Package cmd is the IP checking service entry point.  It contains the
// environment configuration utilities, the service builder, and the signal
// processing logic.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"runtime"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/sentryutil"
	"github.com/ssfun/ip-check/internal/metrics"
	"github.com/ssfun/ip-check/internal/version"
	"golang.org/x/sys/unix"
)

// Main is the entry point of application.
func Main() {
	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)

	envs := errors.Must(parseEnvironment())
	errors.Check(envs.Validate())

	lvl := errors.Must(slogutil.VerbosityToLevel(envs.Verbosity))
	baseLogger := slogutil.New(&slogutil.Config{
		// Don't use [slogutil.NewFormat] here, because the value is validated.
		Format:       slogutil.Format(envs.LogFormat),
		AddTimestamp: bool(envs.LogTimestamp),
		Level:        lvl,
	})

	sentryutil.SetDefaultLogger(baseLogger, "")

	mainLogger := baseLogger.With(slogutil.KeyPrefix, "main")

	// Signal service startup now that we have the logs set up.
	branch := version.Branch()
	commitTime := version.CommitTime()
	buildVersion := version.Version()
	revision := version.Revision()
	mainLogger.InfoContext(
		ctx,
		"ipcheck starting",
		"version", buildVersion,
		"revision", revision,
		"branch", branch,
		"commit_time", commitTime,
	)

	errColl := errors.Must(envs.buildErrColl())

	// Building and running the services.

	b := newBuilder(&builderConfig{
		envs:       envs,
		baseLogger: baseLogger,
		errColl:    errColl,
	})

	errors.Check(b.initKV(ctx))

	errors.Check(b.initProviders(ctx))

	errors.Check(b.initAggregator(ctx))

	errors.Check(b.initAI(ctx))

	errors.Check(b.initResolver(ctx))

	errors.Check(b.initWeb(ctx))

	b.mustInitDebugSvc(ctx)

	// Signal that the server is started.
	errors.Check(metrics.SetUpGauge(
		b.promRegisterer,
		buildVersion,
		commitTime,
		branch,
		revision,
		runtime.Version(),
	))

	// Unregister the signal behavior for ctx.
	stop()
	ctx = context.WithoutCancel(ctx)

	os.Exit(b.handleSignals(ctx))
}
