package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/alecthomas/kong"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dvolk/shelfcache/internal"
)

// cli is the root command surface: four maintenance subcommands, none
// of which serve live traffic -- HTTP serving is out of scope, so
// unlike the teacher's cli{Serve, Bust} there is no listener here.
type cli struct {
	MigrateBooks      migrateBooksCmd      `cmd:"" name:"migrate-books" help:"Consolidate the legacy object-cache keyspace into canonical books."`
	MigrateLists      migrateListsCmd      `cmd:"" name:"migrate-lists" help:"Replay legacy list snapshots into book_lists."`
	CleanupCovers     cleanupCoversCmd     `cmd:"" name:"cleanup-covers" help:"Quarantine cover URLs that no longer resolve."`
	RefreshSearchView refreshSearchViewCmd `cmd:"" name:"refresh-search-view" help:"Force a materialised search view refresh."`
}

type migrateBooksCmd struct {
	internal.CommonConfig

	Prefix string `default:"books/" help:"Legacy object-cache key prefix to scan."`
	Max    int    `help:"Not applied: migrate-books processes every key under --prefix."`
	Skip   int    `help:"Not applied: migrate-books starts at the first key under --prefix."`
	DryRun bool   `help:"Compute the migration without writing or deleting anything."`
}

func (c *migrateBooksCmd) Run() error {
	_ = c.LogConfig.Run()
	ctx, cancel := signalContext()
	defer cancel()

	deps, err := buildDeps(ctx, c.CommonConfig)
	if err != nil {
		return exitErr(1, "setting up dependencies: %w", err)
	}

	cfg := internal.DefaultConsolidationConfig()
	cfg.Prefix = c.Prefix
	cfg.DryRun = c.DryRun

	om := internal.NewOperationsMetrics(deps.registry)
	consolidator := internal.NewConsolidator(deps.object, deps.store, deps.resolver, nil, cfg).
		WithMetrics(om)

	summary, err := consolidator.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return exitErr(3, "migrate-books aborted: %w", err)
		}
		return exitErr(1, "migrate-books failed: %w", err)
	}

	internal.Log(ctx).Info("migrate-books complete",
		"processed", summary.ConceptualBooksProcessed,
		"migrated", summary.Migrated,
		"merged", summary.Merged,
		"deleted", summary.OldKeysDeleted,
		"minted", summary.NewUUIDsGenerated,
		"errors", len(summary.Errors))

	if len(summary.Errors) > 0 {
		for _, e := range summary.Errors {
			internal.Log(ctx).Warn("migrate-books error", "err", e)
		}
		return exitErr(2, "migrate-books completed with %d errors", len(summary.Errors))
	}
	return nil
}

type migrateListsCmd struct {
	internal.CommonConfig

	Provider string `help:"Provider label to stamp onto migrated lists."`
	Prefix   string `default:"lists/" help:"Legacy object-cache key prefix to scan."`
	Max      int    `help:"Stop after processing this many lists (0 = unlimited)."`
	Skip     int    `help:"Skip this many keys before starting."`
	DryRun   bool   `help:"Compute the migration without writing anything."`
}

func (c *migrateListsCmd) Run() error {
	_ = c.LogConfig.Run()
	ctx, cancel := signalContext()
	defer cancel()

	deps, err := buildDeps(ctx, c.CommonConfig)
	if err != nil {
		return exitErr(1, "setting up dependencies: %w", err)
	}

	cfg := internal.DefaultListMigrationConfig()
	cfg.Provider = c.Provider
	cfg.Prefix = c.Prefix
	cfg.Max = c.Max
	cfg.Skip = c.Skip
	cfg.DryRun = c.DryRun

	migrator := internal.NewListMigrator(deps.object, deps.store, deps.resolver, cfg)

	summary, err := migrator.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return exitErr(3, "migrate-lists aborted: %w", err)
		}
		return exitErr(1, "migrate-lists failed: %w", err)
	}

	internal.Log(ctx).Info("migrate-lists complete",
		"lists", summary.ListsProcessed,
		"items", summary.ItemsResolved,
		"errors", len(summary.Errors))

	if len(summary.Errors) > 0 {
		return exitErr(2, "migrate-lists completed with %d errors", len(summary.Errors))
	}
	return nil
}

type cleanupCoversCmd struct {
	internal.CommonConfig

	Batch      int    `default:"200" help:"Page size for the books-with-covers scan."`
	Quarantine string `default:"quarantine/covers/" help:"Object-cache key prefix for quarantine records."`
	DryRun     bool   `help:"Report broken covers without quarantining them."`
}

func (c *cleanupCoversCmd) Run() error {
	_ = c.LogConfig.Run()
	ctx, cancel := signalContext()
	defer cancel()

	deps, err := buildDeps(ctx, c.CommonConfig)
	if err != nil {
		return exitErr(1, "setting up dependencies: %w", err)
	}

	cfg := internal.DefaultCoverCleanupConfig()
	cfg.BatchSize = c.Batch
	cfg.Quarantine = c.Quarantine
	cfg.DryRun = c.DryRun

	cleaner := internal.NewCoverCleaner(deps.store, deps.object, deps.httpClient, cfg)

	summary, err := cleaner.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return exitErr(3, "cleanup-covers aborted: %w", err)
		}
		return exitErr(1, "cleanup-covers failed: %w", err)
	}

	internal.Log(ctx).Info("cleanup-covers complete",
		"checked", summary.Checked,
		"quarantined", summary.Quarantined,
		"errors", len(summary.Errors))

	if len(summary.Errors) > 0 {
		return exitErr(2, "cleanup-covers completed with %d errors", len(summary.Errors))
	}
	return nil
}

type refreshSearchViewCmd struct {
	internal.CommonConfig

	Force bool `help:"Bypass the debounce window and refresh immediately."`
}

func (c *refreshSearchViewCmd) Run() error {
	_ = c.LogConfig.Run()
	ctx, cancel := signalContext()
	defer cancel()

	deps, err := buildDeps(ctx, c.CommonConfig)
	if err != nil {
		return exitErr(1, "setting up dependencies: %w", err)
	}

	scheduler := internal.NewScheduler(internal.DefaultSchedulerConfig(), nil, deps.store, nil, deps.resolver)
	if err := scheduler.RefreshSearchView(ctx, c.Force); err != nil {
		if ctx.Err() != nil {
			return exitErr(3, "refresh-search-view aborted: %w", err)
		}
		return exitErr(1, "refresh-search-view failed: %w", err)
	}
	internal.Log(ctx).Info("search view refreshed")
	return nil
}

// deps is the composition root every subcommand builds and tears down
// for itself -- each CLI invocation is a one-shot batch job, not a
// long-lived server, so there's no shared process-wide wiring to
// amortise across commands.
type deps struct {
	store      *internal.Store
	object     *internal.ObjectCache
	resolver   *internal.Resolver
	httpClient *http.Client
	registry   *prometheus.Registry
}

func buildDeps(ctx context.Context, cfg internal.CommonConfig) (*deps, error) {
	reg := internal.NewMetrics()

	var store *internal.Store
	if cfg.DatabaseEnabled {
		pool, err := internal.NewDB(ctx, cfg.DSN())
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		store = internal.NewStore(pool)
	} else {
		store = internal.NewStore(nil)
	}

	var objectCache *internal.ObjectCache
	if cfg.Bucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("loading aws config: %w", err)
		}
		s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = &cfg.Endpoint
			}
			o.UsePathStyle = cfg.Endpoint != ""
		})
		objectCache = internal.NewObjectCache(s3Client, cfg.toObjectCacheConfig())
	} else {
		objectCache = internal.NewObjectCache(nil, cfg.toObjectCacheConfig())
	}

	resolver := internal.NewResolver(store)

	httpClient := &http.Client{}

	return &deps{
		store:      store,
		object:     objectCache,
		resolver:   resolver,
		httpClient: httpClient,
		registry:   reg,
	}, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM, so a
// long migrate-books or cleanup-covers pass can stop cleanly mid-batch
// instead of being killed outright.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// cliError tags an error with the process exit code it should produce,
// per the 0/1/2/3 contract: configuration error, partial failure, and
// aborted-by-signal respectively.
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }
func (e *cliError) Unwrap() error { return e.err }

func exitErr(code int, format string, args ...any) error {
	return &cliError{code: code, err: fmt.Errorf(format, args...)}
}

func main() {
	kctx := kong.Parse(&cli{})
	err := kctx.Run()
	if err == nil {
		os.Exit(0)
	}

	internal.Log(context.Background()).Error("fatal", "err", err)

	var ce *cliError
	if errors.As(err, &ce) {
		os.Exit(ce.code)
	}
	os.Exit(1)
}

func init() {
	// Limit our memory to 90% of what's free. This affects cache sizes.
	_, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(0.9),
		memlimit.WithLogger(slog.Default()),
		memlimit.WithProvider(
			memlimit.ApplyFallback(
				memlimit.FromCgroup,
				memlimit.FromSystem,
			),
		),
	)
	if err != nil {
		panic(err)
	}
}
