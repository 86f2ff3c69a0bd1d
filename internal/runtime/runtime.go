// Package runtime assembles the core server components — the API-key
// registry, the device-auth service, and the per-app processor
// registry — into a single handle the ingestion server's handlers are
// built against. It is the "core runtime handle" the rest of the
// server depends on rather than reaching for ambient singletons (§9
// design note: global mutable state is scoped to one handle per
// process, constructible fresh in tests).
package runtime

import (
	"context"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/logsentry/logsentry/internal/apikey"
	"github.com/logsentry/logsentry/internal/classifier"
	"github.com/logsentry/logsentry/internal/deviceauth"
	"github.com/logsentry/logsentry/internal/logstore"
	"github.com/logsentry/logsentry/internal/model"
	"github.com/logsentry/logsentry/internal/processor"
)

// Config configures a Runtime.
type Config struct {
	Pepper          string
	VerificationURL string
	DSN             string
	SpoolDir        string
	SpoolMaxBytes   int64

	ClassifierConcurrency int64
}

// AppStore is the narrow contract Runtime needs from the app/key
// registry — satisfied by *appstore.Store, and by a fake in tests that
// don't want a live Postgres connection.
type AppStore interface {
	GetActiveKeyByIndex(ctx context.Context, indexKey string) (appID, keyHash string, err error)
	CreateOrGetApp(ctx context.Context, ownerID, name string) (model.App, error)
	CreateAPIKey(ctx context.Context, appID, indexKey, keyHash string) error
	GetApp(ctx context.Context, appID string) (model.App, error)
	Close()
}

// Runtime is the assembled, process-wide handle exposing the
// components the ingestion server's handlers call through.
type Runtime struct {
	Apps       AppStore
	Redis      *redis.Client
	Resolver   *apikey.Resolver
	DeviceAuth *deviceauth.Service
	LogStore   *logstore.Store
	Processors *processor.Registry

	classifierImpl classifier.Classifier
	cfg            Config
}

// New wires the given backends into a Runtime. classifierImpl may be
// nil, in which case classifier.PassthroughClassifier{} is used.
func New(apps AppStore, rdb *redis.Client, store *logstore.Store, classifierImpl classifier.Classifier, cfg Config) (*Runtime, error) {
	if classifierImpl == nil {
		classifierImpl = classifier.PassthroughClassifier{}
	}

	cache, err := apikey.NewCache()
	if err != nil {
		return nil, err
	}
	resolver := apikey.NewResolver(apps, cache, cfg.Pepper)

	devStore := deviceauth.NewStore(rdb)
	devService := deviceauth.NewService(devStore, apps, deviceauth.Config{
		Pepper:          cfg.Pepper,
		VerificationURL: cfg.VerificationURL,
		DSN:             cfg.DSN,
	})

	rt := &Runtime{
		Apps:           apps,
		Redis:          rdb,
		Resolver:       resolver,
		DeviceAuth:     devService,
		LogStore:       store,
		classifierImpl: classifierImpl,
		cfg:            cfg,
	}
	rt.Processors = processor.NewRegistry(rt.newProcessor)
	return rt, nil
}

func (rt *Runtime) newProcessor(appID string) (*processor.Processor, error) {
	spoolPath := filepath.Join(rt.cfg.SpoolDir, appID+".spool")
	return processor.New(processor.Config{
		AppID:                 appID,
		Store:                 rt.LogStore,
		Classifier:            rt.classifierImpl,
		ClassifierConcurrency: rt.cfg.ClassifierConcurrency,
		SpoolPath:             spoolPath,
		SpoolMaxBytes:         rt.cfg.SpoolMaxBytes,
	})
}

// Shutdown drains and stops every per-app processor and closes the
// backing connections.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	err := rt.Processors.Shutdown(ctx)
	rt.Apps.Close()
	_ = rt.Redis.Close()
	_ = rt.LogStore.Close()
	return err
}
