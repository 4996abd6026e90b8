package main

import (
	"fmt"

	"followsync/pkg/auth"
	"followsync/pkg/config"
	"followsync/pkg/harvest"
	"followsync/pkg/logger"
	"followsync/pkg/metrics"
	"followsync/pkg/ratelimit"
	"followsync/pkg/store"
	"followsync/pkg/syncer"
	"followsync/pkg/tweetapi"
)

// app wires the sync engine from a configuration
type app struct {
	cfg       *config.Config
	log       logger.Logger
	kv        store.KV
	snapshots *store.SnapshotStore
	client    *tweetapi.Client
	metrics   *metrics.Metrics
	syncer    *syncer.Syncer
}

// newApp builds every component. pages, when set, also receives page
// outcomes of every harvest.
func newApp(cfg *config.Config, pages harvest.PageObserver) (*app, error) {
	log := logger.GetLogger()

	if cfg.API.APIKey == "" {
		if cred, err := resolveCredential(); err == nil {
			cfg.API.APIKey = cred.APIKey
			if cred.BaseURL != "" {
				cfg.API.BaseURL = cred.BaseURL
			}
			log.WithField("profile", cred.Profile).Debug("Using stored API key")
		}
	}

	opts, err := tweetapi.OptionsFromConfig(cfg.API)
	if err != nil {
		return nil, err
	}
	opts.Limiter, err = ratelimit.FromConfig(cfg.RateLimit)
	if err != nil {
		return nil, err
	}
	opts.Logger = log.WithField("component", "tweetapi")
	client := tweetapi.NewClient(opts)

	kv, err := store.Open(cfg.Store, log)
	if err != nil {
		return nil, err
	}
	snapshots := store.NewSnapshotStore(kv, store.Options{
		Retention:    cfg.Sync.Retention,
		FollowingTTL: cfg.Sync.FollowingCacheTTL,
		Logger:       log.WithField("component", "store"),
	})

	m := metrics.New()
	observers := harvest.Observers{m}
	if pages != nil {
		observers = append(observers, pages)
	}

	harvestOpts := func(list string) harvest.Options {
		return harvest.Options{
			MaxPages:         cfg.Harvest.MaxPages,
			PageDelay:        cfg.Harvest.PageDelay,
			RateLimitBackoff: cfg.Harvest.RateLimitBackoff,
			List:             list,
			Logger:           log.WithField("component", "harvest"),
			Observer:         observers,
		}
	}

	s := syncer.New(syncer.Deps{
		Followers:   harvest.New(client, harvestOpts("followers")),
		Following:   harvest.New(client.Following(), harvestOpts("following")),
		Credentials: client,
		Store:       snapshots,
		Observer:    m,
	}, syncer.Options{
		MinInterval: cfg.Sync.MinInterval,
		LockTTL:     cfg.Sync.LockTTL,
		Logger:      log.WithField("component", "syncer"),
	})

	return &app{
		cfg:       cfg,
		log:       log,
		kv:        kv,
		snapshots: snapshots,
		client:    client,
		metrics:   m,
		syncer:    s,
	}, nil
}

// Close releases the store backend
func (a *app) Close() error {
	if err := a.kv.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}

func resolveCredential() (*auth.Credential, error) {
	manager, err := auth.NewManager()
	if err != nil {
		return nil, err
	}
	return manager.Retrieve(profile)
}
