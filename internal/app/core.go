package app

import (
	"context"
	"net/http"

	"role-sync-service/internal/audit"
	"role-sync-service/internal/auth"
	"role-sync-service/internal/auth/directory"
	"role-sync-service/internal/auth/mirror"
	"role-sync-service/internal/auth/provider"
	"role-sync-service/internal/auth/rolesync"
	"role-sync-service/internal/auth/token"
	"role-sync-service/internal/config"
	"role-sync-service/internal/lock"
)

// Core is the synchronization stack shared by the HTTP server and rolectl.
type Core struct {
	Provider  *provider.Provider
	Tokens    *token.Broker
	Directory *directory.Client
	Mirror    *mirror.Client
	Sync      *rolesync.Synchronizer

	infra *Infra
}

func NewCore(ctx context.Context, cfg config.Config) (*Core, error) {
	infra, err := setupInfra(ctx, cfg)
	if err != nil {
		return nil, err
	}

	core, err := newCore(ctx, cfg, infra)
	if err != nil {
		_ = infra.Close()
		return nil, err
	}
	return core, nil
}

func newCore(ctx context.Context, cfg config.Config, infra *Infra) (*Core, error) {
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	roles := auth.NewRoleSet(cfg.AdminRoleID, cfg.AdminRoleName, cfg.UserRoleID, cfg.UserRoleName)

	p, err := provider.New(ctx, cfg.IssuerURL, httpClient)
	if err != nil {
		return nil, err
	}

	broker, err := token.New(token.Config{
		ClientID:           cfg.ClientID,
		ClientSecret:       cfg.ClientSecret,
		Endpoint:           p.Endpoint(),
		APIAudience:        cfg.APIAudience,
		ManagementAudience: cfg.ManagementAudience,
		Scopes:             cfg.Scopes,
		Timeout:            cfg.HTTPTimeout,
		ExpiryMargin:       cfg.TokenExpiryMargin,
	}, httpClient)
	if err != nil {
		return nil, err
	}

	dir, err := directory.New(cfg.ManagementURL, roles, httpClient)
	if err != nil {
		return nil, err
	}

	mir, err := mirror.New(cfg.BackendURL, httpClient)
	if err != nil {
		return nil, err
	}

	var locker lock.Locker = lock.NewLocal()
	if infra.Redis != nil {
		locker, err = lock.NewRedis(infra.Redis.Client, cfg.LockTTL)
		if err != nil {
			return nil, err
		}
	}

	var recorder rolesync.Recorder
	if infra.DB != nil {
		recorder = audit.NewPostgresRecorder(infra.DB)
	}

	syncer, err := rolesync.New(rolesync.Config{
		Tokens:     broker,
		Self:       p,
		Directory:  dir,
		Mirror:     mir,
		Locker:     locker,
		Recorder:   recorder,
		Roles:      roles,
		Connection: cfg.Connection,
	})
	if err != nil {
		return nil, err
	}

	return &Core{
		Provider:  p,
		Tokens:    broker,
		Directory: dir,
		Mirror:    mir,
		Sync:      syncer,
		infra:     infra,
	}, nil
}

func (c *Core) Close() error {
	return c.infra.Close()
}
