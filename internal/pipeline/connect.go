package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"vdicollect/internal/config"
	"vdicollect/internal/rest"
)

// NewClient builds the REST client described by cfg.
func NewClient(cfg *config.Config, logger *slog.Logger) *rest.Client {
	return rest.NewClient(cfg.BaseURL(), rest.Options{
		Timeout:            cfg.Server.Timeout,
		InsecureSkipVerify: cfg.Server.InsecureSkipVerify,
		Retries:            cfg.Collect.Retries,
		RequestsPerSecond:  cfg.Collect.RequestsPerSecond,
		Logger:             logger,
	})
}

// Connect logs in to the server named by cfg and returns a collection
// bound to the issued token.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Collection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := NewClient(cfg, logger)
	token, err := rest.Login(ctx, client, rest.Credentials{
		Username: cfg.Credentials.Username,
		Password: cfg.Credentials.Password,
		Domain:   cfg.Credentials.Domain,
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", client.BaseURL(), err)
	}
	return New(client, token, Options{
		PageSize:        cfg.Collect.PageSize,
		ParallelGlobals: cfg.Collect.ParallelGlobals,
		EnrichWorkers:   cfg.Collect.EnrichWorkers,
		Server:          client.BaseURL(),
	}, logger), nil
}
