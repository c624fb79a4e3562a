package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/vango-dev/pulse/internal/config"
	"github.com/vango-dev/pulse/internal/errors"
	"github.com/vango-dev/pulse/pkg/hub"
	"github.com/vango-dev/pulse/pkg/store"
	"github.com/vango-dev/pulse/pkg/store/filestore"
	"github.com/vango-dev/pulse/pkg/store/memory"
	"github.com/vango-dev/pulse/pkg/store/s3store"
)

// openAdapter builds the storage adapter named by the configuration.
func openAdapter(cfg *config.Config, logger *slog.Logger) (store.Adapter, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return memory.NewBackend().Context(), nil

	case config.BackendFile:
		fs, err := filestore.New(cfg.StoragePath(), filestore.WithLogger(logger.With("component", "filestore")))
		if err != nil {
			return nil, err
		}
		return fs, nil

	case config.BackendS3:
		return s3store.New(newS3Client(cfg), cfg.Storage.Bucket,
			s3store.WithPrefix(cfg.Storage.Prefix),
			s3store.WithPollInterval(cfg.PollInterval()),
			s3store.WithLogger(logger.With("component", "s3store", "bucket", cfg.Storage.Bucket)),
		), nil

	case config.BackendHub:
		client, err := hub.NewClient(cfg.Storage.HubURL, hub.WithClientLogger(logger.With("component", "hub-client")))
		if err != nil {
			return nil, err
		}
		return client, nil

	default:
		return nil, errors.New(errors.CodeUnknownStore).WithDetailf("storage.backend = %q", cfg.Storage.Backend)
	}
}

// codecFor returns the configured value codec.
func codecFor(cfg *config.Config) store.Codec {
	if c := store.CodecByName(cfg.Storage.Codec); c != nil {
		return c
	}
	return store.JSON{}
}

func newS3Client(cfg *config.Config) *s3.Client {
	region := cfg.Storage.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	opts := s3.Options{
		Region:      region,
		Credentials: aws.NewCredentialsCache(aws.CredentialsProviderFunc(envCredentials)),
	}
	if cfg.Storage.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts)
}

// envCredentials reads static credentials from the standard AWS variables.
func envCredentials(context.Context) (aws.Credentials, error) {
	id := os.Getenv("AWS_ACCESS_KEY_ID")
	secret := os.Getenv("AWS_SECRET_ACCESS_KEY")
	if id == "" || secret == "" {
		return aws.Credentials{}, errors.New(errors.CodeInvalidConfig).
			WithDetail("s3 credentials not found").
			WithSuggestion("Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY.")
	}
	return aws.Credentials{
		AccessKeyID:     id,
		SecretAccessKey: secret,
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		Source:          "environment",
	}, nil
}
