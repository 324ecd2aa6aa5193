/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package s3fetch resolves s3:// playlist entries to local temp files.
// OMX source components only know how to open a local path or an HTTP(S)
// stream; an s3:// entry has to be pulled down first. Resolver does that
// pull and hands back a file:// path plus a cleanup func, and WrapProber
// lets that resolution happen transparently in front of any Prober.
package s3fetch

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/tizonia-go/tizonia/internal/graphops"
)

// Config carries the S3 connection details a Resolver needs. It mirrors the
// S3* fields loaded into the process configuration.
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
	Endpoint        string // optional: MinIO, DigitalOcean Spaces, etc.
	UsePathStyle    bool
}

// Resolver downloads s3:// objects to a local scratch directory.
type Resolver struct {
	client *s3.Client
	bucket string
	tmpDir string
	logger zerolog.Logger
}

// NewResolver builds a Resolver from cfg. It does not contact S3; failures
// surface lazily on the first Resolve call.
func NewResolver(ctx context.Context, cfg Config, logger zerolog.Logger) (*Resolver, error) {
	var awsCfg aws.Config
	var err error

	credsProvider := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")

	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					HostnameImmutable: true,
					SigningRegion:     cfg.Region,
				}, nil
			}
			return aws.Endpoint{}, fmt.Errorf("unknown endpoint requested")
		})
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithEndpointResolverWithOptions(resolver),
			config.WithCredentialsProvider(credsProvider),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credsProvider),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	tmpDir, err := os.MkdirTemp("", "tizonia-s3fetch-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	return &Resolver{client: client, bucket: cfg.Bucket, tmpDir: tmpDir, logger: logger}, nil
}

// NewResolverFromClient builds a Resolver around an already-constructed S3
// client, for callers (tests, alternate credential chains) that want to
// bypass config.LoadDefaultConfig entirely.
func NewResolverFromClient(client *s3.Client, bucket, tmpDir string, logger zerolog.Logger) *Resolver {
	return &Resolver{client: client, bucket: bucket, tmpDir: tmpDir, logger: logger}
}

// IsS3URI reports whether uri names an s3:// object.
func IsS3URI(uri string) bool {
	return strings.HasPrefix(uri, "s3://")
}

// parseS3URI splits "s3://bucket/key/with/slashes" into bucket and key. A
// bare "s3://key" (no bucket segment) falls back to the Resolver's default
// bucket.
func parseS3URI(uri, defaultBucket string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("parse s3 uri: %w", err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("not an s3 uri: %s", uri)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" {
		bucket = defaultBucket
	} else {
		bucket = u.Host
	}
	if bucket == "" {
		return "", "", fmt.Errorf("no bucket in %s and no default bucket configured", uri)
	}
	if key == "" {
		return "", "", fmt.Errorf("no key in %s", uri)
	}
	return bucket, key, nil
}

// Resolve downloads the object named by an s3:// uri to a local file and
// returns its path plus a cleanup func that removes the file. Callers that
// do not need the cleanup may discard it; the resolver's scratch directory
// is still reclaimed on process exit by the OS temp cleaner on most
// platforms, but calling it promptly avoids building up unplayed downloads.
func (r *Resolver) Resolve(ctx context.Context, uri string) (localPath string, cleanup func(), err error) {
	bucket, key, err := parseS3URI(uri, r.bucket)
	if err != nil {
		return "", func() {}, err
	}

	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", func() {}, fmt.Errorf("get s3 object %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	dest := filepath.Join(r.tmpDir, sanitizeKey(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", func() {}, fmt.Errorf("create scratch subdir: %w", err)
	}

	f, err := os.Create(dest)
	if err != nil {
		return "", func() {}, fmt.Errorf("create local file: %w", err)
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		f.Close()
		os.Remove(dest)
		return "", func() {}, fmt.Errorf("download s3 object: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(dest)
		return "", func() {}, fmt.Errorf("close local file: %w", err)
	}

	r.logger.Info().Str("bucket", bucket).Str("key", key).Str("local_path", dest).Msg("resolved s3 playlist entry")

	return dest, func() { os.Remove(dest) }, nil
}

// Close removes the resolver's scratch directory and everything left in it.
func (r *Resolver) Close() error {
	return os.RemoveAll(r.tmpDir)
}

func sanitizeKey(key string) string {
	return strings.ReplaceAll(key, "..", "_")
}

// WrapProber returns a graphops.Prober that resolves s3:// uris to a local
// path before delegating the probe to inner. Non-s3 uris pass through
// untouched. The downloaded file is intentionally not cleaned up here: the
// source component instantiated right after probing still needs the same
// path, so cleanup is the caller's responsibility once the graph unloads.
func WrapProber(inner graphops.Prober, resolver *Resolver) graphops.Prober {
	return &resolvingProber{inner: inner, resolver: resolver}
}

type resolvingProber struct {
	inner    graphops.Prober
	resolver *Resolver
}

func (p *resolvingProber) Probe(ctx context.Context, uri string) (graphops.ProbeResult, error) {
	if !IsS3URI(uri) {
		return p.inner.Probe(ctx, uri)
	}
	local, _, err := p.resolver.Resolve(ctx, uri)
	if err != nil {
		return graphops.ProbeResult{}, err
	}
	result, err := p.inner.Probe(ctx, local)
	if err != nil {
		return result, err
	}
	result.ResolvedPath = local
	return result, nil
}
