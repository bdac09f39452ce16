package app

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/specialistvlad/deploygrid/internal/filestore"
	"github.com/specialistvlad/deploygrid/internal/inmemorystore"
	"github.com/specialistvlad/deploygrid/internal/ledger"
	"github.com/specialistvlad/deploygrid/internal/objectstore"
	"github.com/specialistvlad/deploygrid/internal/pgstore"
)

// closeFunc releases whatever a store holds beyond its lock.
type closeFunc func() error

func noClose() error { return nil }

// openStore selects a ledger store by the scheme of the ledger URL. A URL
// without a scheme is a directory.
func openStore(ctx context.Context, cfg *Config) (ledger.Store, closeFunc, error) {
	raw := cfg.Ledger
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return filestore.New(raw, cfg.Network), noClose, nil
	}

	switch scheme {
	case "memory":
		return inmemorystore.New(), noClose, nil
	case "file":
		if rest == "" {
			return nil, nil, fmt.Errorf("ledger %q: missing directory", raw)
		}
		return filestore.New(rest, cfg.Network), noClose, nil
	case "postgres", "postgresql":
		s, err := pgstore.Open(ctx, pgstore.Config{URL: raw, Network: cfg.Network})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "s3":
		u, err := url.Parse(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("ledger %q: %w", raw, err)
		}
		s, err := objectstore.New(ctx, objectstore.Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Region:    cfg.S3.Region,
			UseSSL:    cfg.S3.UseSSL,
			Bucket:    u.Host,
			Prefix:    strings.Trim(u.Path, "/"),
			Network:   cfg.Network,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, noClose, nil
	default:
		return nil, nil, fmt.Errorf("ledger %q: unsupported scheme %q", raw, scheme)
	}
}
