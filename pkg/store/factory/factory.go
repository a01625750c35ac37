// Package factory constructs backends from URLs, so callers and the CLI can
// select a store with a single connection string:
//
//	memory://
//	file:///var/objects
//	s3://bucket?region=eu-west-1
//	http://server:8080/objects
//	postgres://localhost/objstack
//	sqlite:///var/objects.db
package factory

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"objstack/pkg/store"
	"objstack/pkg/store/dbstore"
	"objstack/pkg/store/fs"
	"objstack/pkg/store/httpstore"
	"objstack/pkg/store/memory"
	"objstack/pkg/store/s3"
)

// Options tune backend construction.
type Options struct {
	// Config carries backend-specific string options, merged with any URL
	// query parameters. Unknown keys are rejected per backend.
	Config map[string]string
	// Logger receives a construction log line. Nil uses slog.Default.
	Logger *slog.Logger
	// HTTPClient overrides the transport for the http backend.
	HTTPClient *http.Client
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// merged folds URL query parameters into a copy of o.Config; explicit Config
// entries win.
func (o Options) merged(query url.Values) map[string]string {
	out := make(map[string]string, len(o.Config)+len(query))
	for k := range query {
		out[strings.ToLower(k)] = query.Get(k)
	}
	for k, v := range o.Config {
		out[strings.ToLower(k)] = v
	}
	return out
}

// Open builds a backend for the given URL.
func Open(ctx context.Context, rawURL string, opts Options) (store.Backend, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, store.NewError(store.KindInvalidPath, "", rawURL, err)
	}
	log := opts.logger()
	switch u.Scheme {
	case "memory", "mem":
		log.Info("opening backend", "scheme", "memory")
		return memory.New(), nil
	case "file", "":
		path := u.Host + u.Path
		if path == "" {
			path = u.Opaque
		}
		log.Info("opening backend", "scheme", "file", "root", path)
		return fs.New(path)
	case "s3":
		options := opts.merged(u.Query())
		cfg, err := s3.ConfigFromMap(u.Host, options)
		if err != nil {
			return nil, err
		}
		log.Info("opening backend", "scheme", "s3", "bucket", u.Host, "region", cfg.Region)
		return s3.New(ctx, cfg)
	case "http", "https":
		log.Info("opening backend", "scheme", u.Scheme, "endpoint", rawURL)
		return httpstore.New(rawURL, opts.HTTPClient)
	case "postgres", "postgresql":
		log.Info("opening backend", "scheme", "db", "driver", "pgx")
		return dbstore.Open(ctx, rawURL)
	case "sqlite":
		// sqlite:///abs/path keeps the absolute path, sqlite://name.db is
		// relative, sqlite:name.db is the opaque form.
		path := u.Host + u.Path
		if path == "" {
			path = u.Opaque
		}
		log.Info("opening backend", "scheme", "db", "driver", "sqlite", "path", path)
		return dbstore.Open(ctx, path)
	default:
		return nil, store.Errorf(store.KindNotSupported, u.Scheme, rawURL,
			"unknown backend scheme %q", u.Scheme)
	}
}

// MustScheme names the backend a URL would select, for display purposes.
func MustScheme(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Scheme
}
