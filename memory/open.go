package memory

import (
	"context"
	"fmt"

	"github.com/c360studio/semplan/config"
)

// Open creates the backend selected by cfg. The caller closes it.
func Open(ctx context.Context, cfg config.MemoryConfig, opts ...Option) (Backend, error) {
	m, err := ParseMatch(cfg.Match)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithMatch(m)}, opts...)

	switch cfg.Backend {
	case config.BackendMemory:
		return NewInMemory(opts...), nil
	case config.BackendFile, "":
		return NewFileStore(cfg.Path, opts...)
	case config.BackendSQLite:
		return NewSQLiteStore(cfg.Path, opts...)
	case config.BackendNATS:
		return ConnectKV(ctx, cfg.NATSURL, cfg.Bucket, opts...)
	}
	return nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
}
