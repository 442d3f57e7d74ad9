// db.go
//
// Store selection for the server and CLI.
//   - DB_DRIVER=sqlite3 (default) or postgres: SQL store, migrations applied on open.
//   - DB_DRIVER=memory: in-process store, state lost on exit.

package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/robalobadob/realeffort/internal/config"
	"github.com/robalobadob/realeffort/internal/store"
)

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if cfg.DBDriver == "memory" {
		log.Warn().Msg("using in-memory store; participant data will not survive a restart")
		return store.NewMemoryStore(), nil
	}
	st, err := store.Open(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.DBDriver, err)
	}
	log.Info().Str("driver", cfg.DBDriver).Msg("store ready")
	return st, nil
}
