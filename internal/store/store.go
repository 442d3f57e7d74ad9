// internal/store/store.go
//
// Persistence for participants and their puzzle history.
// Store extends session.Repository with the calls the HTTP layer and CLI
// need (participant creation, audit trail, results).

package store

import (
	"context"
	"time"

	"github.com/robalobadob/realeffort/internal/session"
)

// Store defines the persistence interface for puzzle sessions.
// Implementations are backed by memory (tests) or SQL (sqlite3/postgres).
type Store interface {
	session.Repository

	// CreatePlayer inserts a new participant.
	CreatePlayer(ctx context.Context, p *session.Player) error

	// Puzzles returns the player's full history ordered by iteration.
	Puzzles(ctx context.Context, playerID string) ([]session.Puzzle, error)

	// FinishPlayer stamps the time the participant reached the results page.
	// Only the first call has an effect.
	FinishPlayer(ctx context.Context, playerID string, at time.Time) error

	Close() error
}
