// Package sandbox provides ephemeral compute environments for generated apps.
//
// A sandbox is addressable by an opaque ID, exposes a file system and command
// execution, and expires after a fixed idle timeout unless the timeout is
// re-applied. The Docker implementation lives in docker.go; tests use the
// in-memory fake.
package sandbox

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// IdleTimeout is how long a sandbox stays alive without activity. The
// provisioner only resets the clock on explicit SetTimeout calls, so every
// reconnect and fresh provision re-applies it.
const IdleTimeout = 30 * time.Minute

// Sandbox is one ephemeral compute environment.
type Sandbox interface {
	ID() string
	// URL returns the externally reachable preview address of the app served
	// from the sandbox.
	URL() string
	// SetTimeout extends the idle lifetime of the sandbox.
	SetTimeout(ctx context.Context, d time.Duration) error
	WriteFile(ctx context.Context, path, content string) error
	ReadFile(ctx context.Context, path string) (string, error)
	// RunCommand executes a shell command and returns its combined output.
	RunCommand(ctx context.Context, command string) (string, error)
}

// Provisioner creates new sandboxes and reconnects to existing ones.
type Provisioner interface {
	Create(ctx context.Context) (Sandbox, error)
	Connect(ctx context.Context, id string) (Sandbox, error)
}

// Reconcile produces a reachable sandbox from a possibly-stale handle and the
// authoritative files mapping. It reconnects when possible; otherwise it
// provisions a fresh sandbox and replays every file. Per-file replay failures
// are logged and skipped, so partial reconstruction still reports success.
func Reconcile(ctx context.Context, p Provisioner, id string, files map[string]string) (Sandbox, error) {
	if id != "" {
		sb, err := p.Connect(ctx, id)
		if err == nil {
			if err := sb.SetTimeout(ctx, IdleTimeout); err != nil {
				return nil, err
			}
			return sb, nil
		}
		log.Warn().Err(err).Str("sandbox_id", id).Msg("sandbox unreachable, provisioning a new one")
	}

	sb, err := p.Create(ctx)
	if err != nil {
		return nil, err
	}
	if err := sb.SetTimeout(ctx, IdleTimeout); err != nil {
		return nil, err
	}
	for path, content := range files {
		if err := sb.WriteFile(ctx, path, content); err != nil {
			log.Warn().Err(err).Str("path", path).Str("sandbox_id", sb.ID()).Msg("failed to replay file")
		}
	}
	return sb, nil
}
