// Package source produces camera frames for the pipeline.
package source

import (
	"context"

	"github.com/dj-oyu/lesion-detector/pkg/types"
)

// Source delivers frames to emit until ctx is cancelled or the source is
// exhausted. emit must not block; the pipeline's Submit satisfies that.
// Every emitted frame owns its plane data.
type Source interface {
	Run(ctx context.Context, emit func(*types.Frame)) error
	Close() error
}
