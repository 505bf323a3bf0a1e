package engine

import (
	"context"
	"sort"
	"time"

	"github.com/gofer-hq/gofer/internal/models"
	"github.com/gofer-hq/gofer/internal/storage"
)

// RunObjectPruner sweeps every pipeline's object keys on ObjectPruneInterval,
// evicting the oldest pipeline-scoped objects beyond ObjectRetentionCount.
// Run-scoped objects are not handled here, and nothing else evicts them:
// runs are never deleted. It blocks until ctx is cancelled,
// so callers should invoke it in its own goroutine.
func (e *Engine) RunObjectPruner(ctx context.Context) {
	interval := e.cfg.ObjectPruneInterval
	if interval <= 0 {
		interval = DefaultConfig().ObjectPruneInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := e.pruneObjects(ctx)
			if err != nil {
				e.log.Error().Err(err).Msg("object prune sweep failed")
				continue
			}
			if n > 0 {
				e.log.Debug().Int("evicted", n).Msg("pruned pipeline-scoped objects beyond retention count")
			}
		}
	}
}

// pruneObjects evicts, for every pipeline in every namespace, whichever
// pipeline-scoped object keys fall beyond ObjectRetentionCount, oldest
// first. It returns the number of keys evicted.
func (e *Engine) pruneObjects(ctx context.Context) (int, error) {
	if e.cfg.ObjectRetentionCount <= 0 {
		return 0, nil
	}

	namespaces, err := e.db.ListNamespaces(ctx, storage.ListOptions{})
	if err != nil {
		return 0, err
	}

	evicted := 0
	for _, ns := range namespaces {
		pipelines, err := e.db.ListPipelineMetadata(ctx, ns.ID, storage.ListOptions{})
		if err != nil {
			return evicted, err
		}

		for _, pm := range pipelines {
			n, err := e.prunePipelineObjects(ctx, pm.NamespaceID, pm.PipelineID)
			if err != nil {
				return evicted, err
			}
			evicted += n
		}
	}

	return evicted, nil
}

func (e *Engine) prunePipelineObjects(ctx context.Context, namespaceID, pipelineID string) (int, error) {
	keys, err := e.db.ListObjectKeys(ctx, namespaceID, pipelineID, models.ObjectScopePipeline, nil)
	if err != nil {
		return 0, err
	}
	if int64(len(keys)) <= e.cfg.ObjectRetentionCount {
		return 0, nil
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].Created < keys[j].Created })

	stale := keys[:int64(len(keys))-e.cfg.ObjectRetentionCount]
	for _, k := range stale {
		if err := e.objects.Delete(pipelineObjectKey(namespaceID, pipelineID, k.Key)); err != nil {
			return 0, err
		}
		if err := e.db.DeleteObjectKey(ctx, namespaceID, pipelineID, k.Key); err != nil {
			return 0, err
		}
	}

	return len(stale), nil
}
