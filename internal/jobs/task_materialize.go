package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/beamstream/vault/internal/streamcache"
)

// MaterializeHandler runs TaskMaterializeArtifact tasks — a pre-warm path
// for the stream cache outside of a playback request's critical path.
type MaterializeHandler struct {
	cache    *streamcache.Cache
	notifier EventNotifier
}

func NewMaterializeHandler(cache *streamcache.Cache, notifier EventNotifier) *MaterializeHandler {
	return &MaterializeHandler{cache: cache, notifier: notifier}
}

func (h *MaterializeHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p MaterializePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("unmarshal materialize payload: %w", err)
	}

	fileID, err := uuid.Parse(p.FileID)
	if err != nil {
		return fmt.Errorf("parse file id: %w", err)
	}

	path, err := h.cache.EnsureArtifact(ctx, fileID)
	if err != nil {
		log.Printf("jobs: materialize %s failed: %v", p.FileID, err)
		if h.notifier != nil {
			h.notifier.Broadcast("materialize:error", map[string]string{"file_id": p.FileID, "error": err.Error()})
		}
		return err
	}

	if h.notifier != nil {
		h.notifier.Broadcast("materialize:complete", map[string]string{"file_id": p.FileID, "artifact_path": path})
	}
	return nil
}
