package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/beamstream/vault/internal/scanner"
)

// EventNotifier broadcasts scan/materialization progress to connected
// clients (implemented by internal/api's WebSocket hub).
type EventNotifier interface {
	Broadcast(event string, data interface{})
}

// ScanHandler runs TaskScanLibrary tasks.
type ScanHandler struct {
	scanner  *scanner.Scanner
	notifier EventNotifier
}

func NewScanHandler(sc *scanner.Scanner, notifier EventNotifier) *ScanHandler {
	return &ScanHandler{scanner: sc, notifier: notifier}
}

func (h *ScanHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p ScanPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("unmarshal scan payload: %w", err)
	}

	libID, err := uuid.Parse(p.LibraryID)
	if err != nil {
		return fmt.Errorf("parse library id: %w", err)
	}

	if h.notifier != nil {
		h.notifier.Broadcast("scan:start", map[string]string{"library_id": p.LibraryID})
	}

	log.Printf("jobs: scanning library %s", p.LibraryID)
	result, err := h.scanner.ScanLibrary(ctx, libID)
	if err != nil {
		log.Printf("jobs: scan %s failed: %v", p.LibraryID, err)
		if h.notifier != nil {
			h.notifier.Broadcast("scan:error", map[string]string{"library_id": p.LibraryID, "error": err.Error()})
		}
		return err
	}

	if h.notifier != nil {
		h.notifier.Broadcast("scan:complete", map[string]interface{}{
			"library_id": p.LibraryID,
			"discovered": result.FilesDiscovered,
			"ingested":   result.FilesIngested,
			"errored":    result.FilesErrored,
		})
	}
	return nil
}
