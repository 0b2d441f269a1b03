package sink

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"lobby-lab/domain/event"
	"lobby-lab/repositories"
)

// JournalSink appends every roster change to the on-disk journal.
type JournalSink struct {
	repository repositories.IJournalRepository
	log        *slog.Logger
}

func NewJournalSink(repository repositories.IJournalRepository, log *slog.Logger) JournalSink {
	return JournalSink{repository: repository, log: log}
}

func (j JournalSink) Consume(_ context.Context, e event.DomainEvent) error {
	switch evt := e.(type) {
	case event.ParticipantJoined:
		return j.repository.StoreRecord(repositories.JournalRecord{
			ID:          uuid.New(),
			SessionID:   evt.SessionID,
			Kind:        "joined",
			Participant: string(evt.ID),
			DisplayName: evt.DisplayName,
			Epoch:       evt.Epoch,
			At:          evt.At,
		})
	case event.ParticipantLeft:
		return j.repository.StoreRecord(repositories.JournalRecord{
			ID:          uuid.New(),
			SessionID:   evt.SessionID,
			Kind:        "left",
			Participant: string(evt.ID),
			Epoch:       evt.Epoch,
			At:          evt.At,
		})
	case event.ReadinessChanged:
		return j.repository.StoreRecord(repositories.JournalRecord{
			ID:          uuid.New(),
			SessionID:   evt.SessionID,
			Kind:        "ready",
			Participant: string(evt.ID),
			Ready:       evt.Ready,
			Epoch:       evt.Epoch,
			At:          evt.At,
		})
	case event.AllReady:
		return j.repository.StoreRecord(repositories.JournalRecord{
			ID:        uuid.New(),
			SessionID: evt.SessionID,
			Kind:      "all_ready",
			Epoch:     evt.Epoch,
			At:        evt.At,
		})
	case event.SessionClosed:
		return j.repository.StoreRecord(repositories.JournalRecord{
			ID:        uuid.New(),
			SessionID: evt.SessionID,
			Kind:      "closed",
			Epoch:     evt.Epoch,
			At:        evt.At,
		})
	default:
		j.log.Debug(fmt.Sprintf("Not implemented event : %v", evt))
		return nil
	}
}
