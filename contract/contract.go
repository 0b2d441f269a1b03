//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"lobby-lab/domain"
	"lobby-lab/domain/event"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink receives replicated domain events. Participant connections,
// the journal and the stats aggregator all implement it.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// IRegistry is the authoritative, capacity-bounded roster of a hosted
// session. Only the host-side event loop mutates it.
type IRegistry interface {
	TryAdmit(id domain.Identity) domain.Decision
	AddParticipant(id domain.Identity, displayName string, sink EventSink) error
	RemoveParticipant(id domain.Identity)
	Count() int
	All() []domain.Participant
	Sinks() []EventSink
}
