package session

import (
	"github.com/saulo-duarte/cbt-engine/internal/audit"
	"github.com/saulo-duarte/cbt-engine/internal/queue"
	"github.com/saulo-duarte/cbt-engine/internal/tenancy"
)

type SessionContainer struct {
	Service SessionService
	Handler *Handler
}

func NewSessionContainer(tenants tenancy.Source, recorder audit.Recorder, jobs queue.Enqueuer, opts Options) *SessionContainer {
	service := NewService(tenants, recorder, jobs, opts)
	handler := NewHandler(service)

	return &SessionContainer{
		Service: service,
		Handler: handler,
	}
}
