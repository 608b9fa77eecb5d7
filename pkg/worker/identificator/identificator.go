// Package identificator implements the identificator worker: it answers
// each Id request with the user id string recorded as the staging tar's
// owning identity. The default implementation reports the operating system
// user the pipeline runs as.
package identificator

import (
	"io"
	"os/user"

	"github.com/marmos91/usbsas/pkg/proto"
	"github.com/marmos91/usbsas/pkg/worker"
)

// Worker answers identificator's Id request.
type Worker struct {
	userID string
}

// New resolves the current OS user once at startup. An unresolvable user
// answers with an empty id, which the orchestrator treats as "keep the
// previously cached id, if any".
func New() *Worker {
	id := ""
	if u, err := user.Current(); err == nil {
		id = u.Username
	}
	return &Worker{userID: id}
}

// NewStatic builds a Worker answering with a fixed id, for configurations
// where the operator badge/identity comes from elsewhere.
func NewStatic(id string) *Worker {
	return &Worker{userID: id}
}

// Handlers returns identificator's Type -> worker.Handler table.
func (w *Worker) Handlers() map[proto.Type]worker.Handler {
	return map[proto.Type]worker.Handler{
		proto.TypeID: w.handleID,
	}
}

func (w *Worker) handleID(req proto.Envelope, out io.Writer) error {
	return worker.Respond(out, proto.TypeIDResp, proto.IDResp{ID: w.userID})
}
