package toolchain

import (
	"context"
	"sync"
)

type recordingRunner struct {
	mu   sync.Mutex
	cmds []Command
	err  error
}

func (r *recordingRunner) Run(_ context.Context, c Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, c)
	return r.err
}
