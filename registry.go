package coro

// objectRegistry tracks every live Task and Socket owned by one Scheduler,
// as a deterministic strong-reference bookkeeping map: ownership is
// exclusive and lifecycle-hooked (a Task is removed the instant it
// finishes; a Socket the instant it closes).
//
// Only ever touched by the goroutine currently holding the baton, so no
// mutex guards it.
type objectRegistry struct {
	tasks   map[uint64]*Task
	sockets map[uint64]*Socket
}

func newObjectRegistry() *objectRegistry {
	return &objectRegistry{
		tasks:   make(map[uint64]*Task),
		sockets: make(map[uint64]*Socket),
	}
}

func (r *objectRegistry) addTask(t *Task) {
	r.tasks[t.id] = t
}

func (r *objectRegistry) removeTask(t *Task) {
	delete(r.tasks, t.id)
}

func (r *objectRegistry) addSocket(s *Socket) {
	r.sockets[s.id] = s
}

func (r *objectRegistry) removeSocket(s *Socket) {
	delete(r.sockets, s.id)
}

// liveTasks returns a snapshot slice of every tracked Task, safe to iterate
// even if the callback mutates the registry (teardown during cancellation
// sweeps does exactly this).
func (r *objectRegistry) liveTasks() []*Task {
	out := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	return out
}

// liveSockets returns a snapshot slice of every tracked Socket.
func (r *objectRegistry) liveSockets() []*Socket {
	out := make([]*Socket, 0, len(r.sockets))
	for _, s := range r.sockets {
		out = append(out, s)
	}
	return out
}
