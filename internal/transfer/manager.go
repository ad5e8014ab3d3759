package transfer

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/feisync/feisync/internal/store"
)

// Registrar records remote tokens under their owning tenant as transfers
// observe them. Implemented by the resource index.
type Registrar interface {
	Register(tenantID string, tokens ...string) error
}

// transfersFile is the on-disk shape of the transfers store.
type transfersFile struct {
	Tasks []*Task `json:"tasks"`
}

// Manager owns every transfer task record, the per-task controls, and the
// active set. Records are persisted whole-file on every change; progress
// events are pushed fire-and-forget to an optional observer.
type Manager struct {
	mu       sync.RWMutex
	tasks    map[string]*Task
	controls map[string]*Control
	active   map[string]bool

	dir       store.Dir
	logger    *slog.Logger
	registrar Registrar

	// OnEvent, when set, receives a copy of the record after every state
	// change. Fire-and-forget; must not block.
	OnEvent func(Task)

	now func() time.Time
}

// NewManager loads the transfers store. Tasks found running or pending are
// rewritten to failed: the previous process terminated mid-flight and the
// operator must resume explicitly.
func NewManager(dir store.Dir, registrar Registrar, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		tasks:     make(map[string]*Task),
		controls:  make(map[string]*Control),
		active:    make(map[string]bool),
		dir:       dir,
		logger:    logger,
		registrar: registrar,
		now:       func() time.Time { return time.Now().UTC() },
	}

	var file transfersFile

	ok, err := dir.Load(store.TransfersFile, &file)
	if err != nil {
		return nil, err
	}

	if !ok {
		return m, nil
	}

	downgraded := 0

	for _, t := range file.Tasks {
		if t.inFlight() {
			t.Status = StatusFailed
			t.Message = abnormalTerminationMsg
			t.UpdatedAt = m.now()
			downgraded++
		}

		m.tasks[t.ID] = t
	}

	if downgraded > 0 {
		m.logger.Warn("interrupted transfers marked failed", slog.Int("count", downgraded))

		if err := m.persist(); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Manager) persist() error {
	m.mu.RLock()

	file := transfersFile{Tasks: make([]*Task, 0, len(m.tasks))}
	for _, t := range m.tasks {
		cp := *t

		if t.Resume != nil {
			res := *t.Resume
			cp.Resume = &res
		}

		file.Tasks = append(file.Tasks, &cp)
	}

	m.mu.RUnlock()

	sort.Slice(file.Tasks, func(i, j int) bool {
		return file.Tasks[i].CreatedAt.Before(file.Tasks[j].CreatedAt)
	})

	return m.dir.Save(store.TransfersFile, file)
}

func (m *Manager) emit(t Task) {
	if m.OnEvent != nil {
		m.OnEvent(t)
	}
}

// CreateTask registers a new pending task and persists it.
func (m *Manager) CreateTask(t Task) (Task, error) {
	t.ID = uuid.NewString()
	t.Status = StatusPending
	t.CreatedAt = m.now()
	t.UpdatedAt = t.CreatedAt

	m.mu.Lock()
	m.tasks[t.ID] = &t
	snapshot := t
	m.mu.Unlock()

	if err := m.persist(); err != nil {
		return Task{}, err
	}

	m.emit(snapshot)

	return snapshot, nil
}

// Update applies a mutation to a task, bumps its timestamp, persists, and
// emits a progress event.
func (m *Manager) Update(id string, mutate func(*Task)) (Task, error) {
	m.mu.Lock()

	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()

		return Task{}, ErrTaskNotFound
	}

	mutate(t)
	t.UpdatedAt = m.now()
	snapshot := *t

	m.mu.Unlock()

	if err := m.persist(); err != nil {
		return Task{}, err
	}

	m.emit(snapshot)

	return snapshot, nil
}

// Get returns a copy of one task.
func (m *Manager) Get(id string) (Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}

	return *t, nil
}

// List returns every task, newest first.
func (m *Manager) List() []Task {
	m.mu.RLock()

	out := make([]Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, *t)
	}

	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	return out
}

// EnsureControl returns the task's control, creating it on first use.
func (m *Manager) EnsureControl(id string) *Control {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.controls[id]; ok {
		return c
	}

	c := NewControl()
	m.controls[id] = c

	return c
}

// IsActive reports whether the task has a live run in this process.
func (m *Manager) IsActive(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.active[id]
}

func (m *Manager) markActive(id string) {
	m.mu.Lock()
	m.active[id] = true
	m.mu.Unlock()
}

// finalize applies the terminal transition: success clears resume state
// and snaps transferred to size; failure records the message and keeps
// resume state as the restart contract. The control and active mark are
// dropped either way.
func (m *Manager) finalize(id string, runErr error) {
	_, err := m.Update(id, func(t *Task) {
		if runErr == nil {
			t.Status = StatusSuccess
			t.Transferred = t.Size
			t.Message = ""
			t.Resume = nil

			return
		}

		t.Status = StatusFailed
		t.Message = runErr.Error()
	})
	if err != nil {
		m.logger.Error("finalizing transfer failed",
			slog.String("task_id", id),
			slog.String("error", err.Error()),
		)
	}

	m.mu.Lock()
	delete(m.controls, id)
	delete(m.active, id)
	m.mu.Unlock()
}

// Delete removes a finished task. Tasks still pending or running must be
// cancelled first.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()

	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()

		return ErrTaskNotFound
	}

	if t.inFlight() {
		m.mu.Unlock()

		return ErrTaskBusy
	}

	delete(m.tasks, id)
	m.mu.Unlock()

	return m.persist()
}

// ClearHistory removes tasks matching the mode (success, failed, finished,
// all; empty means all) and returns how many were removed. Unknown modes
// remove nothing.
func (m *Manager) ClearHistory(mode string) (int, error) {
	match := func(t *Task) bool {
		switch mode {
		case "success":
			return t.Status == StatusSuccess
		case "failed":
			return t.Status == StatusFailed
		case "finished":
			return t.Status == StatusSuccess || t.Status == StatusFailed
		case "all", "":
			return true
		default:
			return false
		}
	}

	m.mu.Lock()

	removed := 0

	for id, t := range m.tasks {
		if t.inFlight() || !match(t) {
			continue
		}

		delete(m.tasks, id)
		removed++
	}

	m.mu.Unlock()

	if removed == 0 {
		return 0, nil
	}

	return removed, m.persist()
}

// Pause sets the control's pause flag and downgrades the visible status.
func (m *Manager) Pause(id string) (Task, error) {
	m.EnsureControl(id).Pause()

	return m.Update(id, func(t *Task) {
		if t.inFlight() {
			t.Status = StatusPaused
		}
	})
}

// Cancel sets the sticky cancel flag; the running loop fails at its next
// yield point. The record is marked failed immediately so the operator
// sees the outcome without waiting for the loop to notice.
func (m *Manager) Cancel(id string) (Task, error) {
	m.EnsureControl(id).Cancel()

	return m.Update(id, func(t *Task) {
		t.Status = StatusFailed
		t.Message = ErrCancelled.Error()
	})
}

// ResumeActive clears the pause flag of a live run.
func (m *Manager) ResumeActive(id string) (Task, error) {
	m.EnsureControl(id).Resume()

	return m.Update(id, func(t *Task) {
		t.Status = StatusRunning
		t.Message = ""
	})
}

func (m *Manager) register(tenantID string, tokens ...string) {
	if m.registrar == nil {
		return
	}

	if err := m.registrar.Register(tenantID, tokens...); err != nil {
		m.logger.Warn("resource index update failed", slog.String("error", err.Error()))
	}
}
