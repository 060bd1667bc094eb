// Package history keeps past transcription tasks, newest first.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/rs/xid"

	"scribe/log"
	"scribe/transcriber"
)

const fileName = "tasks.json"

// Request is what was submitted, without the audio.
type Request struct {
	FileName    string           `json:"fileName"`
	Model       string           `json:"model,omitempty"`
	Language    string           `json:"language,omitempty"`
	Task        transcriber.Task `json:"task,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
}

// Summarize records req without its audio payload.
func Summarize(req transcriber.Request) Request {
	return Request{
		FileName:    req.Filename,
		Model:       req.Model,
		Language:    req.Language,
		Task:        req.Task,
		Temperature: req.Temperature,
		Stream:      req.Stream,
	}
}

type Task struct {
	ID        string             `json:"id"`
	Request   Request            `json:"request"`
	Result    transcriber.Result `json:"result"`
	Timestamp int64              `json:"timestamp"` // unix milliseconds
}

func (t Task) Time() time.Time {
	return time.UnixMilli(t.Timestamp)
}

// Store persists the task list.
type Store interface {
	Load() ([]Task, error)
	Save([]Task) error
}

// FileStore keeps the task list as a JSON array.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) Path() string {
	return filepath.Join(s.dir, fileName)
}

// Load returns the stored tasks; a missing file is an empty history.
func (s *FileStore) Load() ([]Task, error) {
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	var tasks []Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("parse history %s: %w", s.Path(), err)
	}
	return tasks, nil
}

func (s *FileStore) Save(tasks []Task) error {
	if tasks == nil {
		tasks = []Task{}
	}
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, fileName+".*")
	if err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write history: %w", err)
	}
	return os.Rename(tmp.Name(), s.Path())
}

// History is the in-memory task list backed by a Store.
type History struct {
	store Store
	now   func() time.Time

	mu    sync.Mutex
	tasks []Task
}

// Open loads the history from store. A store that cannot be read is treated
// as empty; the failure is logged, not returned.
func Open(store Store) *History {
	h := &History{store: store, now: time.Now}
	tasks, err := store.Load()
	if err != nil {
		log.Warnf("history: %v, starting empty", err)
		tasks = nil
	}
	h.tasks = tasks
	return h
}

// Add records a finished task at the front of the history and saves it.
func (h *History) Add(req Request, res transcriber.Result) (Task, error) {
	task := Task{
		ID:        xid.New().String(),
		Request:   req,
		Result:    res,
		Timestamp: h.now().UnixMilli(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.tasks = slices.Insert(h.tasks, 0, task)
	if err := h.store.Save(h.tasks); err != nil {
		return task, err
	}
	return task, nil
}

// List returns up to limit tasks, newest first; limit <= 0 returns all.
func (h *History) List(limit int) []Task {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.tasks)
	if limit > 0 && limit < n {
		n = limit
	}
	return slices.Clone(h.tasks[:n])
}

func (h *History) Get(id string) (Task, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := slices.IndexFunc(h.tasks, func(t Task) bool { return t.ID == id })
	if i < 0 {
		return Task{}, false
	}
	return h.tasks[i], true
}

// Delete removes the task with id. It reports whether one was found.
func (h *History) Delete(id string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := slices.IndexFunc(h.tasks, func(t Task) bool { return t.ID == id })
	if i < 0 {
		return false, nil
	}
	h.tasks = slices.Delete(h.tasks, i, i+1)
	return true, h.store.Save(h.tasks)
}

func (h *History) Clear() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tasks = nil
	return h.store.Save(h.tasks)
}
