package history

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"scribe/transcriber"
)

type memStore struct {
	tasks   []Task
	loadErr error
	saveErr error
	saves   int
}

func (m *memStore) Load() ([]Task, error) { return m.tasks, m.loadErr }

func (m *memStore) Save(tasks []Task) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.tasks = append([]Task(nil), tasks...)
	return nil
}

func TestAddPrependsNewest(t *testing.T) {
	store := &memStore{}
	h := Open(store)

	first, err := h.Add(Request{FileName: "a.wav"}, transcriber.Result{Text: "a"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.Add(Request{FileName: "b.wav"}, transcriber.Result{Text: "b"})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID == "" || first.ID == second.ID {
		t.Errorf("ids not unique: %q %q", first.ID, second.ID)
	}

	tasks := h.List(0)
	if len(tasks) != 2 || tasks[0].ID != second.ID || tasks[1].ID != first.ID {
		t.Errorf("order = %+v", tasks)
	}
	if store.saves != 2 || len(store.tasks) != 2 {
		t.Errorf("saves=%d stored=%d", store.saves, len(store.tasks))
	}
}

func TestListLimit(t *testing.T) {
	h := Open(&memStore{})
	for range 5 {
		h.Add(Request{}, transcriber.Result{})
	}
	for _, tt := range []struct{ limit, want int }{{0, 5}, {-1, 5}, {3, 3}, {10, 5}} {
		if got := len(h.List(tt.limit)); got != tt.want {
			t.Errorf("List(%d) returned %d tasks, want %d", tt.limit, got, tt.want)
		}
	}
}

func TestLoadFailureStartsEmpty(t *testing.T) {
	h := Open(&memStore{loadErr: errors.New("corrupt")})
	if n := len(h.List(0)); n != 0 {
		t.Errorf("got %d tasks, want 0", n)
	}
}

func TestAddKeepsTaskWhenSaveFails(t *testing.T) {
	h := Open(&memStore{saveErr: errors.New("disk full")})
	task, err := h.Add(Request{FileName: "x"}, transcriber.Result{Text: "x"})
	if err == nil {
		t.Fatal("expected save error")
	}
	if _, ok := h.Get(task.ID); !ok {
		t.Error("task dropped from memory after a failed save")
	}
}

func TestGetAndDelete(t *testing.T) {
	h := Open(&memStore{})
	task, _ := h.Add(Request{FileName: "a"}, transcriber.Result{Text: "a"})

	got, ok := h.Get(task.ID)
	if !ok || got.Result.Text != "a" {
		t.Fatalf("Get = %+v, %v", got, ok)
	}
	found, err := h.Delete(task.ID)
	if err != nil || !found {
		t.Fatalf("Delete = %v, %v", found, err)
	}
	if _, ok := h.Get(task.ID); ok {
		t.Error("task still present after delete")
	}
	if found, _ := h.Delete("missing"); found {
		t.Error("Delete reported a missing task as found")
	}
}

func TestClear(t *testing.T) {
	store := &memStore{}
	h := Open(store)
	h.Add(Request{}, transcriber.Result{})
	if err := h.Clear(); err != nil {
		t.Fatal(err)
	}
	if len(h.List(0)) != 0 || len(store.tasks) != 0 {
		t.Error("history not cleared")
	}
}

func TestTimestamp(t *testing.T) {
	h := Open(&memStore{})
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return fixed }

	task, _ := h.Add(Request{}, transcriber.Result{})
	if task.Timestamp != fixed.UnixMilli() || !task.Time().Equal(fixed) {
		t.Errorf("timestamp = %d", task.Timestamp)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	h := Open(NewFileStore(dir))

	res := transcriber.Result{
		Text:     "hello",
		Language: "en",
		Chunks:   []transcriber.Chunk{{Text: "hello", Timestamp: [2]float64{0, 0.8}, Speaker: "A"}},
	}
	req := Summarize(transcriber.Request{
		Audio: []byte("audio"), Filename: "hello.wav", Task: transcriber.TaskTranslate, Temperature: 0.4,
	})
	task, err := h.Add(req, res)
	if err != nil {
		t.Fatal(err)
	}

	reopened := Open(NewFileStore(dir))
	got, ok := reopened.Get(task.ID)
	if !ok {
		t.Fatal("task not persisted")
	}
	if got.Request != req {
		t.Errorf("request = %+v, want %+v", got.Request, req)
	}
	if got.Result.Text != "hello" || len(got.Result.Chunks) != 1 || got.Result.Chunks[0].Timestamp[1] != 0.8 {
		t.Errorf("result = %+v", got.Result)
	}
}

func TestFileStoreMissingFile(t *testing.T) {
	tasks, err := NewFileStore(t.TempDir()).Load()
	if err != nil || len(tasks) != 0 {
		t.Errorf("Load = %v, %v", tasks, err)
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, fileName), []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStore(dir).Load(); err == nil {
		t.Error("expected parse error")
	}
	if n := len(Open(NewFileStore(dir)).List(0)); n != 0 {
		t.Errorf("corrupt history yielded %d tasks", n)
	}
}

func TestFileStoreSavesEmptyArray(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)
	if err := s.Save(nil); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "[]" {
		t.Errorf("file = %q, want []", data)
	}
}
