package recorder

import (
	"encoding/json"
	"io"
	"os"
	"sync"
)

// Recorder captures admission events.
// Thread-safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []AdmissionEvent
	writer io.Writer // optional: stream events as they arrive
}

// New creates a new Recorder. If w is non-nil, events are also
// written to w as newline-delimited JSON as they arrive.
func New(w io.Writer) *Recorder {
	return &Recorder{
		writer: w,
	}
}

// Record captures a single event.
func (r *Recorder) Record(ev AdmissionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, ev)

	if r.writer != nil {
		if err := json.NewEncoder(r.writer).Encode(ev); err != nil {
			return err
		}
	}
	return nil
}

// Events returns a copy of all recorded events.
func (r *Recorder) Events() []AdmissionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]AdmissionEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Summary counts events by outcome.
func (r *Recorder) Summary() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]int)
	for _, ev := range r.events {
		out[ev.Outcome]++
	}
	return out
}

// ExportJSON writes all events to w as a JSON array.
func (r *Recorder) ExportJSON(w io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if r.events == nil {
		return enc.Encode([]AdmissionEvent{})
	}
	return enc.Encode(r.events)
}

// ExportFile writes all events to a file as a JSON array.
func (r *Recorder) ExportFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return r.ExportJSON(f)
}

// LoadJSON reads events from a JSON array.
func LoadJSON(r io.Reader) ([]AdmissionEvent, error) {
	var events []AdmissionEvent
	if err := json.NewDecoder(r).Decode(&events); err != nil {
		return nil, err
	}
	return events, nil
}
