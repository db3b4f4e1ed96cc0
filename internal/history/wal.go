package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/tidwall/wal"
)

// Recorder persists operations to an on-disk write-ahead log. It implements
// Sink, so it can join a run's ActiveSet to tee the history for post-mortem
// inspection. Records are JSON-encoded Operations, one per log entry.
type Recorder struct {
	mx   sync.Mutex
	log  *wal.Log
	next uint64
}

func OpenRecorder(dir string) (*Recorder, error) {
	log, err := wal.Open(dir, &wal.Options{
		NoSync: true,
		NoCopy: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening history log: %w", err)
	}
	last, err := log.LastIndex()
	if err != nil {
		_ = log.Close()
		return nil, fmt.Errorf("reading history log last index: %w", err)
	}
	return &Recorder{log: log, next: last + 1}, nil
}

func (r *Recorder) Append(op Operation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encoding operation: %w", err)
	}
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.log == nil {
		return errors.New("recorder already closed")
	}
	if err := r.log.Write(r.next, data); err != nil {
		return fmt.Errorf("writing operation %d: %w", r.next, err)
	}
	r.next++
	return nil
}

func (r *Recorder) Close() error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.log == nil {
		return errors.New("recorder already closed")
	}
	err := r.log.Close()
	r.log = nil
	return err
}

// ReadRecorded loads a previously recorded history from dir in append order.
// Values decode as generic JSON, so numeric payloads come back as float64.
func ReadRecorded(dir string) ([]Operation, error) {
	log, err := wal.Open(dir, &wal.Options{NoCopy: true})
	if err != nil {
		return nil, fmt.Errorf("opening history log: %w", err)
	}
	defer func() {
		_ = log.Close()
	}()

	first, err := log.FirstIndex()
	if err != nil {
		return nil, fmt.Errorf("reading history log first index: %w", err)
	}
	last, err := log.LastIndex()
	if err != nil {
		return nil, fmt.Errorf("reading history log last index: %w", err)
	}
	if last == 0 {
		return nil, nil
	}

	ops := make([]Operation, 0, last-first+1)
	for i := first; i <= last; i++ {
		data, err := log.Read(i)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("reading operation %d: %w", i, err)
		}
		var op Operation
		if err := json.Unmarshal(data, &op); err != nil {
			return nil, fmt.Errorf("decoding operation %d: %w", i, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}
