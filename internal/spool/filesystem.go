package spool

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"fmeta-go/internal/meta"
)

// FileSystemSpool persists queued events as one JSON file each:
//
//	<spool_dir>/
//	  events/
//	    00000000000000000001.json
//	    00000000000000000002.json
//
// File names carry a monotonically increasing sequence number, so lexical
// order is queue order.
type FileSystemSpool struct {
	mu        sync.Mutex
	eventsDir string
	maxEvents int
	nextSeq   uint64
}

// NewFileSystemSpool opens, or creates, a spool under spoolDir.
func NewFileSystemSpool(spoolDir string, maxEvents int) (*FileSystemSpool, error) {
	eventsDir := filepath.Join(spoolDir, "events")
	if err := os.MkdirAll(eventsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}
	s := &FileSystemSpool{eventsDir: eventsDir, maxEvents: maxEvents, nextSeq: 1}

	names, err := s.list()
	if err != nil {
		return nil, err
	}
	if len(names) > 0 {
		last, err := seqOf(names[len(names)-1])
		if err != nil {
			return nil, err
		}
		s.nextSeq = last + 1
	}
	return s, nil
}

// Stage writes ev to the end of the queue.
func (s *FileSystemSpool) Stage(ev *meta.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.list()
	if err != nil {
		return err
	}
	if len(names) >= s.maxEvents {
		return fmt.Errorf("%w: %d events queued", ErrSpoolFull, len(names))
	}

	name := fmt.Sprintf("%020d.json", s.nextSeq)
	tmp, err := os.CreateTemp(s.eventsDir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing event: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing event file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.eventsDir, name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("queueing event: %w", err)
	}
	s.nextSeq++
	return nil
}

// ProcessNext hands the oldest event to fn and deletes its file when fn succeeds.
func (s *FileSystemSpool) ProcessNext(fn func(*meta.Event) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.list()
	if err != nil || len(names) == 0 {
		return err
	}
	path := filepath.Join(s.eventsDir, names[0])
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading queued event: %w", err)
	}
	var ev meta.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		// A corrupt entry would block the queue forever.
		if rerr := os.Rename(path, path+".corrupt"); rerr != nil {
			return errors.Join(fmt.Errorf("decoding %s: %w", names[0], err), rerr)
		}
		return fmt.Errorf("decoding %s: %w", names[0], err)
	}

	if err := fn(&ev); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("dequeueing event: %w", err)
	}
	return nil
}

// Count returns the number of queued events.
func (s *FileSystemSpool) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names, err := s.list()
	return len(names), err
}

// list returns queued event file names in queue order.
func (s *FileSystemSpool) list() ([]string, error) {
	entries, err := os.ReadDir(s.eventsDir)
	if err != nil {
		return nil, fmt.Errorf("reading spool directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func seqOf(name string) (uint64, error) {
	seq, err := strconv.ParseUint(strings.TrimSuffix(name, ".json"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected spool file %q: %w", name, err)
	}
	return seq, nil
}

var _ meta.EventSpool = (*FileSystemSpool)(nil)
