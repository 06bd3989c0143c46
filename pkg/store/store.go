// Package store implements the durable record layer: atomic JSON document
// writes with a bounded backup chain, and corruption-tolerant reads that
// walk the chain until a document parses.
//
// The store never returns errors to callers. A failed write leaves prior
// state intact, a failed read reports absence; the underlying cause goes to
// the log. Identity state is best-effort by contract, so availability wins
// over consistency here.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/driplet/driplet/pkg/logging"
)

// Store is the read/write contract for durable record files. Both methods
// report success as a bool; failures are logged, never raised.
type Store interface {
	// Write atomically replaces the document at path, rotating any
	// existing content into the backup chain first.
	Write(path string, doc interface{}) bool

	// Read unmarshals the document at path (or its newest parsable
	// backup) into out. Returns false when nothing parses or exists.
	Read(path string, out interface{}) bool
}

// FileStore persists documents to the local filesystem.
type FileStore struct {
	backups int
	log     *logging.Logger
	mu      sync.Mutex
}

// NewFileStore creates a file-backed store keeping backupDepth rotated
// copies of every record it writes. A depth below zero is treated as zero.
func NewFileStore(backupDepth int) *FileStore {
	if backupDepth < 0 {
		backupDepth = 0
	}
	log, _ := logging.NewLogger("store")
	return &FileStore{backups: backupDepth, log: log}
}

// Write atomically replaces the document at path.
//
// The sequence is: rotate the current file into the backup chain, marshal
// the new document to a temp sibling, read the temp file back to confirm it
// parses, then rename it over the destination. Interruption at any point
// leaves either the old document or a valid new one on disk.
func (s *FileStore) Write(path string, doc interface{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		s.log.Errorf("write %s: mkdir failed: %v", path, err)
		return false
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		s.log.Errorf("write %s: marshal failed: %v", path, err)
		return false
	}

	s.rotateBackups(path)

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		s.log.Errorf("write %s: temp write failed: %v", path, err)
		return false
	}

	// Read the temp file back before it becomes the record. A torn or
	// truncated write must never be renamed into place.
	readBack, err := os.ReadFile(tmpPath)
	if err != nil {
		s.log.Errorf("write %s: temp read-back failed: %v", path, err)
		os.Remove(tmpPath)
		return false
	}
	var probe interface{}
	if err := json.Unmarshal(readBack, &probe); err != nil {
		s.log.Errorf("write %s: temp content not well-formed: %v", path, err)
		os.Remove(tmpPath)
		return false
	}

	if err := os.Rename(tmpPath, path); err != nil {
		s.log.Errorf("write %s: rename failed: %v", path, err)
		os.Remove(tmpPath)
		return false
	}
	return true
}

// Read loads a document from path, falling back through the backup chain
// until something parses.
func (s *FileStore) Read(path string, out interface{}) bool {
	candidates := make([]string, 0, s.backups+1)
	candidates = append(candidates, path)
	for i := 1; i <= s.backups; i++ {
		candidates = append(candidates, backupPath(path, i))
	}

	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate)
		if err != nil {
			if !os.IsNotExist(err) {
				s.log.Warnf("read %s: %v", candidate, err)
			}
			continue
		}
		if err := decodeFresh(data, out); err != nil {
			s.log.Warnf("read %s: document corrupt, trying next backup: %v", candidate, err)
			continue
		}
		if candidate != path {
			s.log.Warnf("read %s: recovered from %s", path, candidate)
		}
		return true
	}
	return false
}

// decodeFresh unmarshals data into a fresh value of out's type and copies it
// into out only on success. Decoding straight into out would let a candidate
// that fails partway through leave fields behind, which a later fallback in
// the backup chain would then merge into instead of replace.
func decodeFresh(data []byte, out interface{}) error {
	dst := reflect.ValueOf(out)
	if dst.Kind() != reflect.Ptr || dst.IsNil() {
		return json.Unmarshal(data, out)
	}

	fresh := reflect.New(dst.Type().Elem())
	if err := json.Unmarshal(data, fresh.Interface()); err != nil {
		return err
	}
	dst.Elem().Set(fresh.Elem())
	return nil
}

// rotateBackups shifts path into .backup.1 and each existing backup one
// slot deeper, evicting the oldest. Caller holds the lock.
func (s *FileStore) rotateBackups(path string) {
	if s.backups == 0 {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return // nothing to rotate
	}

	for i := s.backups - 1; i >= 1; i-- {
		src := backupPath(path, i)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := os.Rename(src, backupPath(path, i+1)); err != nil {
			s.log.Warnf("rotate %s: %v", src, err)
		}
	}
	if err := os.Rename(path, backupPath(path, 1)); err != nil {
		s.log.Warnf("rotate %s: %v", path, err)
	}
}

func backupPath(path string, n int) string {
	return fmt.Sprintf("%s.backup.%d", path, n)
}
