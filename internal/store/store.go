// Package store keeps submitted records in a single JSON document mapping
// timestamps to field maps.
//
// Every Append is an unsynchronized read-modify-write of the whole file:
// read, parse, merge, seek to the start, write, truncate. Only one process
// may write the file. An interrupted write can leave invalid JSON behind;
// the next Append treats that as an empty store and overwrites it.
package store

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// TimestampLayout renders record keys with microsecond resolution in local
// time, e.g. "2024-03-01 14:05:09.123456".
const TimestampLayout = "2006-01-02 15:04:05.000000"

// Record is one submission: field name to field value.
type Record map[string]string

type Store struct {
	path string
	now  func() time.Time
}

func New(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// WithClock replaces the time source used for record keys.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Path() string {
	return s.path
}

// Ensure creates the store as an empty object if it does not exist yet,
// together with its directory. An existing file is left untouched.
func (s *Store) Ensure() error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return errors.Wrapf(err, "could not stat store %s", s.path)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrapf(err, "could not create store directory for %s", s.path)
	}

	if err := os.WriteFile(s.path, []byte("{}"), 0o644); err != nil {
		return errors.Wrapf(err, "could not create store %s", s.path)
	}

	return nil
}

// Append stores rec under the current timestamp and returns that key. A
// record already stored under the same key is replaced.
func (s *Store) Append(rec Record) (string, error) {
	key := s.now().Format(TimestampLayout)
	if err := s.Put(key, rec); err != nil {
		return "", err
	}
	return key, nil
}

// Put merges rec into the file under key.
func (s *Store) Put(key string, rec Record) error {
	f, err := os.OpenFile(s.path, os.O_RDWR, 0o644)
	if err != nil {
		return errors.Wrapf(err, "could not open store %s", s.path)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return errors.Wrapf(err, "could not read store %s", s.path)
	}

	// Entries are kept raw so records of any shape survive a rewrite.
	doc := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &doc); err != nil || doc == nil {
		doc = make(map[string]json.RawMessage)
	}

	raw, err := marshal(rec, "")
	if err != nil {
		return errors.Wrapf(err, "could not marshal record %s", key)
	}
	doc[key] = raw

	out, err := marshal(doc, "    ")
	if err != nil {
		return errors.Wrapf(err, "could not marshal store %s", s.path)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return errors.Wrapf(err, "could not seek the beginning of store %s", s.path)
	}

	if _, err := f.Write(out); err != nil {
		return errors.Wrapf(err, "could not write store %s", s.path)
	}

	if err := f.Truncate(int64(len(out))); err != nil {
		return errors.Wrapf(err, "could not truncate store %s", s.path)
	}

	return nil
}

// Load reads the whole store. Entries whose value is not a flat string
// object are skipped. Unlike Put, invalid JSON is reported.
func (s *Store) Load() (map[string]Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read store %s", s.path)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "could not unmarshal store %s", s.path)
	}

	records := make(map[string]Record, len(doc))
	for key, raw := range doc {
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil || rec == nil {
			continue
		}
		records[key] = rec
	}

	return records, nil
}

// marshal encodes without HTML escaping, so submitted markup characters stay
// readable in the file.
func marshal(v interface{}, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
