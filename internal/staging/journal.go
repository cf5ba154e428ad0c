package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Record is the persisted progress of the last update run.
type Record struct {
	State   State     `yaml:"state"`
	PID     int       `yaml:"pid"`
	Started time.Time `yaml:"started"`
	Updated time.Time `yaml:"updated"`
	Error   string    `yaml:"error,omitempty"`
}

// Journal writes a Record to disk on every staging transition so an
// interrupted run can be diagnosed afterwards.
type Journal struct {
	path string
	now  func() time.Time
	rec  Record
}

func NewJournal(path string) *Journal {
	return &Journal{path: path, now: time.Now}
}

// Begin starts a fresh record for this process.
func (j *Journal) Begin() error {
	now := j.now()
	j.rec = Record{State: StateIdle, PID: os.Getpid(), Started: now, Updated: now}
	return j.flush()
}

// Record stores state and, if err is non-nil, its message.
func (j *Journal) Record(state State, err error) error {
	j.rec.State = state
	j.rec.Updated = j.now()
	j.rec.Error = ""
	if err != nil {
		j.rec.Error = err.Error()
	}
	return j.flush()
}

// flush replaces the journal file in one rename so readers never see a
// truncated record.
func (j *Journal) flush() error {
	data, err := yaml.Marshal(&j.rec)
	if err != nil {
		return fmt.Errorf("marshal journal: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(j.path), ".journal-*")
	if err != nil {
		return fmt.Errorf("create journal: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write journal: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close journal: %w", err)
	}
	if err := os.Rename(tmp.Name(), j.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace journal: %w", err)
	}
	return nil
}

// ReadJournal loads the record at path.
func ReadJournal(path string) (Record, error) {
	var rec Record
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, err
	}
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("parse journal %s: %w", path, err)
	}
	return rec, nil
}
