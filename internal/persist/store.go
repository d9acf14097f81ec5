package persist

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"pkt.systems/pslog"
)

// CommandLog is the persisted command history for one manager.
type CommandLog struct {
	Manager  string    `json:"manager"`
	Commands []string  `json:"commands"`
	SavedAt  time.Time `json:"saved_at"`
}

// Store persists command logs to disk, one file per manager.
type Store struct {
	dir string
	log pslog.Logger
}

// NewStore constructs a persistent store at the given directory.
func NewStore(dir string) (*Store, error) {
	return NewStoreWithLogger(dir, nil)
}

// NewStoreWithLogger constructs a persistent store with logging.
func NewStoreWithLogger(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("state_dir", dir)
	}
	return &Store{dir: dir, log: logger}, nil
}

// Load reads the command log for manager. A missing file is not an error.
func (s *Store) Load(manager string) (CommandLog, bool, error) {
	path := s.pathFor(manager)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.debug("state load miss", "manager", manager)
			return CommandLog{}, false, nil
		}
		s.warn("state load failed", "manager", manager, "err", err)
		return CommandLog{}, false, err
	}
	var entry CommandLog
	if err := json.Unmarshal(data, &entry); err != nil {
		s.warn("state load failed", "manager", manager, "err", err)
		return CommandLog{}, false, err
	}
	s.debug("state load ok", "manager", manager, "commands", len(entry.Commands))
	return entry, true, nil
}

// Save writes the command log for manager, replacing the previous one
// atomically.
func (s *Store) Save(manager string, commands []string) error {
	path := s.pathFor(manager)
	entry := CommandLog{
		Manager:  manager,
		Commands: append([]string(nil), commands...),
		SavedAt:  time.Now().UTC(),
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		s.warn("state save failed", "manager", manager, "err", err)
		return err
	}
	if err := writeAtomic(path, data); err != nil {
		s.warn("state save failed", "manager", manager, "err", err)
		return err
	}
	if s.log != nil {
		s.log.Trace("state save ok", "manager", manager, "commands", len(commands))
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "state-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *Store) pathFor(manager string) string {
	name := sanitize(manager)
	if name == "" {
		name = "default"
	}
	return filepath.Join(s.dir, "commands-"+name+".json")
}

func (s *Store) debug(msg string, kv ...any) {
	if s.log != nil {
		s.log.Debug(msg, kv...)
	}
}

func (s *Store) warn(msg string, kv ...any) {
	if s.log != nil {
		s.log.Warn(msg, kv...)
	}
}

func sanitize(value string) string {
	value = strings.TrimSpace(value)
	for _, prefix := range []string{"https://", "http://", "wss://", "ws://"} {
		value = strings.TrimPrefix(value, prefix)
	}
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return strings.Trim(b.String(), "_")
}
