package chat

import (
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
)

type LogKind string

const (
	LogAccounts LogKind = "accounts"
	LogMessages LogKind = "messages"
)

func (k LogKind) fileName() string {
	switch k {
	case LogAccounts:
		return "accounts.txt"
	case LogMessages:
		return "messages.txt"
	default:
		Panicf("unknown log kind %q", string(k))
		return ""
	}
}

func (k LogKind) backupFileName() string {
	return "backup_" + k.fileName()
}

// LogStore maintains the durable account and message logs of one replica as
// main/backup file pairs of escape-encoded text lines. Durability is
// best-effort redundancy: I/O failures are logged and absorbed, never
// propagated to business callers.
type LogStore struct {
	Log Logger

	dir string

	mu sync.Mutex
}

func NewLogStore(dir string, logger Logger) *LogStore {
	return &LogStore{
		Log: logger,
		dir: dir,
	}
}

func (s *LogStore) Open() error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("cannot create directory %q: %w", s.dir, err)
	}

	return nil
}

func (s *LogStore) filePath(kind LogKind) string {
	return path.Join(s.dir, kind.fileName())
}

func (s *LogStore) backupFilePath(kind LogKind) string {
	return path.Join(s.dir, kind.backupFileName())
}

// Append writes one encoded record to the log's main file then to its backup
// file, syncing each. A crash between the two writes leaves the main file
// ahead of the backup by at most one record, never the reverse.
func (s *LogStore) Append(kind LogKind, fields []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.append(kind, fields)
}

func (s *LogStore) append(kind LogKind, fields []string) {
	data := EncodeRecord(fields)

	if err := appendFile(s.filePath(kind), data); err != nil {
		s.Log.Error("cannot append to %s log: %v", kind, err)
	}

	if err := appendFile(s.backupFilePath(kind), data); err != nil {
		s.Log.Error("cannot append to %s log backup: %v", kind, err)
	}
}

// ReadAll returns all decoded records of the log. It reads the main file
// first; if the main file is missing or empty it falls back to the backup
// file and, on success, resynchronizes the main file from it. A healthy main
// file is copied over the backup, since the backup can be one record behind
// after a crash. When both files are unreadable the result is nil (cold
// start).
func (s *LogStore) ReadAll(kind LogKind) [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.readAll(kind)
}

func (s *LogStore) readAll(kind LogKind) [][]string {
	filePath := s.filePath(kind)
	backupFilePath := s.backupFilePath(kind)

	lines, err := readLines(filePath)
	if err != nil && !os.IsNotExist(err) {
		s.Log.Error("cannot read %s log: %v", kind, err)
	}

	if len(lines) > 0 {
		if err := copyFile(filePath, backupFilePath); err != nil {
			s.Log.Error("cannot resynchronize %s log backup: %v", kind, err)
		}

		return decodeLines(lines)
	}

	lines, err = readLines(backupFilePath)
	if err != nil && !os.IsNotExist(err) {
		s.Log.Error("cannot read %s log backup: %v", kind, err)
	}

	if len(lines) == 0 {
		return nil
	}

	s.Log.Info("recovering %s log from its backup", kind)

	if err := copyFile(backupFilePath, filePath); err != nil {
		s.Log.Error("cannot repair %s log: %v", kind, err)
	}

	return decodeLines(lines)
}

// CompactAccounts rewrites the account log to one record per live username
// and returns the live set. A username is live if and only if it occurs an
// odd number of times, since each record toggles the liveness of its
// username.
func (s *LogStore) CompactAccounts() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.readAll(LogAccounts)

	counts := make(map[string]int)
	var order []string

	for _, record := range records {
		if len(record) != 1 {
			continue
		}

		username := record[0]

		if counts[username] == 0 {
			order = append(order, username)
		}

		counts[username]++
	}

	if err := clearFile(s.filePath(LogAccounts)); err != nil {
		s.Log.Error("cannot truncate account log: %v", err)
		return nil
	}

	live := make(map[string]struct{})

	for _, username := range order {
		if counts[username]%2 == 0 {
			continue
		}

		live[username] = struct{}{}

		if err := appendFile(s.filePath(LogAccounts),
			EncodeRecord([]string{username})); err != nil {
			s.Log.Error("cannot rewrite account log: %v", err)
		}
	}

	if err := copyFile(s.filePath(LogAccounts),
		s.backupFilePath(LogAccounts)); err != nil {
		s.Log.Error("cannot resynchronize account log backup: %v", err)
	}

	return live
}

// CompactMessages drops every pending message whose sender or recipient is
// not in the live account set and keeps the rest verbatim.
func (s *LogStore) CompactMessages(live map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.readAll(LogMessages)

	if err := clearFile(s.filePath(LogMessages)); err != nil {
		s.Log.Error("cannot truncate message log: %v", err)
		return
	}

	for _, record := range records {
		if len(record) != 3 {
			continue
		}

		recipient := record[0]
		sender := record[1]

		if _, found := live[recipient]; !found {
			continue
		}
		if _, found := live[sender]; !found {
			continue
		}

		if err := appendFile(s.filePath(LogMessages),
			EncodeRecord(record)); err != nil {
			s.Log.Error("cannot rewrite message log: %v", err)
		}
	}

	if err := copyFile(s.filePath(LogMessages),
		s.backupFilePath(LogMessages)); err != nil {
		s.Log.Error("cannot resynchronize message log backup: %v", err)
	}
}

func decodeLines(lines []string) [][]string {
	records := make([][]string, len(lines))

	for i, line := range lines {
		records[i] = DecodeRecord(line)
	}

	return records
}

func readLines(filePath string) ([]string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var lines []string

	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}

		lines = append(lines, line)
	}

	return lines, nil
}

func appendFile(filePath string, data []byte) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_APPEND

	file, err := os.OpenFile(filePath, flags, 0600)
	if err != nil {
		return fmt.Errorf("cannot open %q: %w", filePath, err)
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("cannot write %q: %w", filePath, err)
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("cannot sync %q: %w", filePath, err)
	}

	return nil
}

func copyFile(srcPath, dstPath string) error {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			data = nil
		} else {
			return fmt.Errorf("cannot read %q: %w", srcPath, err)
		}
	}

	if err := os.WriteFile(dstPath, data, 0600); err != nil {
		return fmt.Errorf("cannot write %q: %w", dstPath, err)
	}

	return nil
}

func clearFile(filePath string) error {
	if err := os.WriteFile(filePath, nil, 0600); err != nil {
		return fmt.Errorf("cannot truncate %q: %w", filePath, err)
	}

	return nil
}
