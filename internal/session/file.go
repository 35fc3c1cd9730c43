package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "dlbot/pkg/logx"
)

// fileStore keeps all sessions in memory and persists them as
//   - <prefix>.snapshot.json (full map, rewritten on compaction)
//   - <prefix>.journal.jsonl (one record per Put)
type fileStore struct {
	log logx.Logger

	mu           sync.Mutex
	snapshotPath string
	journal      *os.File
	sessions     map[int64]Session
	writes       int
	compactEvery int
}

func openFile(cfg Config, log logx.Logger) (*fileStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("session store path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	sessions := map[int64]Session{}
	if err := loadSnapshot(snapPath, sessions); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	replayed, err := replayJournal(journalPath, sessions)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("file store loaded",
		logx.String("path", prefix),
		logx.Int("sessions", len(sessions)),
		logx.Int("journal_records", replayed),
	)
	return &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journal:      jf,
		sessions:     sessions,
		compactEvery: 1000,
	}, nil
}

func (s *fileStore) Get(ctx context.Context, chatID int64) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return Session{}, ErrClosed
	}
	v, ok := s.sessions[chatID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return v, nil
}

func (s *fileStore) Put(ctx context.Context, v Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journal).Encode(v); err != nil {
		return err
	}
	s.sessions[v.ChatID] = v
	s.writes++
	if s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("session journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) Compact(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	return s.compactLocked()
}

// compactLocked writes the snapshot atomically, then truncates the journal.
func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	list := make([]Session, 0, len(s.sessions))
	for _, v := range s.sessions {
		list = append(list, v)
	}
	if err := json.NewEncoder(f).Encode(list); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	cerr := s.compactLocked()
	err := s.journal.Close()
	s.journal = nil
	if cerr != nil {
		return cerr
	}
	return err
}

func loadSnapshot(path string, out map[int64]Session) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var list []Session
	if err := json.NewDecoder(f).Decode(&list); err != nil {
		return err
	}
	for _, v := range list {
		out[v.ChatID] = v
	}
	return nil
}

// replayJournal applies journal records over out. A torn last line is skipped.
func replayJournal(path string, out map[int64]Session) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var v Session
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			continue
		}
		out[v.ChatID] = v
		n++
	}
	return n, sc.Err()
}
