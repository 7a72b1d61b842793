package memory

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/nikmy/usertxn/pkg/errors"
	"github.com/nikmy/usertxn/pkg/logger"
)

const defaultSnapshotInterval = time.Minute

type Config struct {
	Snapshot         string        `yaml:"snapshot"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

// Open creates a store. With a snapshot path configured the store is
// loaded from the file and written back on Close and on every Run tick.
func Open(cfg Config, log logger.Logger) (*Store, error) {
	s := New()
	if cfg.Snapshot == "" {
		return s, nil
	}

	interval := cfg.SnapshotInterval
	if interval <= 0 {
		interval = defaultSnapshotInterval
	}

	s.snapshot = &snapshotter{
		fileName: cfg.Snapshot,
		interval: interval,
		store:    s,
		log:      log.With("memory_snapshot"),
	}

	data, err := s.snapshot.read()
	if err != nil {
		return nil, err
	}
	s.load(data)

	return s, nil
}

// Run saves snapshots periodically until ctx is done.
func (s *Store) Run(ctx context.Context) error {
	if s.snapshot == nil {
		return nil
	}

	ticker := time.NewTicker(s.snapshot.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.snapshot.log.Warn(s.snapshot.save())
		case <-ctx.Done():
			return nil
		}
	}
}

type snapshotter struct {
	fileName string
	interval time.Duration
	store    *Store
	log      logger.Logger
}

func (s *snapshotter) save() error {
	bytes, err := json.Marshal(s.store.data())
	if err != nil {
		return errors.WrapFail(err, "marshal snapshot")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.fileName), filepath.Base(s.fileName)+".*")
	if err != nil {
		return errors.WrapFail(err, "create temporary snapshot file")
	}
	defer os.Remove(tmp.Name())

	_, err = tmp.Write(bytes)
	err = errors.Collapse(err, tmp.Close())
	if err != nil {
		return errors.WrapFailf(err, "write %s", tmp.Name())
	}

	s.log.Debugf("saving snapshot to %s", s.fileName)
	return errors.WrapFailf(os.Rename(tmp.Name(), s.fileName), "replace %s", s.fileName)
}

func (s *snapshotter) read() (map[string][]byte, error) {
	bytes, err := os.ReadFile(s.fileName)
	if errors.Is(err, os.ErrNotExist) {
		s.log.Infof("no snapshot at %s, starting empty", s.fileName)
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapFailf(err, "read %s", s.fileName)
	}

	var data map[string][]byte
	err = json.Unmarshal(bytes, &data)
	if err != nil {
		return nil, errors.WrapFailf(err, "parse snapshot %s", s.fileName)
	}

	s.log.Infof("loaded %d keys from %s", len(data), s.fileName)
	return data, nil
}
