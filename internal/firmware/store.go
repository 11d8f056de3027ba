// Package firmware locates and materializes over-the-air firmware images
// from a directory of Intel HEX files.
package firmware

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrNotFound is returned by Store.Get when no firmware matches the
// requested (type, version) pair.
var ErrNotFound = errors.New("firmware not found")

// Firmware is a fully materialized OTA image: the padded data bytes and
// their CRC-16, ready to be sliced into 16-byte blocks.
type Firmware struct {
	FwType    uint16
	FwVersion uint16
	Name      string
	Blocks    uint16
	Crc       uint16
	Data      []byte
}

type key struct {
	fwType    uint16
	fwVersion uint16
}

// Store locates firmware files named "<type>__<version>__<name>.hex" in a
// directory, parses them, and caches the materialized result. It is safe
// for concurrent use; it holds no writable state once a firmware is
// loaded.
type Store struct {
	dir string
	log *zap.Logger

	mu    sync.RWMutex
	cache map[key]*Firmware

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewStore opens dir (which must already exist) and starts a best-effort
// watch over it for logging purposes. The watch never invalidates the
// cache; cache invalidation is intentionally out of scope.
func NewStore(dir string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("firmware: directory %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("firmware: %q is not a directory", dir)
	}

	s := &Store{
		dir:   dir,
		log:   log.With(zap.String("component", "firmware_store")),
		cache: make(map[key]*Firmware),
		done:  make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err := watcher.Add(dir); err == nil {
			s.watcher = watcher
			go s.watch()
		} else {
			watcher.Close()
			s.log.Warn("could not watch firmware directory", zap.Error(err))
		}
	} else {
		s.log.Warn("fsnotify unavailable, firmware directory changes will not be logged", zap.Error(err))
	}

	return s, nil
}

func (s *Store) watch() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.log.Info("firmware directory changed",
				zap.String("file", ev.Name), zap.String("op", ev.Op.String()))
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("firmware directory watch error", zap.Error(err))
		case <-s.done:
			return
		}
	}
}

// Close stops the directory watch.
func (s *Store) Close() error {
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// Get returns the materialized firmware for (fwType, fwVersion), loading
// and caching it from disk on first request.
func (s *Store) Get(fwType, fwVersion uint16) (*Firmware, error) {
	k := key{fwType, fwVersion}

	s.mu.RLock()
	if fw, ok := s.cache[k]; ok {
		s.mu.RUnlock()
		return fw, nil
	}
	s.mu.RUnlock()

	fw, err := s.load(fwType, fwVersion)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[k] = fw
	s.mu.Unlock()

	return fw, nil
}

func (s *Store) load(fwType, fwVersion uint16) (*Firmware, error) {
	pattern := filepath.Join(s.dir, fmt.Sprintf("%d__%d__*.hex", fwType, fwVersion))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("firmware: glob %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: type=%d version=%d", ErrNotFound, fwType, fwVersion)
	}

	path := matches[0]
	_, _, name, err := parseFirmwareFilename(filepath.Base(path))
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("firmware: open %q: %w", path, err)
	}
	defer f.Close()

	data, err := parseIntelHex(f)
	if err != nil {
		return nil, fmt.Errorf("firmware: parse %q: %w", path, err)
	}

	data = padTo16(data)
	blocks := uint16(len(data) / 16)
	crc := CRC16Modbus(data)

	s.log.Info("loaded firmware",
		zap.Uint16("fw_type", fwType), zap.Uint16("fw_version", fwVersion),
		zap.String("name", name), zap.Uint16("blocks", blocks), zap.Uint16("crc", crc))

	return &Firmware{
		FwType:    fwType,
		FwVersion: fwVersion,
		Name:      name,
		Blocks:    blocks,
		Crc:       crc,
		Data:      data,
	}, nil
}

func padTo16(data []byte) []byte {
	rem := len(data) % 16
	if rem == 0 {
		return data
	}
	pad := 16 - rem
	padded := make([]byte, len(data)+pad)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = 0xFF
	}
	return padded
}

// Block returns the 16 bytes at the given block index, or an all-0xFF
// terminator block if block is out of range.
func (f *Firmware) Block(block uint16) [16]byte {
	var out [16]byte
	if block >= f.Blocks {
		for i := range out {
			out[i] = 0xFF
		}
		return out
	}
	start := int(block) * 16
	copy(out[:], f.Data[start:start+16])
	return out
}
