// Package nvmstore persists cfgArray entries flagged FlagPersist to a
// flat file image: one 4-byte little-endian float32 slot per table
// index, addressed the same way persistence.c's commented-out
// EEPROM_ReadBytes/WriteBytes calls addressed NVM (`index * value_len`).
// A real EEPROM write-through was compiled out of the reference
// firmware entirely (guarded behind #ifdef __PERSISTENCE); here it is a
// small local file so the host binary actually round-trips state across
// restarts.
package nvmstore

import (
	"encoding/binary"
	"math"
	"os"
	"sync"

	"github.com/bdube/extruderfin/cmdobj"
)

const valueLen = 4

// Store owns one NVM image file.
type Store struct {
	mu   sync.Mutex
	path string
}

// New returns a Store backed by path. The file need not exist yet;
// Load treats a missing file as an empty image.
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads the image and writes each FlagPersist entry's persisted
// value through to its bound target, skipping any index the image
// isn't long enough to contain (a table grown since the image was last
// written).
func (s *Store) Load(tbl cmdobj.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, idx := range tbl.Persistable() {
		off := idx * valueLen
		if off+valueLen > len(data) {
			continue
		}
		bits := binary.LittleEndian.Uint32(data[off : off+valueLen])
		v := float64(math.Float32frombits(bits))
		cmd := &cmdobj.CmdObj{ValueF32: v}
		tbl.Set(idx, cmd)
	}
	return nil
}

// Persist writes entry idx's current value through to the image, a
// no-op if that entry isn't flagged FlagPersist. Called after a
// successful cfgArray Set, mirroring nvm_persist()'s
// "only if GET_TABLE_BYTE(flags) & F_PERSIST" gate.
func (s *Store) Persist(tbl cmdobj.Table, idx int) error {
	if idx < 0 || idx >= len(tbl) {
		return nil
	}
	e := tbl[idx]
	if e.Kind != cmdobj.EntrySingle || e.Flags&cmdobj.FlagPersist == 0 {
		return nil
	}
	return s.writeAt(idx, e.Get())
}

func (s *Store) writeAt(idx int, v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, valueLen)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
	_, err = f.WriteAt(buf, int64(idx*valueLen))
	return err
}
