// Package state persists the directory index and surface bindings between
// runs.
//
// A state file is a fixed header followed by the payload:
//
//	magic    "RCPS"
//	version  uint16, big endian
//	codec    uint8 compression tag
//	size     uint32 uncompressed payload length
//	checksum 32-byte BLAKE3 of the uncompressed payload
//	payload  deterministic CBOR of Snapshot, compressed per codec
//
// Loading never trusts the file: any mismatch yields a *CorruptError and the
// caller starts from empty state.
package state

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/remotecpp-dev/remotecpp/internal/fileutil"
	"github.com/remotecpp-dev/remotecpp/internal/index"
	"github.com/remotecpp-dev/remotecpp/internal/metrics"
	"github.com/remotecpp-dev/remotecpp/internal/surface"
	"github.com/zeebo/blake3"
)

const (
	CurrentVersion uint16 = 1

	headerSize = 4 + 2 + 1 + 4 + 32
	// maxPayload bounds the allocation made for a declared payload size.
	maxPayload = 256 << 20
)

var magic = [4]byte{'R', 'C', 'P', 'S'}

// Snapshot is everything remotecpp restores at startup.
type Snapshot struct {
	SavedAt  time.Time         `cbor:"saved_at" json:"saved_at"`
	Host     string            `cbor:"host" json:"host"`
	Root     string            `cbor:"root" json:"root"`
	Listings []index.Listing   `cbor:"listings" json:"listings"`
	Surfaces []surface.Surface `cbor:"surfaces" json:"surfaces"`
}

// Empty reports whether s carries nothing worth restoring.
func (s Snapshot) Empty() bool {
	return len(s.Listings) == 0 && len(s.Surfaces) == 0
}

// Matches reports whether s was saved for the same host and project root.
func (s Snapshot) Matches(host, root string) bool {
	return s.Host == host && s.Root == root
}

// CorruptError reports a state file that cannot be used.
type CorruptError struct {
	Reason string
	Err    error
}

func (e *CorruptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt state: %s: %v", e.Reason, e.Err)
	}
	return "corrupt state: " + e.Reason
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}

// IsCorrupt reports whether err is a *CorruptError.
func IsCorrupt(err error) bool {
	var corrupt *CorruptError
	return errors.As(err, &corrupt)
}

type Options struct {
	Compression CompressionTag
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("state: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{MaxArrayElements: 1 << 24}.DecMode()
	if err != nil {
		panic("state: CBOR decoder initialization failed: " + err.Error())
	}
}

// Save encodes snap. Data that does not shrink under the requested codec is
// stored uncompressed.
func Save(snap Snapshot, opts Options) ([]byte, error) {
	payload, err := encMode.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	if len(payload) > maxPayload {
		return nil, fmt.Errorf("state payload of %d bytes exceeds limit", len(payload))
	}

	tag := opts.Compression
	body, err := compress(payload, tag)
	if errors.Is(err, errIncompressible) {
		tag, body, err = CompressionNone, payload, nil
	}
	if err != nil {
		return nil, err
	}

	sum := blake3.Sum256(payload)
	var out bytes.Buffer
	out.Grow(headerSize + len(body))
	out.Write(magic[:])
	_ = binary.Write(&out, binary.BigEndian, CurrentVersion)
	out.WriteByte(byte(tag))
	_ = binary.Write(&out, binary.BigEndian, uint32(len(payload)))
	out.Write(sum[:])
	out.Write(body)
	return out.Bytes(), nil
}

// Load decodes data written by Save.
func Load(data []byte) (snap Snapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			snap, err = Snapshot{}, &CorruptError{Reason: fmt.Sprintf("decoder panic: %v", r)}
		}
		if err != nil {
			metrics.RecordCorruptState()
		}
	}()

	if len(data) < headerSize {
		return Snapshot{}, &CorruptError{Reason: fmt.Sprintf("truncated header (%d bytes)", len(data))}
	}
	if !bytes.Equal(data[:4], magic[:]) {
		return Snapshot{}, &CorruptError{Reason: "bad magic"}
	}
	version := binary.BigEndian.Uint16(data[4:6])
	if version != CurrentVersion {
		return Snapshot{}, &CorruptError{Reason: fmt.Sprintf("unsupported version %d", version)}
	}
	tag := CompressionTag(data[6])
	size := binary.BigEndian.Uint32(data[7:11])
	if size > maxPayload {
		return Snapshot{}, &CorruptError{Reason: fmt.Sprintf("declared payload of %d bytes exceeds limit", size)}
	}
	var want [32]byte
	copy(want[:], data[11:headerSize])

	payload, err := decompress(data[headerSize:], tag, int(size))
	if err != nil {
		return Snapshot{}, &CorruptError{Reason: "payload", Err: err}
	}
	if blake3.Sum256(payload) != want {
		return Snapshot{}, &CorruptError{Reason: "checksum mismatch"}
	}
	if err := decMode.Unmarshal(payload, &snap); err != nil {
		return Snapshot{}, &CorruptError{Reason: "decode", Err: err}
	}
	return snap, nil
}

// SaveFile writes snap to path through a temporary file and rename.
func SaveFile(path string, snap Snapshot, opts Options) error {
	data, err := Save(snap, opts)
	if err == nil {
		err = fileutil.WriteAtomic(path, data, 0o644)
	}
	if err != nil {
		metrics.RecordStateSave(0, false)
		return fmt.Errorf("failed to write state: %w", err)
	}
	metrics.RecordStateSave(len(data), true)
	return nil
}

// LoadFile reads path. A missing file is empty state, not an error.
func LoadFile(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("failed to read state: %w", err)
	}
	return Load(data)
}

// Info describes a state file without decoding its payload.
type Info struct {
	Version     uint16
	Compression CompressionTag
	PayloadSize int
	FileSize    int
}

// Inspect reads the header of data.
func Inspect(data []byte) (Info, error) {
	if len(data) < headerSize || !bytes.Equal(data[:4], magic[:]) {
		return Info{}, &CorruptError{Reason: "bad header"}
	}
	return Info{
		Version:     binary.BigEndian.Uint16(data[4:6]),
		Compression: CompressionTag(data[6]),
		PayloadSize: int(binary.BigEndian.Uint32(data[7:11])),
		FileSize:    len(data),
	}, nil
}
