package output

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"recon-ingest-go/internal/types"
)

// rawLogMagic opens every recording. Each record that follows is
// [unix nanos u64][length u32][CBOR Record], little-endian.
const rawLogMagic = "RECONRW1"

const (
	KindFrame = "frame"
	KindPose  = "pose"
)

// Record is one recorded wire message. Exactly one of Frame and Pose is set.
type Record struct {
	Time  time.Time         `cbor:"-"`
	Kind  string            `cbor:"kind"`
	Frame *types.Frame      `cbor:"frame,omitempty"`
	Pose  *types.PoseUpdate `cbor:"pose,omitempty"`
}

// Recorder appends frames and poses to a recording file. It is safe for use
// by both pipelines at once.
type Recorder struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *bufio.Writer
	now  func() time.Time
}

func NewRecorder(outputDir string, prefix string) (*Recorder, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	timestamp := time.Now().Format("20060102_150405")
	filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s.bin", timestamp, prefix))
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriterSize(f, 1024*1024)
	if _, err := w.WriteString(rawLogMagic); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Recorder{
		path: filename,
		f:    f,
		w:    w,
		now:  time.Now,
	}, nil
}

func (r *Recorder) Path() string {
	return r.path
}

func (r *Recorder) RecordFrame(frame types.Frame) error {
	return r.record(Record{Kind: KindFrame, Frame: &frame})
}

func (r *Recorder) RecordPose(p types.PoseUpdate) error {
	return r.record(Record{Kind: KindPose, Pose: &p})
}

func (r *Recorder) record(rec Record) error {
	payload, err := cbor.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", rec.Kind, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return fmt.Errorf("recorder is closed")
	}
	var header [12]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(r.now().UnixNano()))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload)))
	if _, err := r.w.Write(header[:]); err != nil {
		return err
	}
	if _, err := r.w.Write(payload); err != nil {
		return err
	}
	return r.w.Flush()
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	if err := r.w.Flush(); err != nil {
		_ = r.f.Close()
		r.w = nil
		return err
	}
	err := r.f.Close()
	r.w = nil
	return err
}

// Reader iterates over a recording.
type Reader struct {
	r *bufio.Reader
}

var ErrBadMagic = errors.New("not a recording")

func NewReader(src io.Reader) (*Reader, error) {
	br := bufio.NewReader(src)
	magic := make([]byte, len(rawLogMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if string(magic) != rawLogMagic {
		return nil, ErrBadMagic
	}
	return &Reader{r: br}, nil
}

// Next returns the next record, or io.EOF after the last complete one.
// A record cut short by a crash is reported as io.ErrUnexpectedEOF.
func (rd *Reader) Next() (Record, error) {
	var header [12]byte
	if _, err := io.ReadFull(rd.r, header[:]); err != nil {
		return Record{}, err
	}
	ts := int64(binary.LittleEndian.Uint64(header[:8]))
	length := binary.LittleEndian.Uint32(header[8:12])
	payload := make([]byte, length)
	if _, err := io.ReadFull(rd.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Record{}, err
	}
	var rec Record
	if err := cbor.Unmarshal(payload, &rec); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	rec.Time = time.Unix(0, ts)
	return rec, nil
}
