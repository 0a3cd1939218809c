package bundler

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
)

// FileAuditSink appends each AuditRecord, length-prefixed and RLP-encoded,
// to an underlying writer — the same flat event-log encoding
// native/swap/ledger.go uses for compact on-disk records. Safe for
// concurrent use by multiple Router goroutines.
type FileAuditSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewFileAuditSink wraps w as an AuditSink.
func NewFileAuditSink(w io.Writer) *FileAuditSink {
	return &FileAuditSink{w: w}
}

// Record RLP-encodes rec and appends it to the sink's writer as a
// four-byte big-endian length prefix followed by the encoded bytes.
// Encode or write failures are dropped; the audit trail is best-effort and
// must never block or fail a send.
func (s *FileAuditSink) Record(rec AuditRecord) {
	if s == nil || s.w == nil {
		return
	}
	encoded, err := rlp.EncodeToBytes(&rec)
	if err != nil {
		return
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(encoded)))

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(lenPrefix[:]); err != nil {
		return
	}
	_, _ = s.w.Write(encoded)
}

// ReadAuditRecords decodes a stream previously written by FileAuditSink.
func ReadAuditRecords(r io.Reader) ([]AuditRecord, error) {
	var out []AuditRecord
	for {
		var lenPrefix [4]byte
		if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
			if err == io.EOF {
				return out, nil
			}
			return out, err
		}
		n := binary.BigEndian.Uint32(lenPrefix[:])
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return out, err
		}
		var rec AuditRecord
		if err := rlp.DecodeBytes(buf, &rec); err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
