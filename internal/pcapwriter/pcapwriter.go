// Package pcapwriter implements the classic pcap capture tap of spec §4.7:
// every ingress and synthesised packet is appended as a record, and the
// file is truncated back to just the global header (and writing resumes
// from that offset) once it exceeds the configured maximum size.
package pcapwriter

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket/layers"
)

const (
	pcapMagic        uint32 = 0xA1B2C3D4
	pcapVersionMajor uint16 = 2
	pcapVersionMinor uint16 = 4
	globalHeaderLen         = 24
	recordHeaderLen         = 16

	// MaxPCAPRecord is MAX_PCAP_RECORD from spec §4.7: the snaplen, and the
	// per-record captured-length cap.
	MaxPCAPRecord = 65535
)

// Writer appends pcap classic-format records to a file, rolling the file
// back to just the global header once it exceeds MaxFile bytes.
type Writer struct {
	mu      sync.Mutex
	f       *os.File
	offset  int64
	MaxFile int64
}

// Open creates or truncates path and writes the global header (spec §4.7:
// magic 0xA1B2C3D4, version 2.4, snaplen=MaxPCAPRecord, link-type raw IP).
func Open(path string, maxFile int64) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pcapwriter: open: %w", err)
	}
	w := &Writer{f: f, MaxFile: maxFile}
	if err := w.writeGlobalHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) writeGlobalHeader() error {
	hdr := make([]byte, globalHeaderLen)
	binary.LittleEndian.PutUint32(hdr[0:4], pcapMagic)
	binary.LittleEndian.PutUint16(hdr[4:6], pcapVersionMajor)
	binary.LittleEndian.PutUint16(hdr[6:8], pcapVersionMinor)
	// thiszone, sigfigs: always zero for a live, unadjusted capture.
	binary.LittleEndian.PutUint32(hdr[16:20], uint32(MaxPCAPRecord))
	binary.LittleEndian.PutUint32(hdr[20:24], uint32(layers.LinkTypeRaw))

	if _, err := w.f.WriteAt(hdr, 0); err != nil {
		return fmt.Errorf("pcapwriter: write global header: %w", err)
	}
	if err := w.f.Truncate(globalHeaderLen); err != nil {
		return fmt.Errorf("pcapwriter: truncate to global header: %w", err)
	}
	w.offset = globalHeaderLen
	return nil
}

// Write appends one record for pkt, captured at t. If the file would
// exceed MaxFile, it is first truncated back to just the global header
// (spec §4.7, §8 scenario 6).
func (w *Writer) Write(pkt []byte, t time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	captureLen := len(pkt)
	if captureLen > MaxPCAPRecord {
		captureLen = MaxPCAPRecord
	}
	recordSize := int64(recordHeaderLen + captureLen)

	if w.MaxFile > 0 && w.offset+recordSize > w.MaxFile {
		if err := w.rollLocked(); err != nil {
			return err
		}
	}

	hdr := make([]byte, recordHeaderLen)
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(t.Unix()))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(t.Nanosecond()/1000))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(captureLen))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(len(pkt)))

	if _, err := w.f.WriteAt(hdr, w.offset); err != nil {
		return fmt.Errorf("pcapwriter: write record header: %w", err)
	}
	if _, err := w.f.WriteAt(pkt[:captureLen], w.offset+recordHeaderLen); err != nil {
		return fmt.Errorf("pcapwriter: write record data: %w", err)
	}
	w.offset += recordSize
	return nil
}

func (w *Writer) rollLocked() error {
	if err := w.f.Truncate(globalHeaderLen); err != nil {
		return fmt.Errorf("pcapwriter: roll truncate: %w", err)
	}
	w.offset = globalHeaderLen
	return nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
