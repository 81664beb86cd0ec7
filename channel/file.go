package channel

import (
	"bytes"
	"errors"
	"io"
	"time"
)

// File presents a marker-bounded sub-range of a channel's byte stream as a
// sequential reader or writer. Higher layers use it to read "this command's
// output" without knowing where in the overall conversation it lives.
//
// A reader synchronizes to an optional start marker at construction and
// returns io.EOF once the mandatory end marker is seen, pushing any bytes
// read past the marker back onto the channel for the next consumer. The
// channel itself is borrowed, never owned: closing a File does not close
// the channel.
type File struct {
	ch        Channel
	readable  bool
	writable  bool
	eofMarker []byte
	onClose   func(*File)

	blocking bool
	pending  []byte
	eof      bool
}

// NewFileReader creates a reader bounded by the given markers. If start is
// non-empty, everything up to and including its first occurrence is consumed
// and discarded before returning. The end marker is mandatory.
func NewFileReader(ch Channel, start, end []byte) (*File, error) {
	if len(end) == 0 {
		return nil, errors.New("end marker required for a framed reader")
	}

	f := &File{ch: ch, readable: true, eofMarker: end, blocking: true}
	if len(start) > 0 {
		if _, err := ch.RecvUntil(start, 0); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// NewFileWriter creates an unbounded writer over the channel. The optional
// onClose hook runs when the writer is closed, before writes are disabled,
// so it can inject trailing protocol data.
func NewFileWriter(ch Channel, onClose func(*File)) *File {
	return &File{ch: ch, writable: true, onClose: onClose}
}

// SetBlocking switches the reader between waiting for data and returning
// (0, nil) when none is pending.
func (f *File) SetBlocking(v bool) { f.blocking = v }

// AtEOF reports whether the end marker has been seen. Buffered data may
// still be pending for Read after this becomes true.
func (f *File) AtEOF() bool { return f.eof }

// Buffered returns a copy of the frame data that Fill has advanced past but
// Read has not yet handed out.
func (f *File) Buffered() []byte {
	return append([]byte(nil), f.pending...)
}

// Read returns frame data up to the end marker. In non-blocking mode a
// return of (0, nil) means no data is available yet; after the end marker it
// always returns io.EOF.
func (f *File) Read(p []byte) (int, error) {
	if !f.readable {
		return 0, errors.New("file not open for reading")
	}
	if len(p) == 0 {
		return 0, nil
	}

	for {
		if len(f.pending) > 0 {
			n := copy(p, f.pending)
			f.pending = f.pending[n:]
			return n, nil
		}
		if f.eof {
			return 0, io.EOF
		}

		n, err := f.readChunk(p)
		if err != nil {
			return 0, err
		}
		if n > 0 {
			return n, nil
		}
		if f.eof {
			return 0, io.EOF
		}
		if !f.blocking {
			return 0, nil
		}
		time.Sleep(pollInterval)
	}
}

// Fill advances the frame without handing data to the caller, buffering up
// to max bytes internally. Poll-style completion checks use it so a caller
// who asked for the output never loses any.
func (f *File) Fill(max int) error {
	if !f.readable {
		return errors.New("file not open for reading")
	}

	buf := make([]byte, 4096)
	for !f.eof && len(f.pending) < max {
		n, err := f.readChunk(buf)
		if err != nil {
			return err
		}
		if n == 0 && !f.eof {
			return nil
		}
		f.pending = append(f.pending, buf[:n]...)
	}
	return nil
}

// readChunk pulls one block from the channel into p and trims it at the end
// marker. It returns the number of frame bytes written to p; zero with no
// error means no data was available.
func (f *File) readChunk(p []byte) (int, error) {
	n, err := f.ch.Recv(p)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	block := p[:n]

	// Whole marker inside the block: everything past it belongs to the
	// next consumer.
	if i := bytes.Index(block, f.eofMarker); i >= 0 {
		if tail := block[i+len(f.eofMarker):]; len(tail) > 0 {
			f.ch.Unrecv(tail)
		}
		f.markEOF()
		return i, nil
	}

	// The marker may be split across deliveries: check every proper
	// prefix of the marker against the end of the block. Run on every
	// block, so a marker fragmented over many deliveries is still found.
	for i := 1; i < len(f.eofMarker); i++ {
		if !bytes.HasSuffix(block, f.eofMarker[:i]) {
			continue
		}
		res, err := f.probeMarker(f.eofMarker[i:])
		if err != nil {
			// Hand the block back as data; the error resurfaces
			// on the next read.
			return n, nil
		}
		switch res {
		case probeMismatch:
			continue
		case probeInconclusive:
			// Not enough look-ahead to decide yet. Put the whole
			// block back so no marker byte can leak out as data,
			// and report it as not available.
			f.ch.Unrecv(block)
			return 0, nil
		}

		// Consume the remainder of the marker, already buffered by
		// the successful probe.
		rest := make([]byte, len(f.eofMarker)-i)
		if _, err := f.ch.Recv(rest); err != nil {
			return n, nil
		}
		f.markEOF()
		return n - i, nil
	}

	return n, nil
}

type probeResult int

const (
	probeMismatch probeResult = iota
	probeMatch
	probeInconclusive
)

// probeMarker peeks ahead to decide whether rem (the unseen remainder of
// the end marker) comes next on the channel. In blocking mode it waits while
// the peeked bytes match but are incomplete, so a marker split across any
// number of deliveries is never emitted as data; in non-blocking mode an
// undecidable probe is reported instead of waited out.
func (f *File) probeMarker(rem []byte) (probeResult, error) {
	for {
		got, err := f.ch.Peek(len(rem))
		if err != nil {
			return probeMismatch, err
		}
		if !bytes.HasPrefix(rem, got) {
			return probeMismatch, nil
		}
		if len(got) == len(rem) {
			return probeMatch, nil
		}
		if !f.blocking {
			return probeInconclusive, nil
		}
		time.Sleep(pollInterval)
	}
}

// Write forwards data to the channel until the writer is closed. Writes
// after Close report zero bytes written, never an error.
func (f *File) Write(p []byte) (int, error) {
	if !f.writable {
		return 0, errors.New("file not open for writing")
	}
	if f.eof {
		return 0, nil
	}

	written := 0
	for written < len(p) {
		n, err := f.ch.Send(p[written:])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func (f *File) markEOF() {
	if f.eof {
		return
	}
	if f.onClose != nil {
		f.onClose(f)
	}
	f.eof = true
}

// Close marks the file finished. For writers the on-close hook fires first,
// while writes are still possible. Closing twice is a no-op.
func (f *File) Close() error {
	f.markEOF()
	return nil
}
