package framing

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// parser states for the receive loop.
type parseState int

const (
	stateHeader parseState = iota
	stateName
	stateBody
	stateDone
)

// ReceivedFile records one completed file from the stream.
type ReceivedFile struct {
	Name   string
	Path   string
	Size   uint64
	SHA256 string
}

// Receiver consumes a fixed number of files from a single connection and
// writes them into a directory.
type Receiver struct {
	dir    string
	logger *zerolog.Logger
}

// NewReceiver creates a receiver that stores files under dir.
func NewReceiver(dir string, logger zerolog.Logger) *Receiver {
	return &Receiver{dir: dir, logger: &logger}
}

// ReceiveFiles reads exactly count files from conn. Any parse or I/O failure
// aborts the session; partial files are removed before returning.
func (r *Receiver) ReceiveFiles(ctx context.Context, conn net.Conn, count int) ([]ReceivedFile, error) {
	reader := bufio.NewReader(conn)
	received := make([]ReceivedFile, 0, count)
	for len(received) < count {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		file, err := r.receiveFile(reader)
		if err != nil {
			if file != nil {
				_ = os.Remove(file.Path)
			}
			return nil, fmt.Errorf("failed to receive file %d of %d: %w", len(received)+1, count, err)
		}
		r.logger.Info().
			Str("file", file.Name).
			Uint64("bytes", file.Size).
			Str("sha256", file.SHA256).
			Msg("Received file")
		received = append(received, *file)
	}
	return received, nil
}

// receiveFile drives the HEADER -> NAME -> BODY state machine for one file.
// The returned file is non-nil once a destination path exists, even on error,
// so the caller can discard partial output.
func (r *Receiver) receiveFile(reader *bufio.Reader) (*ReceivedFile, error) {
	var (
		state    = stateHeader
		header   Header
		name     string
		out      *os.File
		digest   hash.Hash
		result   *ReceivedFile
		received uint64
	)
	for state != stateDone {
		switch state {
		case stateHeader:
			h, err := readHeader(reader)
			if err != nil {
				return nil, err
			}
			header = h
			state = stateName
		case stateName:
			nameBytes := make([]byte, header.NameLen)
			if _, err := io.ReadFull(reader, nameBytes); err != nil {
				return nil, fmt.Errorf("failed to read name: %w", err)
			}
			// Sender-supplied names never escape the target directory.
			name = filepath.Base(string(nameBytes))
			path := filepath.Join(r.dir, name)
			f, err := os.Create(path)
			if err != nil {
				return nil, fmt.Errorf("failed to create %s: %w", path, err)
			}
			out = f
			digest = sha256.New()
			result = &ReceivedFile{Name: name, Path: path, Size: header.Size}
			state = stateBody
		case stateBody:
			remaining := header.Size - received
			chunk := make([]byte, int(min(remaining, 1<<20)))
			n, err := reader.Read(chunk)
			if n > 0 {
				if _, werr := out.Write(chunk[:n]); werr != nil {
					_ = out.Close()
					return result, fmt.Errorf("failed to write body: %w", werr)
				}
				digest.Write(chunk[:n])
				received += uint64(n)
			}
			if received == header.Size {
				if err := out.Close(); err != nil {
					return result, fmt.Errorf("failed to close %s: %w", result.Path, err)
				}
				result.SHA256 = hex.EncodeToString(digest.Sum(nil))
				state = stateDone
				continue
			}
			if err != nil {
				_ = out.Close()
				if err == io.EOF {
					return result, fmt.Errorf("%w: got %d of %d bytes", ErrShortBody, received, header.Size)
				}
				return result, fmt.Errorf("failed to read body: %w", err)
			}
		}
	}
	return result, nil
}

// readHeader reads 10-byte header candidates. If a candidate fails the sanity
// bounds, the window slides forward one byte and retries. This tolerates a
// small class of spurious prefix bytes from the VSOCK driver without
// weakening the size and length bounds.
func readHeader(reader *bufio.Reader) (Header, error) {
	window := make([]byte, 0, HeaderSize)
	for {
		for len(window) < HeaderSize {
			b, err := reader.ReadByte()
			if err != nil {
				return Header{}, fmt.Errorf("failed to read header: %w", err)
			}
			window = append(window, b)
		}
		header, err := DecodeHeader(window)
		if err != nil {
			return Header{}, err
		}
		if header.Valid() {
			return header, nil
		}
		window = window[1:]
	}
}
