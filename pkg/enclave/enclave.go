// Package enclave provides helpful functions when communicating in and out of
// an enclave over a vsock connection.
package enclave

import (
	"bufio"
	"context"
	"io"
)

const (
	// DefaultHostCID is the default host CID for the enclave.
	DefaultHostCID = 3
	// FilePort is the vsock port the enclave listens on for the framed
	// file stream.
	FilePort = uint32(5005)
	// HeartbeatPort is the vsock port the host watchdog listens on.
	HeartbeatPort = uint32(5001)
	// LogPort is the vsock port the host listens on for the enclave's log
	// stream.
	LogPort = uint32(4999)
)

// WriteWithContext is a context aware wrapper around io.Writer.Write.
// The function will return after the write has completed or the context is
// canceled.
func WriteWithContext(ctx context.Context, writer io.Writer, data []byte) error {
	writeChan := make(chan error, 1)
	go func() {
		_, err := writer.Write(data)
		if ctx.Err() == nil {
			writeChan <- err
		}
		close(writeChan)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-writeChan:
		return err
	}
}

// ReadBytesWithContext is a context aware wrapper around bufio.Reader.ReadBytes.
// The function will return after the read has completed or the context is
// canceled.
func ReadBytesWithContext(ctx context.Context, reader io.Reader, delim byte) ([]byte, error) {
	bufReader := bufio.NewReader(reader)
	byteChan := make(chan []byte, 1)
	errChan := make(chan error, 1)

	go func() {
		data, err := bufReader.ReadBytes(delim)
		if ctx.Err() == nil {
			byteChan <- data
			errChan <- err
		}
		close(byteChan)
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data := <-byteChan:
		return data, <-errChan
	}
}
