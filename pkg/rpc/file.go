package rpc

import (
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/ronrpc/ronrpc/pkg/wire"
)

// sendFile streams path to the peer as a FileMeta header followed by
// its raw bytes in chunk-sized writes (§4.3/§4.6). No other frame may
// be interleaved with the body, so the FileMeta frame and the whole
// body are written while holding writeMu.
func (c *Conn) sendFile(functionID int32, path string) error {
	f, err := os.Open(path)
	if err != nil {
		c.respondError(functionID, "IOError", err.Error())
		return errors.Wrap(err, "opening file to send")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		c.respondError(functionID, "IOError", err.Error())
		return errors.Wrap(err, "stat file to send")
	}

	gid, anomalous, err := c.corr.PopID(functionID)
	if err != nil {
		return err
	}
	if anomalous {
		// still send the file; the anomaly is logged by the caller's
		// response path for ordinary values, so just proceed here.
		_ = anomalous
	}

	// DstPath is left nil: the receiver picks its own save location
	// (a temp file, per beginFileWrite) rather than trusting a path
	// from the sender's filesystem, which on the same host would
	// collide with path itself and cross-host would name a directory
	// that doesn't exist (S4; original_source's receive_file never
	// takes a destination from the sender either).
	meta := wire.Packet{
		Header: wire.Header{FunctionID: functionID, GlobalID: gid, Kind: wire.KindFileMeta},
		File:   &wire.FileMeta{SrcPath: path, Size: int32(info.Size())},
	}
	head, err := meta.Pack()
	if err != nil {
		return errors.Wrap(ErrUnsupportedType, err.Error())
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	write := writeFull
	if c.cipher != nil {
		write = c.cipher.WriteEnvelope
	}
	if err := write(c.netConn, head); err != nil {
		return errors.Wrap(ErrConnectionLost, err.Error())
	}

	buf := make([]byte, 2*c.cfg.ChunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if werr := write(c.netConn, buf[:n]); werr != nil {
				return errors.Wrap(ErrConnectionLost, werr.Error())
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "reading file to send")
		}
	}
}
