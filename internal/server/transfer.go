package server

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Tyrowin/packetchat/internal/protocol"
	"github.com/Tyrowin/packetchat/internal/storage"
)

// uploadSlot tracks one client-to-server upload. fileID 0 means free.
type uploadSlot struct {
	fileID   uint32
	size     uint64
	received uint64
	buf      []byte
}

// downloadSlot tracks one server-to-client download worker. fileID 0 means
// free.
type downloadSlot struct {
	fileID uint32
	cancel context.CancelFunc
}

// newFileID returns a new process-unique, non-zero file id.
func (s *Server) newFileID() uint32 {
	return s.fileIDs.Add(1)
}

// rejectUpload answers an upload request with a refusal and its reason.
func rejectUpload(c *Client, reason error) {
	c.reply(protocol.FileUploadValidation{Accepted: false})
	c.replyError(reason)
}

// rejectDownload answers a download request with a refusal and its reason.
func rejectDownload(c *Client, fileID uint32, reason error) {
	c.reply(protocol.FileDownloadValidation{Accepted: false, FileID: fileID})
	c.replyError(reason)
}

// handleUploadRequest reserves an upload slot and a receive buffer of the
// announced size, then replies with the new file id.
func (s *Server) handleUploadRequest(c *Client, req protocol.FileUploadRequest) {
	c.transferMu.Lock()

	index := -1
	for i := range c.uploads {
		if c.uploads[i].fileID == 0 {
			index = i
			break
		}
	}

	var reason error
	switch {
	case index < 0:
		reason = ErrTooManyUploads
	case req.Size == 0:
		reason = ErrInvalidFileSize
	case req.Size > s.cfg.MaxUploadSize:
		reason = ErrFileTooLarge
	}
	if reason != nil {
		c.transferMu.Unlock()
		c.logf("Rejected upload of %d bytes: %v", req.Size, reason)
		rejectUpload(c, reason)
		return
	}

	fileID := s.newFileID()
	c.uploads[index] = uploadSlot{
		fileID: fileID,
		size:   req.Size,
		buf:    make([]byte, req.Size),
	}
	c.transferMu.Unlock()

	c.logf("Accepted upload %d of %d bytes", fileID, req.Size)
	c.reply(protocol.FileUploadValidation{Accepted: true, FileID: fileID})
}

// handleFileDataUpload appends one chunk to the matching upload. Chunks for
// unknown ids are dropped silently since they may belong to a transfer that
// was cancelled or already completed.
func (s *Server) handleFileDataUpload(c *Client, pkt protocol.FileDataTransfer) {
	if pkt.FileID == 0 {
		return
	}

	c.transferMu.Lock()
	var slot *uploadSlot
	for i := range c.uploads {
		if c.uploads[i].fileID == pkt.FileID {
			slot = &c.uploads[i]
			break
		}
	}
	if slot == nil {
		c.transferMu.Unlock()
		return
	}

	n := protocol.ChunkLen(slot.size, slot.received)
	copy(slot.buf[slot.received:], pkt.Data[:n])
	slot.received += uint64(n)

	if slot.received < slot.size {
		c.transferMu.Unlock()
		return
	}

	fileID, data := slot.fileID, slot.buf
	*slot = uploadSlot{}
	c.transferMu.Unlock()

	if err := s.store.Write(fileID, data); err != nil {
		c.logf("Failed to store upload %d: %v", fileID, err)
		c.replyError(ErrStoreFailed)
		return
	}

	username := s.clients.Username(c)
	c.logf("Upload %d complete (%d bytes)", fileID, len(data))
	s.clients.Broadcast(protocol.ServerSuccess{Message: fmt.Sprintf("%s uploaded file %d", username, fileID)})
}

// handleDownloadRequest validates the request and starts a worker that
// streams the file in data-transfer packets.
func (s *Server) handleDownloadRequest(c *Client, req protocol.FileDownloadRequest) {
	c.transferMu.Lock()

	index := -1
	for i := range c.downloads {
		if c.downloads[i].fileID == 0 {
			index = i
			break
		}
	}
	if index < 0 {
		c.transferMu.Unlock()
		rejectDownload(c, req.FileID, ErrTooManyDownloads)
		return
	}

	info, file, err := s.openDownload(req.FileID)
	if err != nil {
		c.transferMu.Unlock()
		c.logf("Rejected download of file %d: %v", req.FileID, err)
		if errors.Is(err, storage.ErrNotFound) {
			rejectDownload(c, req.FileID, ErrFileNotFound)
		} else {
			rejectDownload(c, req.FileID, ErrFileUnavailable)
		}
		return
	}

	ctx, cancel := context.WithCancel(c.ctx)
	c.downloads[index] = downloadSlot{fileID: req.FileID, cancel: cancel}
	c.transferMu.Unlock()

	size := uint64(info.Size)
	if err := c.Send(protocol.FileDownloadValidation{Accepted: true, FileID: req.FileID, Size: size}); err != nil {
		c.logf("Error accepting download %d: %v", req.FileID, err)
		file.Close()
		c.releaseDownload(index)
		return
	}

	c.logf("Streaming file %d (%d bytes)", req.FileID, size)
	c.workers.Add(1)
	go c.runDownload(ctx, index, req.FileID, size, file)
}

// runDownload is the worker body: it streams file and then frees download
// slot index, however the stream ends.
func (c *Client) runDownload(ctx context.Context, index int, fileID uint32, size uint64, file io.ReadCloser) {
	defer c.workers.Done()
	defer c.releaseDownload(index)
	defer file.Close()
	c.streamFile(ctx, fileID, size, file)
}

// openDownload opens a stored file; file id 0 never names a file.
func (s *Server) openDownload(fileID uint32) (storage.Info, io.ReadCloser, error) {
	if fileID == 0 {
		return storage.Info{}, nil, storage.ErrNotFound
	}
	info, err := s.store.Stat(fileID)
	if err != nil {
		return storage.Info{}, nil, err
	}
	file, err := s.store.Open(fileID)
	if err != nil {
		return storage.Info{}, nil, err
	}
	return info, file, nil
}

// streamFile sends size bytes from r in chunks of at most ChunkSize. A send
// failure aborts at once; a read failure is reported with a cancel packet.
func (c *Client) streamFile(ctx context.Context, fileID uint32, size uint64, r io.Reader) {
	var sent uint64
	for sent < size {
		if ctx.Err() != nil {
			c.logf("Download %d stopped after %d of %d bytes", fileID, sent, size)
			return
		}

		n := protocol.ChunkLen(size, sent)
		pkt := protocol.FileDataTransfer{FileID: fileID}
		if _, err := io.ReadFull(r, pkt.Data[:n]); err != nil {
			c.logf("Error reading file %d: %v", fileID, err)
			c.reply(protocol.FileTransferCancel{FileID: fileID})
			return
		}
		if err := c.Send(pkt); err != nil {
			if !isExpectedCloseError(err) {
				c.logf("Error sending file %d: %v", fileID, err)
			}
			return
		}
		sent += uint64(n)
	}
	c.logf("Download %d complete (%d bytes)", fileID, size)
}

// releaseDownload frees download slot index.
func (c *Client) releaseDownload(index int) {
	c.transferMu.Lock()
	defer c.transferMu.Unlock()

	if cancel := c.downloads[index].cancel; cancel != nil {
		cancel()
	}
	c.downloads[index] = downloadSlot{}
}

// handleTransferCancel aborts the upload or download with the given id.
func (s *Server) handleTransferCancel(c *Client, pkt protocol.FileTransferCancel) {
	if pkt.FileID == 0 {
		return
	}

	c.transferMu.Lock()
	defer c.transferMu.Unlock()

	for i := range c.uploads {
		if c.uploads[i].fileID == pkt.FileID {
			c.uploads[i] = uploadSlot{}
			c.logf("Upload %d cancelled by client", pkt.FileID)
		}
	}
	for i := range c.downloads {
		if c.downloads[i].fileID == pkt.FileID && c.downloads[i].cancel != nil {
			c.downloads[i].cancel()
			c.logf("Download %d cancelled by client", pkt.FileID)
		}
	}
}

// drainTransfers stops every download worker of c, waits for them to exit
// and releases all upload buffers. The connection must already be closed so
// that no worker stays blocked in a send.
func (c *Client) drainTransfers() {
	c.cancel()
	c.workers.Wait()

	c.transferMu.Lock()
	defer c.transferMu.Unlock()
	for i := range c.uploads {
		c.uploads[i] = uploadSlot{}
	}
}

// activeTransfers returns the number of busy upload and download slots.
func (c *Client) activeTransfers() (uploads, downloads int) {
	c.transferMu.Lock()
	defer c.transferMu.Unlock()

	for _, u := range c.uploads {
		if u.fileID != 0 {
			uploads++
		}
	}
	for _, d := range c.downloads {
		if d.fileID != 0 {
			downloads++
		}
	}
	return uploads, downloads
}
