package protocol

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

var (
	// ErrTruncated is returned when a packet ends before its declared size.
	ErrTruncated = errors.New("truncated packet")
	// ErrUnknownType is returned when encoding a packet without a wire layout.
	ErrUnknownType = errors.New("unknown packet type")
)

// Encode serialises p into discriminant + payload.
func Encode(p Packet) ([]byte, error) {
	t := p.Type()
	if !Known(t) {
		return nil, errors.Wrapf(ErrUnknownType, "encode %s", t)
	}
	buf := make([]byte, HeaderSize+SizeOf(t))
	buf[0] = byte(t)
	p.marshal(buf[HeaderSize:])
	return buf, nil
}

// Decode parses one packet from the start of data. Bytes beyond the
// packet's declared size are ignored.
func Decode(data []byte) (Packet, error) {
	if len(data) < HeaderSize {
		return nil, errors.Wrap(ErrTruncated, "missing header")
	}
	t := Type(data[0])
	if !Known(t) {
		return Unknown{Code: t}, nil
	}
	size := SizeOf(t)
	if len(data)-HeaderSize < size {
		return nil, errors.Wrapf(ErrTruncated, "%s: want %d payload bytes, have %d", t, size, len(data)-HeaderSize)
	}
	return decoders[t](data[HeaderSize : HeaderSize+size]), nil
}

// ReadPacket reads exactly one packet from r.
//
// A read that returns no bytes at the header yields io.EOF, meaning the peer
// closed the connection. The payload is read until complete; if the stream
// ends inside it the error wraps ErrTruncated.
func ReadPacket(r io.Reader) (Packet, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "read packet header")
	}

	t := Type(header[0])
	if !Known(t) {
		return Unknown{Code: t}, nil
	}

	payload := make([]byte, SizeOf(t))
	if len(payload) > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, errors.Wrapf(ErrTruncated, "read %s payload", t)
			}
			return nil, errors.Wrapf(err, "read %s payload", t)
		}
	}
	return decoders[t](payload), nil
}

// WritePacket writes p to w in a single Write call.
func WritePacket(w io.Writer, p Packet) (int, error) {
	buf, err := Encode(p)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(buf)
	if err != nil {
		return n, errors.Wrapf(err, "write %s packet", p.Type())
	}
	return n, nil
}

// putText copies s into a fixed-width field, truncating so that the last
// byte always stays NUL.
func putText(dst []byte, s string) {
	copy(dst[:len(dst)-1], s)
}

// getText reads a NUL-terminated field. A field without a terminator is
// returned whole, which is one byte longer than any valid value.
func getText(src []byte) string {
	if i := bytes.IndexByte(src, 0); i >= 0 {
		return string(src[:i])
	}
	return string(src)
}

func putBool(dst []byte, v bool) {
	if v {
		dst[0] = 1
	}
}

func (p Join) marshal(b []byte)           { putText(b, p.Username) }
func (p Leave) marshal(b []byte)          { putText(b, p.Username) }
func (p DefineUsername) marshal(b []byte) { putText(b, p.Username) }
func (p ServerError) marshal(b []byte)    { putText(b, p.Message) }
func (p ServerSuccess) marshal(b []byte)  { putText(b, p.Message) }
func (p JoinRoom) marshal(b []byte)       { putText(b, p.Name) }
func (LeaveRoom) marshal([]byte)          {}
func (ListRooms) marshal([]byte)          {}
func (Quit) marshal([]byte)               {}
func (Unknown) marshal([]byte)            {}

func (p Text) marshal(b []byte) {
	putText(b[:messageField], p.Message)
	putText(b[messageField:], p.Username)
}

func (p UsernameChanged) marshal(b []byte) {
	putText(b[:usernameField], p.OldUsername)
	putText(b[usernameField:], p.NewUsername)
}

func (p CreateRoom) marshal(b []byte) {
	putText(b[:roomNameField], p.Name)
	putText(b[roomNameField:], p.Description)
}

func (p FileUploadRequest) marshal(b []byte) {
	binary.BigEndian.PutUint64(b, p.Size)
}

func (p FileUploadValidation) marshal(b []byte) {
	putBool(b, p.Accepted)
	binary.BigEndian.PutUint32(b[1:], p.FileID)
}

func (p FileDataTransfer) marshal(b []byte) {
	binary.BigEndian.PutUint32(b, p.FileID)
	copy(b[4:], p.Data[:])
}

func (p FileDownloadRequest) marshal(b []byte) {
	binary.BigEndian.PutUint32(b, p.FileID)
}

func (p FileDownloadValidation) marshal(b []byte) {
	putBool(b, p.Accepted)
	binary.BigEndian.PutUint32(b[1:], p.FileID)
	binary.BigEndian.PutUint64(b[5:], p.Size)
}

func (p FileTransferCancel) marshal(b []byte) {
	binary.BigEndian.PutUint32(b, p.FileID)
}

var decoders = map[Type]func(b []byte) Packet{
	TypeJoin:           func(b []byte) Packet { return Join{Username: getText(b)} },
	TypeLeave:          func(b []byte) Packet { return Leave{Username: getText(b)} },
	TypeDefineUsername: func(b []byte) Packet { return DefineUsername{Username: getText(b)} },
	TypeServerError:    func(b []byte) Packet { return ServerError{Message: getText(b)} },
	TypeServerSuccess:  func(b []byte) Packet { return ServerSuccess{Message: getText(b)} },
	TypeJoinRoom:       func(b []byte) Packet { return JoinRoom{Name: getText(b)} },
	TypeLeaveRoom:      func([]byte) Packet { return LeaveRoom{} },
	TypeListRooms:      func([]byte) Packet { return ListRooms{} },
	TypeQuit:           func([]byte) Packet { return Quit{} },
	TypeText: func(b []byte) Packet {
		return Text{Message: getText(b[:messageField]), Username: getText(b[messageField:])}
	},
	TypeUsernameChanged: func(b []byte) Packet {
		return UsernameChanged{OldUsername: getText(b[:usernameField]), NewUsername: getText(b[usernameField:])}
	},
	TypeCreateRoom: func(b []byte) Packet {
		return CreateRoom{Name: getText(b[:roomNameField]), Description: getText(b[roomNameField:])}
	},
	TypeFileUploadRequest: func(b []byte) Packet {
		return FileUploadRequest{Size: binary.BigEndian.Uint64(b)}
	},
	TypeFileUploadValidation: func(b []byte) Packet {
		return FileUploadValidation{Accepted: b[0] != 0, FileID: binary.BigEndian.Uint32(b[1:])}
	},
	TypeFileDataTransfer: func(b []byte) Packet {
		p := FileDataTransfer{FileID: binary.BigEndian.Uint32(b)}
		copy(p.Data[:], b[4:])
		return p
	},
	TypeFileDownloadRequest: func(b []byte) Packet {
		return FileDownloadRequest{FileID: binary.BigEndian.Uint32(b)}
	},
	TypeFileDownloadValidation: func(b []byte) Packet {
		return FileDownloadValidation{
			Accepted: b[0] != 0,
			FileID:   binary.BigEndian.Uint32(b[1:]),
			Size:     binary.BigEndian.Uint64(b[5:]),
		}
	},
	TypeFileTransferCancel: func(b []byte) Packet {
		return FileTransferCancel{FileID: binary.BigEndian.Uint32(b)}
	},
}

// ChunkLen returns the number of meaningful bytes in the next data chunk of
// a transfer of total bytes of which done are already transferred.
func ChunkLen(total, done uint64) int {
	if done >= total {
		return 0
	}
	if remaining := total - done; remaining < ChunkSize {
		return int(remaining)
	}
	return ChunkSize
}
