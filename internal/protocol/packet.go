// Package protocol defines the binary packet format shared by the chat server
// and its clients.
//
// Every packet starts with a one-byte discriminant followed by a payload whose
// size is fixed per discriminant. Text fields are fixed-width and NUL padded,
// integers are big-endian.
package protocol

import "fmt"

// Type is the leading discriminant byte of a packet.
type Type uint8

// Packet discriminants.
const (
	TypeJoin Type = iota + 1
	TypeLeave
	TypeText
	TypeDefineUsername
	TypeServerError
	TypeUsernameChanged
	TypeCreateRoom
	TypeJoinRoom
	TypeLeaveRoom
	TypeListRooms
	TypeServerSuccess
	TypeFileUploadRequest
	TypeFileUploadValidation
	TypeFileDataTransfer
	TypeFileDownloadRequest
	TypeFileDownloadValidation
	TypeFileTransferCancel
	TypeQuit
)

// Field widths, terminator included for text fields.
const (
	UsernameMaxLength = 20
	MessageMaxLength  = 250
	RoomNameMaxLength = 20
	RoomDescMaxLength = 120
	ChunkSize         = 200

	usernameField = UsernameMaxLength + 1
	messageField  = MessageMaxLength + 1
	roomNameField = RoomNameMaxLength + 1
	roomDescField = RoomDescMaxLength + 1
)

// HeaderSize is the size of the discriminant.
const HeaderSize = 1

var payloadSizes = map[Type]int{
	TypeJoin:                   usernameField,
	TypeLeave:                  usernameField,
	TypeText:                   messageField + usernameField,
	TypeDefineUsername:         usernameField,
	TypeServerError:            messageField,
	TypeUsernameChanged:        2 * usernameField,
	TypeCreateRoom:             roomNameField + roomDescField,
	TypeJoinRoom:               roomNameField,
	TypeLeaveRoom:              0,
	TypeListRooms:              0,
	TypeServerSuccess:          messageField,
	TypeFileUploadRequest:      8,
	TypeFileUploadValidation:   1 + 4,
	TypeFileDataTransfer:       4 + ChunkSize,
	TypeFileDownloadRequest:    4,
	TypeFileDownloadValidation: 1 + 4 + 8,
	TypeFileTransferCancel:     4,
	TypeQuit:                   0,
}

var typeNames = map[Type]string{
	TypeJoin:                   "join",
	TypeLeave:                  "leave",
	TypeText:                   "text",
	TypeDefineUsername:         "define-username",
	TypeServerError:            "server-error",
	TypeUsernameChanged:        "username-changed",
	TypeCreateRoom:             "create-room",
	TypeJoinRoom:               "join-room",
	TypeLeaveRoom:              "leave-room",
	TypeListRooms:              "list-rooms",
	TypeServerSuccess:          "server-success",
	TypeFileUploadRequest:      "file-upload-request",
	TypeFileUploadValidation:   "file-upload-validation",
	TypeFileDataTransfer:       "file-data-transfer",
	TypeFileDownloadRequest:    "file-download-request",
	TypeFileDownloadValidation: "file-download-validation",
	TypeFileTransferCancel:     "file-transfer-cancel",
	TypeQuit:                   "quit",
}

// SizeOf returns the payload size of t, or 0 if t is unknown.
func SizeOf(t Type) int {
	return payloadSizes[t]
}

// Known reports whether t is a defined discriminant.
func Known(t Type) bool {
	_, ok := payloadSizes[t]
	return ok
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// Packet is implemented by every packet variant.
type Packet interface {
	Type() Type
	marshal(payload []byte)
}

// Join announces that a user joined the server or a room.
type Join struct {
	Username string
}

// Leave announces that a user left the server or a room.
type Leave struct {
	Username string
}

// Text is a chat message. Username is overwritten by the server on relay.
type Text struct {
	Message  string
	Username string
}

// DefineUsername proposes a username, both during the handshake and later.
type DefineUsername struct {
	Username string
}

// ServerError carries a human-readable error for the receiving client.
type ServerError struct {
	Message string
}

// UsernameChanged is sent to a room when one of its members renames.
type UsernameChanged struct {
	OldUsername string
	NewUsername string
}

// CreateRoom asks the server to create a room owned by the sender.
type CreateRoom struct {
	Name        string
	Description string
}

// JoinRoom asks the server to add the sender to a room.
type JoinRoom struct {
	Name string
}

// LeaveRoom asks the server to remove the sender from its room.
type LeaveRoom struct{}

// ListRooms asks the server for the list of rooms.
type ListRooms struct{}

// ServerSuccess carries a human-readable confirmation or information line.
type ServerSuccess struct {
	Message string
}

// FileUploadRequest announces an upload of Size bytes.
type FileUploadRequest struct {
	Size uint64
}

// FileUploadValidation answers a FileUploadRequest.
type FileUploadValidation struct {
	Accepted bool
	FileID   uint32
}

// FileDataTransfer carries one chunk of a file. The number of meaningful
// bytes is min(remaining, ChunkSize) and is known to both ends.
type FileDataTransfer struct {
	FileID uint32
	Data   [ChunkSize]byte
}

// FileDownloadRequest asks the server to stream a stored file.
type FileDownloadRequest struct {
	FileID uint32
}

// FileDownloadValidation answers a FileDownloadRequest.
type FileDownloadValidation struct {
	Accepted bool
	FileID   uint32
	Size     uint64
}

// FileTransferCancel aborts an in-flight transfer.
type FileTransferCancel struct {
	FileID uint32
}

// Quit ends the session.
type Quit struct{}

// Unknown is returned by ReadPacket for an unrecognised discriminant.
// It carries no payload and is never written.
type Unknown struct {
	Code Type
}

func (Join) Type() Type                   { return TypeJoin }
func (Leave) Type() Type                  { return TypeLeave }
func (Text) Type() Type                   { return TypeText }
func (DefineUsername) Type() Type         { return TypeDefineUsername }
func (ServerError) Type() Type            { return TypeServerError }
func (UsernameChanged) Type() Type        { return TypeUsernameChanged }
func (CreateRoom) Type() Type             { return TypeCreateRoom }
func (JoinRoom) Type() Type               { return TypeJoinRoom }
func (LeaveRoom) Type() Type              { return TypeLeaveRoom }
func (ListRooms) Type() Type              { return TypeListRooms }
func (ServerSuccess) Type() Type          { return TypeServerSuccess }
func (FileUploadRequest) Type() Type      { return TypeFileUploadRequest }
func (FileUploadValidation) Type() Type   { return TypeFileUploadValidation }
func (FileDataTransfer) Type() Type       { return TypeFileDataTransfer }
func (FileDownloadRequest) Type() Type    { return TypeFileDownloadRequest }
func (FileDownloadValidation) Type() Type { return TypeFileDownloadValidation }
func (FileTransferCancel) Type() Type     { return TypeFileTransferCancel }
func (Quit) Type() Type                   { return TypeQuit }
func (u Unknown) Type() Type              { return u.Code }
