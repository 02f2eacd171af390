package transfer

import (
	"encoding/json"
	"fmt"
)

// Kind tags a control message on the wire.
type Kind string

const (
	KindFileStart        Kind = "file_start"
	KindFileEnd          Kind = "file_end"
	KindTransferComplete Kind = "transfer_complete"
)

// Control is one of FileStart, FileEnd or TransferComplete.
type Control interface {
	Kind() Kind
}

// FileStart announces the next file of a batch.
type FileStart struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	MimeType    string `json:"mimeType"`
	TotalChunks int    `json:"totalChunks"`
	BatchIndex  int    `json:"batchIndex"`
	BatchSize   int    `json:"batchSize"`
}

// FileEnd closes the file opened by the matching FileStart.
type FileEnd struct {
	Name string `json:"name"`
}

// TransferComplete ends a batch.
type TransferComplete struct {
	TotalFiles int   `json:"totalFiles"`
	TotalBytes int64 `json:"totalBytes"`
}

func (FileStart) Kind() Kind        { return KindFileStart }
func (FileEnd) Kind() Kind          { return KindFileEnd }
func (TransferComplete) Kind() Kind { return KindTransferComplete }

type header struct {
	Tag Kind `json:"kind"`
}

// EncodeControl renders a control message as the JSON text sent over the
// channel.
func EncodeControl(c Control) (string, error) {
	var v any
	switch m := c.(type) {
	case FileStart:
		v = struct {
			header
			FileStart
		}{header{KindFileStart}, m}
	case FileEnd:
		v = struct {
			header
			FileEnd
		}{header{KindFileEnd}, m}
	case TransferComplete:
		v = struct {
			header
			TransferComplete
		}{header{KindTransferComplete}, m}
	default:
		return "", fmt.Errorf("%w: cannot encode %T", ErrProtocolViolation, c)
	}

	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeControl parses a text message. Malformed JSON, unknown kinds and
// structurally invalid records are protocol violations.
func DecodeControl(data []byte) (Control, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, WrapError("decode control", ErrProtocolViolation, err.Error())
	}

	switch h.Tag {
	case KindFileStart:
		var m FileStart
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, WrapError("decode file_start", ErrProtocolViolation, err.Error())
		}
		if m.Name == "" || m.Size < 0 || m.TotalChunks != TotalChunks(m.Size) {
			return nil, WrapError("decode file_start", ErrProtocolViolation, "inconsistent descriptor")
		}
		return m, nil

	case KindFileEnd:
		var m FileEnd
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, WrapError("decode file_end", ErrProtocolViolation, err.Error())
		}
		return m, nil

	case KindTransferComplete:
		var m TransferComplete
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, WrapError("decode transfer_complete", ErrProtocolViolation, err.Error())
		}
		return m, nil

	default:
		return nil, WrapError("decode control", ErrProtocolViolation, fmt.Sprintf("unknown kind %q", h.Tag))
	}
}
