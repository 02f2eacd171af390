package transfer

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/zeebo/blake3"
)

// Sink persists fully assembled files.
type Sink interface {
	Save(name, mimeType string, data []byte) error
}

type receivingFile struct {
	desc           FileStart
	chunks         [][]byte
	bytesReceived  int64
	chunksReceived int
}

// Assembler rebuilds files from the message stream of one batch. Files
// arrive strictly one after another; a file_start while another file is
// open is rejected. Handle must be called from a single goroutine.
type Assembler struct {
	sink    Sink
	logger  *slog.Logger
	tracker *Tracker

	active   *receivingFile
	results  []Result
	complete *TransferComplete
	done     chan struct{}
}

func NewAssembler(sink Sink, logger *slog.Logger, observer func(Snapshot)) *Assembler {
	return &Assembler{
		sink:    sink,
		logger:  logger.With("component", "assembler"),
		tracker: NewTracker(0, 0, observer),
		done:    make(chan struct{}),
	}
}

// Done is closed once transfer_complete arrives.
func (a *Assembler) Done() <-chan struct{} {
	return a.done
}

// Complete returns the totals announced by the sender, or nil before the
// batch ends.
func (a *Assembler) Complete() *TransferComplete {
	return a.complete
}

// Results lists the files handed to the sink so far.
func (a *Assembler) Results() []Result {
	return a.results
}

func (a *Assembler) Stats() Stats {
	return a.tracker.Stats()
}

// Handle dispatches one message. Text is a control record, binary is a
// chunk of the active file.
func (a *Assembler) Handle(msg Message) error {
	if !msg.Text {
		return a.onChunk(msg.Data)
	}

	c, err := DecodeControl(msg.Data)
	if err != nil {
		return err
	}

	switch m := c.(type) {
	case FileStart:
		return a.onFileStart(m)
	case FileEnd:
		return a.onFileEnd(m)
	case TransferComplete:
		return a.onTransferComplete(m)
	default:
		return WrapError("handle", ErrProtocolViolation, fmt.Sprintf("unhandled control %T", c))
	}
}

func (a *Assembler) onFileStart(desc FileStart) error {
	if a.active != nil {
		return &TransferError{
			Op:      "file_start",
			File:    desc.Name,
			Err:     ErrProtocolViolation,
			Details: fmt.Sprintf("%q still open", a.active.desc.Name),
		}
	}

	a.active = &receivingFile{
		desc:   desc,
		chunks: make([][]byte, 0, desc.TotalChunks),
	}
	a.tracker.StartFile(desc.BatchIndex, desc.BatchSize, desc.Name, desc.Size)
	a.logger.Debug("receiving file", "name", desc.Name, "size", desc.Size, "index", desc.BatchIndex, "of", desc.BatchSize)
	return nil
}

func (a *Assembler) onChunk(data []byte) error {
	f := a.active
	if f == nil {
		return NewError("chunk", ErrUnexpectedChunk)
	}
	if f.bytesReceived+int64(len(data)) > f.desc.Size {
		return &TransferError{
			Op:      "chunk",
			File:    f.desc.Name,
			Err:     ErrProtocolViolation,
			Details: fmt.Sprintf("chunk overruns declared size %d", f.desc.Size),
		}
	}

	f.chunks = append(f.chunks, data)
	f.bytesReceived += int64(len(data))
	f.chunksReceived++
	a.tracker.Add(int64(len(data)))
	return nil
}

func (a *Assembler) onFileEnd(end FileEnd) error {
	f := a.active
	if f == nil || f.desc.Name != end.Name {
		return NewFileError("file_end", end.Name, ErrProtocolViolation)
	}

	if f.bytesReceived != f.desc.Size {
		a.logger.Warn("file size mismatch", "name", f.desc.Name, "declared", f.desc.Size, "received", f.bytesReceived)
	}
	if f.chunksReceived != f.desc.TotalChunks {
		a.logger.Warn("chunk count mismatch", "name", f.desc.Name, "declared", f.desc.TotalChunks, "received", f.chunksReceived)
	}

	data := make([]byte, 0, f.bytesReceived)
	for _, c := range f.chunks {
		data = append(data, c...)
	}
	a.active = nil

	if err := a.sink.Save(f.desc.Name, f.desc.MimeType, data); err != nil {
		return NewFileError("save", f.desc.Name, err)
	}

	sum := blake3.Sum256(data)
	a.results = append(a.results, Result{Name: f.desc.Name, Size: int64(len(data)), Digest: hex.EncodeToString(sum[:])})
	a.tracker.FinishFile()
	return nil
}

func (a *Assembler) onTransferComplete(totals TransferComplete) error {
	if a.complete != nil {
		return NewError("transfer_complete", ErrProtocolViolation)
	}
	if a.active != nil {
		a.logger.Warn("batch completed with a file still open", "name", a.active.desc.Name)
		a.active = nil
	}
	a.complete = &totals
	close(a.done)
	a.logger.Info("batch received", "files", totals.TotalFiles, "bytes", totals.TotalBytes)
	return nil
}

// Receive feeds messages from in to asm until the batch completes. Protocol
// violations and stray chunks are logged and skipped; a closed channel
// before completion is ErrTransferAborted.
func Receive(ctx context.Context, in Inbound, asm *Assembler) error {
	handle := func(msg Message) error {
		if err := asm.Handle(msg); err != nil {
			if !IsRecoverable(err) {
				return err
			}
			asm.logger.Warn("dropping message", "err", err)
		}
		return nil
	}

	for {
		select {
		case <-asm.Done():
			return nil

		case msg := <-in.Messages():
			if err := handle(msg); err != nil {
				return err
			}

		case <-in.Closed():
			if err := drain(in, handle); err != nil {
				return err
			}
			if asm.Complete() != nil {
				return nil
			}
			return NewError("receive", ErrTransferAborted)

		case <-ctx.Done():
			return WrapError("receive", ErrTransferAborted, ctx.Err().Error())
		}
	}
}

// drain handles whatever was buffered before the channel closed.
func drain(in Inbound, handle func(Message) error) error {
	for {
		select {
		case msg := <-in.Messages():
			if err := handle(msg); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}
