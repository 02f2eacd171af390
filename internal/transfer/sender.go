package transfer

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/zeebo/blake3"
)

// Source is one file queued for sending.
type Source struct {
	Name     string
	Size     int64
	MimeType string
	Open     func() (io.ReadCloser, error)
}

// FileSource reads the file at path.
func FileSource(path, name, mimeType string, size int64) Source {
	return Source{
		Name:     name,
		Size:     size,
		MimeType: mimeType,
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}
}

// BytesSource serves data from memory.
func BytesSource(name, mimeType string, data []byte) Source {
	return Source{
		Name:     name,
		Size:     int64(len(data)),
		MimeType: mimeType,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// Result describes one file that crossed the channel.
type Result struct {
	Name   string
	Size   int64
	Digest string
}

// Totals summarise a finished batch.
type Totals struct {
	Files      []Result
	TotalFiles int
	TotalBytes int64
	Elapsed    time.Duration
}

// Sender streams a batch of files over a Conn.
type Sender struct {
	conn     Conn
	logger   *slog.Logger
	observer func(Snapshot)
	buf      []byte
}

func NewSender(conn Conn, logger *slog.Logger, observer func(Snapshot)) *Sender {
	return &Sender{
		conn:     conn,
		logger:   logger.With("component", "sender"),
		observer: observer,
		buf:      make([]byte, ChunkSize),
	}
}

// SendBatch sends every source in order followed by transfer_complete. On a
// dropped channel or cancelled ctx it stops at the next chunk boundary with
// ErrTransferAborted and returns the files finished so far.
func (s *Sender) SendBatch(ctx context.Context, sources []Source) (*Totals, error) {
	if !s.conn.IsOpen() {
		return nil, NewError("send batch", ErrChannelNotReady)
	}
	if len(sources) == 0 {
		return nil, NewError("send batch", ErrEmptyBatch)
	}

	var totalBytes int64
	for _, src := range sources {
		totalBytes += src.Size
	}

	tracker := NewTracker(len(sources), totalBytes, s.observer)
	totals := &Totals{}

	for i, src := range sources {
		res, err := s.sendFile(ctx, tracker, i+1, len(sources), src)
		if err != nil {
			totals.Elapsed = time.Since(tracker.Stats().StartTime)
			return totals, err
		}
		totals.Files = append(totals.Files, res)
		totals.TotalFiles++
		totals.TotalBytes += res.Size
	}

	done, err := EncodeControl(TransferComplete{TotalFiles: totals.TotalFiles, TotalBytes: totals.TotalBytes})
	if err != nil {
		return totals, err
	}
	if err := s.conn.SendText(done); err != nil {
		return totals, s.abort("send transfer_complete", "", err)
	}

	totals.Elapsed = time.Since(tracker.Stats().StartTime)
	s.logger.Info("batch sent", "files", totals.TotalFiles, "bytes", totals.TotalBytes, "elapsed", totals.Elapsed)
	return totals, nil
}

func (s *Sender) sendFile(ctx context.Context, tracker *Tracker, index, batchSize int, src Source) (Result, error) {
	start := FileStart{
		Name:        src.Name,
		Size:        src.Size,
		MimeType:    src.MimeType,
		TotalChunks: TotalChunks(src.Size),
		BatchIndex:  index,
		BatchSize:   batchSize,
	}

	r, err := src.Open()
	if err != nil {
		return Result{}, NewFileError("open", src.Name, err)
	}
	defer r.Close()

	text, err := EncodeControl(start)
	if err != nil {
		return Result{}, err
	}
	if err := s.conn.SendText(text); err != nil {
		return Result{}, s.abort("send file_start", src.Name, err)
	}
	tracker.StartFile(index, batchSize, src.Name, src.Size)
	s.logger.Debug("file started", "name", src.Name, "size", src.Size, "chunks", start.TotalChunks)

	h := blake3.New()
	var sent int64
	for chunk := 0; chunk < start.TotalChunks; chunk++ {
		n := min(int64(ChunkSize), src.Size-sent)
		data := s.buf[:n]
		if _, err := io.ReadFull(r, data); err != nil {
			return Result{}, NewFileError("read", src.Name, err)
		}

		if err := s.conn.SendBinary(ctx, data); err != nil {
			return Result{}, s.abort("send chunk", src.Name, err)
		}
		h.Write(data)
		sent += n
		tracker.Add(n)

		if err := s.yield(ctx, src.Name); err != nil {
			return Result{}, err
		}
	}

	text, err = EncodeControl(FileEnd{Name: src.Name})
	if err != nil {
		return Result{}, err
	}
	if err := s.conn.SendText(text); err != nil {
		return Result{}, s.abort("send file_end", src.Name, err)
	}
	tracker.FinishFile()

	return Result{Name: src.Name, Size: sent, Digest: hex.EncodeToString(h.Sum(nil))}, nil
}

// yield gives other goroutines a turn between chunks and stops the batch
// once the channel is gone or ctx is cancelled.
func (s *Sender) yield(ctx context.Context, name string) error {
	runtime.Gosched()
	if err := ctx.Err(); err != nil {
		return &TransferError{Op: "send chunk", File: name, Err: ErrTransferAborted, Details: err.Error()}
	}
	if !s.conn.IsOpen() {
		return NewFileError("send chunk", name, ErrTransferAborted)
	}
	return nil
}

func (s *Sender) abort(op, name string, err error) error {
	if errors.Is(err, ErrTransferAborted) || errors.Is(err, ErrBufferTimeout) {
		return err
	}
	if !s.conn.IsOpen() || isContextErr(err) {
		return &TransferError{Op: op, File: name, Err: ErrTransferAborted, Details: err.Error()}
	}
	return &TransferError{Op: op, File: name, Err: err}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
