package transfer

import "time"

const (
	// ChunkSize is the payload size of every binary message except the
	// last one of a file.
	ChunkSize = 16 * 1024

	HighWaterMark = 1024 * 1024 // pause sending above this many buffered bytes
	LowWaterMark  = 256 * 1024  // resume once the buffer drains below this

	SendTimeout  = 30 * time.Second
	DrainTimeout = 30 * time.Second

	// ChannelLabel names the data channel both peers agree on.
	ChannelLabel = "fileTransfer"
)

// TotalChunks is the number of chunks a file of size bytes is split into.
func TotalChunks(size int64) int {
	if size <= 0 {
		return 0
	}
	return int((size + ChunkSize - 1) / ChunkSize)
}
