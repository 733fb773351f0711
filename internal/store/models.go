package store

import "time"

// Entry is one message's record in the metadata index.
type Entry struct {
	ID        string    `json:"id"`
	ChunkIDs  []string  `json:"chunkIds"`
	CreatedAt time.Time `json:"createdAt"`
	Size      int64     `json:"size"`
}

type StorageInfo struct {
	Used     int64 `json:"used"`
	Total    int64 `json:"total"`
	Messages int   `json:"messages"`
}

type Options struct {
	// Prefix namespaces every key the store owns.
	Prefix string
	// ChunkSize is the most characters one chunk record holds.
	ChunkSize int
	// Capacity is the advertised total, in characters.
	Capacity int64
	// EnforceQuota rejects a Save that would take usage past Capacity.
	EnforceQuota bool
}

func DefaultOptions() Options {
	return Options{
		Prefix:       DefaultPrefix,
		ChunkSize:    DefaultChunkSize,
		Capacity:     DefaultCapacity,
		EnforceQuota: true,
	}
}

type metadata struct {
	Messages []Entry `json:"messages"`
}

func (m *metadata) find(id string) int {
	for i, entry := range m.Messages {
		if entry.ID == id {
			return i
		}
	}
	return -1
}

func (m *metadata) used() int64 {
	var total int64
	for _, entry := range m.Messages {
		total += entry.Size
	}
	return total
}
