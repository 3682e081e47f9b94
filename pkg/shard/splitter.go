// Package shard computes the contiguous dataset slices a Task Manager
// hands out to workers (spec section 3, "Dataset"/"Task"). A Splitter
// is built once per dataset from its reported parameters and yields the
// full ordered set of shards up front; the task manager owns queueing,
// assignment, and reassignment.
package shard

// Shard is a contiguous slice of a named dataset: records [Start, End).
type Shard struct {
	DatasetName string
	Start       int64
	End         int64
}

// Splitter produces the ordered shard set for one dataset version.
type Splitter struct {
	DatasetName string
	Size        int64
	ShardSize   int64
}

// NewSplitter builds a splitter for a dataset of the given total size,
// with shard_size = batch_size * minibatchesPerShard (spec section
// 4.4). minibatchesPerShard defaults to 100 when the caller supplies 0.
func NewSplitter(datasetName string, size, batchSize int64, minibatchesPerShard int) *Splitter {
	if minibatchesPerShard <= 0 {
		minibatchesPerShard = 100
	}
	shardSize := batchSize * int64(minibatchesPerShard)
	if shardSize <= 0 {
		shardSize = size
	}
	if shardSize <= 0 {
		shardSize = 1
	}
	return &Splitter{DatasetName: datasetName, Size: size, ShardSize: shardSize}
}

// Split returns every shard covering [0, Size) in order.
func (s *Splitter) Split() []Shard {
	if s.Size <= 0 {
		return nil
	}
	var shards []Shard
	for start := int64(0); start < s.Size; start += s.ShardSize {
		end := start + s.ShardSize
		if end > s.Size {
			end = s.Size
		}
		shards = append(shards, Shard{DatasetName: s.DatasetName, Start: start, End: end})
	}
	return shards
}
