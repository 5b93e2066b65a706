package pagination

// Batch is one contiguous slice of identifiers sent in a single export request.
type Batch struct {
	// Index is the 0-based position of the batch in the partition.
	Index int
	IDs   []string
}

// Batches iterates over fixed-size, order-preserving slices of an
// identifier list. It is finite and can be restarted with Reset.
type Batches struct {
	ids    []string
	size   int
	cursor int
	index  int
}

// Partition splits ids into batches of at most size entries. Sizes below 1
// are treated as 1.
func Partition(ids []string, size int) *Batches {
	if size < 1 {
		size = 1
	}
	return &Batches{ids: ids, size: size}
}

// HasNext reports whether another batch remains.
func (b *Batches) HasNext() bool {
	return b.cursor < len(b.ids)
}

// Next returns the next batch. Calling Next when HasNext is false returns an
// empty batch.
func (b *Batches) Next() Batch {
	if !b.HasNext() {
		return Batch{Index: b.index}
	}
	end := b.cursor + b.size
	if end > len(b.ids) {
		end = len(b.ids)
	}
	batch := Batch{Index: b.index, IDs: b.ids[b.cursor:end:end]}
	b.cursor = end
	b.index++
	return batch
}

// Len returns the total number of batches in the partition.
func (b *Batches) Len() int {
	return (len(b.ids) + b.size - 1) / b.size
}

// Reset rewinds the iterator to the first batch.
func (b *Batches) Reset() {
	b.cursor = 0
	b.index = 0
}
