package workflow

// Chunk is one contiguous page of work: rows [Offset, Offset+Limit) ordered
// by primary key.
type Chunk struct {
	Index  int
	Offset int
	Limit  int
}

// ChunkInfo describes how a run's total workload divides into chunks
type ChunkInfo struct {
	TotalJobs   int
	ChunkSize   int
	TotalChunks int
	Chunks      []Chunk
}

// PlanChunks splits totalJobs rows into ceiling(totalJobs/chunkSize) chunks.
// The final chunk carries the remainder; zero work yields zero chunks.
func PlanChunks(totalJobs, chunkSize int) ChunkInfo {
	info := ChunkInfo{
		TotalJobs: totalJobs,
		ChunkSize: chunkSize,
	}

	if totalJobs <= 0 || chunkSize <= 0 {
		return info
	}

	info.TotalChunks = (totalJobs + chunkSize - 1) / chunkSize
	info.Chunks = make([]Chunk, 0, info.TotalChunks)

	for i := 0; i < info.TotalChunks; i++ {
		offset := i * chunkSize
		limit := chunkSize
		if offset+limit > totalJobs {
			limit = totalJobs - offset
		}
		info.Chunks = append(info.Chunks, Chunk{
			Index:  i,
			Offset: offset,
			Limit:  limit,
		})
	}

	return info
}
