package download

import "time"

// Task is a unit of work for a worker. Only Attempt changes, and only on retry.
type Task struct {
	// ID identifies the task in the Active map of a Status.
	ID string
	// URL is the address to fetch.
	URL string
	// Destination is the absolute path the file is written to.
	Destination string
	// Distribution is the registry key the task belongs to, if any.
	Distribution string
	// Attempt is 1 for the first try and grows by one per retry.
	Attempt int
}

// Progress describes an in-flight transfer.
type Progress struct {
	// URL is the address being fetched.
	URL string
	// Filename is the base name of the destination.
	Filename string
	// Distribution is the registry key of the task.
	Distribution string
	// Downloaded is the number of bytes written so far.
	Downloaded int64
	// Total is the expected size, or -1 when unknown.
	Total int64
	// Attempt is the attempt number of the transfer.
	Attempt int
	// StartedAt is when the current attempt started.
	StartedAt time.Time
	// Waiting is set while the task sleeps before a retry.
	Waiting bool
}

// Percent returns the completion ratio in [0, 100], or -1 when the size is unknown.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return -1
	}

	return float64(p.Downloaded) * 100 / float64(p.Total)
}
