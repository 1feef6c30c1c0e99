package download

import (
	"maps"
	"slices"
	"sort"
)

// Status keys as exposed by Fields. The set is fixed regardless of state.
const (
	KeyActive          = "active"
	KeyCompleted       = "completed"
	KeyCompletedURLs   = "completed_urls"
	KeyFailed          = "failed"
	KeyRetryCounts     = "retry_counts"
	KeyQueued          = "queued"
	KeyDownloadedFiles = "downloaded_files"
	KeyIsRemote        = "is_remote"
)

// StatusKeys lists every key of a status snapshot.
func StatusKeys() []string {
	return []string{
		KeyActive,
		KeyCompleted,
		KeyCompletedURLs,
		KeyFailed,
		KeyRetryCounts,
		KeyQueued,
		KeyDownloadedFiles,
		KeyIsRemote,
	}
}

// Status is a point-in-time copy of the manager state.
type Status struct {
	// Active maps task IDs to the progress of in-flight transfers.
	Active map[string]Progress
	// Completed counts URLs downloaded successfully.
	Completed int
	// CompletedURLs is the set of URLs downloaded successfully.
	CompletedURLs map[string]struct{}
	// Failed counts URLs that failed permanently.
	Failed int
	// RetryCounts maps a URL to the number of retries consumed.
	RetryCounts map[string]int
	// Queued counts tasks not yet taken by a worker.
	Queued int
	// DownloadedFiles lists completed paths, or target messages for a remote manager, in completion order.
	DownloadedFiles []string
	// IsRemote reports whether files are handed to a remote target.
	IsRemote bool
}

// EmptyStatus returns the snapshot of a manager that has done nothing yet.
func EmptyStatus(isRemote bool) Status {
	return Status{
		Active:          make(map[string]Progress),
		CompletedURLs:   make(map[string]struct{}),
		RetryCounts:     make(map[string]int),
		DownloadedFiles: []string{},
		IsRemote:        isRemote,
	}
}

// Drained reports whether nothing is queued or in flight.
func (s Status) Drained() bool {
	return s.Queued == 0 && len(s.Active) == 0
}

// HasCompleted reports whether url was downloaded successfully.
func (s Status) HasCompleted(url string) bool {
	_, ok := s.CompletedURLs[url]

	return ok
}

// Clone returns a deep copy of the snapshot.
func (s Status) Clone() Status {
	cloned := s
	cloned.Active = maps.Clone(s.Active)
	cloned.CompletedURLs = maps.Clone(s.CompletedURLs)
	cloned.RetryCounts = maps.Clone(s.RetryCounts)
	cloned.DownloadedFiles = slices.Clone(s.DownloadedFiles)

	if cloned.Active == nil {
		cloned.Active = make(map[string]Progress)
	}

	if cloned.CompletedURLs == nil {
		cloned.CompletedURLs = make(map[string]struct{})
	}

	if cloned.RetryCounts == nil {
		cloned.RetryCounts = make(map[string]int)
	}

	if cloned.DownloadedFiles == nil {
		cloned.DownloadedFiles = []string{}
	}

	return cloned
}

// Fields converts the snapshot into a generic map with exactly the keys of
// StatusKeys. Values are limited to strings, float64, booleans, []any and
// map[string]any so the result can be fed to structpb or a JSON encoder.
func (s Status) Fields() map[string]any {
	active := make(map[string]any, len(s.Active))
	for id, p := range s.Active {
		active[id] = map[string]any{
			"url":          p.URL,
			"filename":     p.Filename,
			"distribution": p.Distribution,
			"downloaded":   float64(p.Downloaded),
			"total":        float64(p.Total),
			"attempt":      float64(p.Attempt),
			"waiting":      p.Waiting,
		}
	}

	urls := make([]string, 0, len(s.CompletedURLs))
	for url := range s.CompletedURLs {
		urls = append(urls, url)
	}

	sort.Strings(urls)

	completedURLs := make([]any, 0, len(urls))
	for _, url := range urls {
		completedURLs = append(completedURLs, url)
	}

	retryCounts := make(map[string]any, len(s.RetryCounts))
	for url, n := range s.RetryCounts {
		retryCounts[url] = float64(n)
	}

	downloadedFiles := make([]any, 0, len(s.DownloadedFiles))
	for _, file := range s.DownloadedFiles {
		downloadedFiles = append(downloadedFiles, file)
	}

	return map[string]any{
		KeyActive:          active,
		KeyCompleted:       float64(s.Completed),
		KeyCompletedURLs:   completedURLs,
		KeyFailed:          float64(s.Failed),
		KeyRetryCounts:     retryCounts,
		KeyQueued:          float64(s.Queued),
		KeyDownloadedFiles: downloadedFiles,
		KeyIsRemote:        s.IsRemote,
	}
}
