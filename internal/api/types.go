package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes a queue entry in a transport-friendly format.
type Job struct {
	ID               int64  `json:"id"`
	Token            string `json:"token"`
	SourceRef        string `json:"sourceRef"`
	Preset           string `json:"preset"`
	RequesterContext string `json:"requesterContext,omitempty"`
	Status           string `json:"status"`
	Attempts         int    `json:"attempts"`
	ErrorKind        string `json:"errorKind,omitempty"`
	ErrorMessage     string `json:"errorMessage,omitempty"`
	OutputFile       string `json:"outputFile,omitempty"`
	DisplayTitle     string `json:"displayTitle,omitempty"`
	CreatedAt        string `json:"createdAt,omitempty"`
	UpdatedAt        string `json:"updatedAt,omitempty"`
	QueuedAt         string `json:"queuedAt,omitempty"`
	CancelRequested  bool   `json:"cancelRequested,omitempty"`
}

// StageHealth mirrors readiness reporting for pipeline stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// DependencyStatus captures availability of an external binary.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	QueueDBPath  string             `json:"queueDbPath"`
	LockFilePath string             `json:"lockFilePath"`
	QueueStats   map[string]int     `json:"queueStats"`
	StageHealth  []StageHealth      `json:"stageHealth"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// Preset describes an output profile in a transport-friendly format.
type Preset struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Container   string `json:"container"`
	Description string `json:"description"`
}

// SubmitRequest is the payload for enqueueing a new job.
type SubmitRequest struct {
	SourceRef        string `json:"sourceRef"`
	Preset           string `json:"preset"`
	RequesterContext string `json:"requesterContext,omitempty"`
}

// CancelResponse reports the outcome of a cancellation request.
type CancelResponse struct {
	Result string `json:"result"`
}

// JobListResponse wraps a collection of jobs for API responses.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// PresetListResponse wraps the closed preset table.
type PresetListResponse struct {
	Presets []Preset `json:"presets"`
}

// QueueHealth summarizes job counts by lifecycle bucket.
type QueueHealth struct {
	Total      int `json:"total"`
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// ClearResponse reports how many jobs a clear operation removed.
type ClearResponse struct {
	Removed int64 `json:"removed"`
}

// RetryRequest selects failed jobs to requeue; empty means all failed jobs.
type RetryRequest struct {
	IDs []int64 `json:"ids,omitempty"`
}

// UpdateResponse reports how many jobs an operation transitioned.
type UpdateResponse struct {
	Updated int64 `json:"updated"`
}

// TestNotificationResponse reports the outcome of a notification test.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}

// ErrorResponse carries an error message for non-2xx responses.
type ErrorResponse struct {
	Error string `json:"error"`
}
