package domain

import "time"

// RequestLogEntry is one normalized HTTP access event.
type RequestLogEntry struct {
	LogID       string `json:"logId"`
	Timestamp   string `json:"timestamp"`
	Method      string `json:"method"`
	StatusCode  *int   `json:"statusCode"`
	Host        string `json:"host"`
	Path        string `json:"path"`
	Message     string `json:"message"`
	ProjectSlug string `json:"projectSlug"`
	ProjectName string `json:"projectName"`
	RemoteAddr  string `json:"remoteAddr,omitempty"`
	Source      string `json:"source"`
}

// Time parses Timestamp. Unparseable values yield the zero time.
func (e RequestLogEntry) Time() time.Time {
	t, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ReadMeta describes where a batch of records came from.
type ReadMeta struct {
	Source       string `json:"source"`
	Path         string `json:"path"`
	Host         string `json:"host,omitempty"`
	LinesScanned int    `json:"linesScanned"`
	LinesMatched int    `json:"linesMatched"`
}
