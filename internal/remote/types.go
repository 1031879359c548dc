package remote

import "repodocx/internal/job"

type convertRequest struct {
	URL        string   `json:"url"`
	Token      string   `json:"token,omitempty"`
	Extensions []string `json:"extensions"`
}

type convertResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

type fileEntry struct {
	Filename string `json:"filename"`
	Folder   string `json:"folder"`
}

type progressEntry struct {
	Processed    int    `json:"processed"`
	Total        int    `json:"total"`
	CurrentFile  string `json:"current_file"`
	DetailStatus string `json:"detail_status"`
}

type statusResponse struct {
	ID       string         `json:"id"`
	Status   string         `json:"status"`
	Files    []fileEntry    `json:"files"`
	Error    string         `json:"error"`
	Progress *progressEntry `json:"progress"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// toPollResult maps the wire payload onto the client model.
func (s statusResponse) toPollResult() job.PollResult {
	res := job.PollResult{Status: s.Status, Error: s.Error}
	if s.Progress != nil {
		res.Progress = &job.Progress{
			Processed:   max(s.Progress.Processed, 0),
			Total:       max(s.Progress.Total, 0),
			CurrentItem: s.Progress.CurrentFile,
			Phase:       s.Progress.DetailStatus,
		}
	}
	if s.Status == job.StatusCompleted {
		res.Artifacts = make([]job.ArtifactRef, 0, len(s.Files))
		for _, f := range s.Files {
			res.Artifacts = append(res.Artifacts, job.ArtifactRef{Filename: f.Filename, Folder: f.Folder})
		}
	}
	return res
}
