package dto

// JobMessage schedules one worker execution for a job.
type JobMessage struct {
	JobId     uint   `json:"jobId"`
	AudioPath string `json:"audioPath"`
	FileName  string `json:"fileName"`
}

// ErrorResponse mirrors the {"detail": "..."} body returned for every client error.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
