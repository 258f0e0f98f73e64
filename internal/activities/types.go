package activities

import "studyflow/internal/models"

type RunStageInput struct {
	BookID string       `json:"book_id"`
	Stage  models.Stage `json:"stage"`
}

type ReindexStaleInput struct {
	Limit int `json:"limit"`
}

type ReindexStaleOutput struct {
	Embedded int `json:"embedded"`
	Reused   int `json:"reused"`
	Stale    int `json:"stale"`
}
