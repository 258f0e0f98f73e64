package workflows

import "studyflow/internal/models"

type BookStageInput struct {
	BookID string       `json:"book_id"`
	Stage  models.Stage `json:"stage"`
}

type BookPipelineInput struct {
	BookID     string `json:"book_id"`
	SkipSlides bool   `json:"skip_slides"`
}

type ReindexStaleInput struct {
	Limit int `json:"limit"`
}

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type StageProgress struct {
	BookID string              `json:"book_id"`
	Stage  models.Stage        `json:"stage"`
	Status string              `json:"status"`
	Result *models.StageResult `json:"result,omitempty"`
	Error  string              `json:"error,omitempty"`
}

type PipelineProgress struct {
	BookID  string               `json:"book_id"`
	Status  string               `json:"status"`
	Current models.Stage         `json:"current,omitempty"`
	Results []models.StageResult `json:"results"`
	Error   string               `json:"error,omitempty"`
}
