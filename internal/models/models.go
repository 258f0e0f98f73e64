package models

import "time"

type Book struct {
	BookID    string    `json:"book_id"`
	BookHash  string    `json:"book_hash"`
	Title     string    `json:"title"`
	Filename  string    `json:"filename"`
	FileKey   string    `json:"file_key"`
	PageCount int       `json:"page_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type PageText struct {
	PageNumber int    `json:"page_number"`
	Text       string `json:"text"`
}

// TocEntry is one raw outline entry. Level 0 is a chapter; deeper levels are
// headings nested beneath it.
type TocEntry struct {
	Ordinal    int    `json:"ordinal"`
	Title      string `json:"title"`
	Level      int    `json:"level"`
	TargetPage int    `json:"target_page"`
}

type Chapter struct {
	BookID    string `json:"book_id"`
	Ordinal   int    `json:"ordinal"`
	Title     string `json:"title"`
	StartPage int    `json:"start_page"`
	EndPage   int    `json:"end_page"`
}

// Segment is a heading-bounded slice of a chapter. Body is the raw slice of
// chapter text including the heading itself.
type Segment struct {
	SegmentID      string `json:"segment_id"`
	BookID         string `json:"book_id"`
	ChapterOrdinal int    `json:"chapter_ordinal"`
	Ordinal        int    `json:"ordinal"`
	BookOrdinal    int    `json:"book_ordinal"`
	HeadingTitle   string `json:"heading_title"`
	HeadingLevel   int    `json:"heading_level"`
	Body           string `json:"body"`
}

type Slide struct {
	Title   string   `json:"title"`
	Bullets []string `json:"bullets"`
}

type SlideDeck struct {
	SegmentID   string    `json:"segment_id"`
	BookID      string    `json:"book_id"`
	Heading     string    `json:"heading"`
	Slides      []Slide   `json:"slides"`
	Provider    string    `json:"provider,omitempty"`
	Model       string    `json:"model,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatTurn struct {
	TurnID           string    `json:"turn_id"`
	SessionID        string    `json:"session_id"`
	Seq              int64     `json:"seq"`
	Role             string    `json:"role"`
	Text             string    `json:"text"`
	CitedSegmentRefs []string  `json:"cited_segment_refs"`
	CreatedAt        time.Time `json:"created_at"`
}

type Stage string

const (
	StageExtractPages    Stage = "extract_pages"
	StageExtractContent  Stage = "extract_content"
	StageSegmentChapters Stage = "segment_chapters"
	StageGenerateSlides  Stage = "generate_slides"
	StageIndexUnits      Stage = "index_units"
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{
	StageExtractPages,
	StageExtractContent,
	StageSegmentChapters,
	StageGenerateSlides,
	StageIndexUnits,
}

func ParseStage(s string) (Stage, bool) {
	for _, st := range Stages {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// Prerequisite is the stage that must be complete before s may run.
func (s Stage) Prerequisite() (Stage, bool) {
	switch s {
	case StageExtractContent:
		return StageExtractPages, true
	case StageSegmentChapters:
		return StageExtractContent, true
	case StageGenerateSlides, StageIndexUnits:
		return StageSegmentChapters, true
	}
	return "", false
}

// Downstream lists the stages after s whose outputs a new run of s
// invalidates.
func (s Stage) Downstream() []Stage {
	for i, st := range Stages {
		if st == s {
			return append([]Stage(nil), Stages[i+1:]...)
		}
	}
	return nil
}

type StageStatus struct {
	BookID    string    `json:"book_id"`
	Stage     Stage     `json:"stage"`
	Completed bool      `json:"completed"`
	Count     int       `json:"count"`
	Warnings  []string  `json:"warnings,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type StageResult struct {
	BookID    string   `json:"book_id"`
	Stage     Stage    `json:"stage"`
	Count     int      `json:"count"`
	Completed bool     `json:"completed"`
	Warnings  []string `json:"warnings,omitempty"`
	Embedded  int      `json:"embedded,omitempty"`
	Reused    int      `json:"reused,omitempty"`
	Stale     int      `json:"stale,omitempty"`
}

type SearchResult struct {
	SegmentID    string  `json:"segment_id"`
	BookID       string  `json:"book_id"`
	UnitRef      string  `json:"unit_ref"`
	HeadingTitle string  `json:"heading_title"`
	Snippet      string  `json:"snippet"`
	Score        float64 `json:"score"`
}

// StageOutput is everything one stage run commits. Stores read only the
// fields the stage owns and write them together with Status, clearing the
// outputs and statuses of downstream stages.
type StageOutput struct {
	Status    StageStatus
	PageCount int
	Pages     []PageText
	Toc       []TocEntry
	Chapters  []Chapter
	Segments  []Segment
	Decks     []SlideDeck
}
