package model

import "time"

// JobStatus - Job 상태
type JobStatus string

// SuggestionStatus - Suggestion 상태
type SuggestionStatus string

const (
	JobStatusPending               JobStatus = "pending"
	JobStatusGeneratingSuggestions JobStatus = "generating_suggestions"
	JobStatusSucceed               JobStatus = "succeed"
	JobStatusCompleted             JobStatus = "completed"
	JobStatusFailed                JobStatus = "failed"
	JobStatusCancelled             JobStatus = "cancelled"
)

const (
	SuggestionStatusPending          SuggestionStatus = "pending"
	SuggestionStatusGeneratingImages SuggestionStatus = "generating_images"
	SuggestionStatusSucceed          SuggestionStatus = "succeed"
	SuggestionStatusFailed           SuggestionStatus = "failed"
)

// GenerationMode - 최종 이미지 생성 방식
const (
	GenerationModeStylize = "stylize" // Gemini
	GenerationModeTryOn   = "tryon"   // Kling virtual try-on
)

// Job - KV store에 저장되는 스타일링 요청 (key = job:<jobId>)
type Job struct {
	JobID       string       `json:"jobId"`
	UserID      string       `json:"userId"`
	Status      JobStatus    `json:"status"`
	Suggestions []Suggestion `json:"suggestions"`
	Input       JobInput     `json:"input"`
	Cancelled   bool         `json:"cancelled"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   int64        `json:"createdAt"`
	UpdatedAt   int64        `json:"updatedAt"`
}

// JobInput - 온보딩 완료 요청 원본 (생성 시 1회 기록)
type JobInput struct {
	HumanImage     string `json:"humanImage"`
	GarmentImage   string `json:"garmentImage,omitempty"`
	Occasion       string `json:"occasion,omitempty"`
	Prompt         string `json:"prompt,omitempty"`
	GenerationMode string `json:"generationMode"`
	AspectRatio    string `json:"aspectRatio,omitempty"`
}

// Suggestion - Job 안의 개별 스타일 제안
type Suggestion struct {
	Index           int              `json:"index"`
	Status          SuggestionStatus `json:"status"`
	StyleSuggestion StyleSuggestion  `json:"styleSuggestion"`
	FinalPrompt     string           `json:"finalPrompt,omitempty"`
	FinalImageURLs  []string         `json:"finalImageUrls,omitempty"`
	Error           string           `json:"error,omitempty"`
	StartedAt       int64            `json:"startedAt,omitempty"`
}

// StyleSuggestion - provider가 돌려준 스타일 추천 (explanation만 필수)
type StyleSuggestion struct {
	Title       string   `json:"title,omitempty"`
	Explanation string   `json:"explanation"`
	Items       []string `json:"items,omitempty"`
	Prompt      string   `json:"prompt,omitempty"`
}

// NowMillis - ms epoch 타임스탬프
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Touch - updatedAt 갱신
func (j *Job) Touch() {
	j.UpdatedAt = NowMillis()
}

// IsTerminal - 더 이상 진행되지 않는 Job 상태인지
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceed, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// IsTerminal - 더 이상 진행되지 않는 Suggestion 상태인지
func (s SuggestionStatus) IsTerminal() bool {
	return s == SuggestionStatusSucceed || s == SuggestionStatusFailed
}

// NewSuggestions - 스타일 제안 배열을 pending Suggestion 배열로 변환 (index == 위치)
func NewSuggestions(styles []StyleSuggestion) []Suggestion {
	out := make([]Suggestion, len(styles))
	for i, style := range styles {
		out[i] = Suggestion{
			Index:           i,
			Status:          SuggestionStatusPending,
			StyleSuggestion: style,
		}
	}
	return out
}

// Suggestion - index로 Suggestion 조회
func (j *Job) Suggestion(index int) (*Suggestion, bool) {
	if index < 0 || index >= len(j.Suggestions) {
		return nil, false
	}
	return &j.Suggestions[index], true
}

// SettleStatus - 모든 Suggestion이 끝났으면 Job 최종 상태 결정
// 전부 성공: succeed / 일부 실패: completed / 전부 실패: failed
func (j *Job) SettleStatus() bool {
	if j.Cancelled || j.Status.IsTerminal() || len(j.Suggestions) == 0 {
		return false
	}

	succeeded, failed := 0, 0
	for _, s := range j.Suggestions {
		switch s.Status {
		case SuggestionStatusSucceed:
			succeeded++
		case SuggestionStatusFailed:
			failed++
		default:
			return false
		}
	}

	switch {
	case failed == 0:
		j.Status = JobStatusSucceed
	case succeeded == 0:
		j.Status = JobStatusFailed
	default:
		j.Status = JobStatusCompleted
	}
	return true
}

// IndexesConsistent - suggestions[i].index == i 확인
func (j *Job) IndexesConsistent() bool {
	for i, s := range j.Suggestions {
		if s.Index != i {
			return false
		}
	}
	return true
}
