package lookbook

const (
	tableLookbooks = "lookbooks"
	tableVotes     = "votes"
	tableResources = "resources"

	StateActive  = "active"
	StateDeleted = "deleted"
)

// Lookbook - 저장한 스타일링 결과 모음
type Lookbook struct {
	ID        string   `json:"id,omitempty"`
	UserID    string   `json:"user_id"`
	Title     string   `json:"title"`
	JobID     string   `json:"job_id,omitempty"`
	ImageURLs []string `json:"image_urls"`
	State     string   `json:"state"`
	CreatedAt string   `json:"created_at,omitempty"`
	DeletedAt *string  `json:"deleted_at,omitempty"`
}

// Vote - suggestion 에 대한 좋아요/싫어요
type Vote struct {
	ID              string  `json:"id,omitempty"`
	UserID          string  `json:"user_id"`
	JobID           string  `json:"job_id"`
	SuggestionIndex int     `json:"suggestion_index"`
	Value           int     `json:"value"`
	CreatedAt       string  `json:"created_at,omitempty"`
	DeletedAt       *string `json:"deleted_at,omitempty"`
}

// Resource - 사용자가 올린 이미지 등 (옷장 아이템, 전신 사진)
type Resource struct {
	ID        string  `json:"id,omitempty"`
	UserID    string  `json:"user_id"`
	Kind      string  `json:"kind"`
	URL       string  `json:"url"`
	CreatedAt string  `json:"created_at,omitempty"`
	DeletedAt *string `json:"deleted_at,omitempty"`
}
