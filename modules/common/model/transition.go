package model

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:               {JobStatusGeneratingSuggestions, JobStatusFailed, JobStatusCancelled},
	JobStatusGeneratingSuggestions: {JobStatusSucceed, JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
	// 실패한 Suggestion 재시도 시에만 다시 열림
	JobStatusCompleted: {JobStatusGeneratingSuggestions},
	JobStatusFailed:    {JobStatusGeneratingSuggestions},
}

var suggestionTransitions = map[SuggestionStatus][]SuggestionStatus{
	SuggestionStatusPending:          {SuggestionStatusGeneratingImages, SuggestionStatusFailed},
	SuggestionStatusGeneratingImages: {SuggestionStatusSucceed, SuggestionStatusFailed},
	// start-image-task 를 통한 명시적 재시도
	SuggestionStatusFailed: {SuggestionStatusGeneratingImages},
}

// CanTransitionJob - Job 상태 전이 허용 여부
func CanTransitionJob(from, to JobStatus) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransitionSuggestion - Suggestion 상태 전이 허용 여부
func CanTransitionSuggestion(from, to SuggestionStatus) bool {
	for _, next := range suggestionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
