package cancel

import (
	"context"

	"stylist-server/modules/common/logger"
)

// Checker - 취소 여부 조회 인터페이스
type Checker interface {
	IsJobCancelled(ctx context.Context, jobID string) bool
}

// CheckBeforeGeneration - provider 호출 전 취소 체크
// 취소됐으면 true 반환 (호출하지 않음)
func CheckBeforeGeneration(ctx context.Context, c Checker, jobID string, index int) bool {
	if !c.IsJobCancelled(ctx, jobID) {
		return false
	}
	log := logger.For("cancel")
	log.Info().Msgf("🛑 Suggestion %d: Job %s cancelled, skipping generation", index, jobID)
	return true
}

// CheckAfterGeneration - provider 응답 후, 커밋 전 취소 체크
// 취소됐으면 true 반환 (결과 버림)
func CheckAfterGeneration(ctx context.Context, c Checker, jobID string, index int) bool {
	if !c.IsJobCancelled(ctx, jobID) {
		return false
	}
	log := logger.For("cancel")
	log.Info().Msgf("🛑 Suggestion %d: Job %s cancelled after generation, discarding result", index, jobID)
	return true
}

// CheckBeforeSuggestions - 스타일 제안 단계 취소 체크
func CheckBeforeSuggestions(ctx context.Context, c Checker, jobID string) bool {
	if !c.IsJobCancelled(ctx, jobID) {
		return false
	}
	log := logger.For("cancel")
	log.Info().Msgf("🛑 Job %s cancelled, skipping suggestion stage", jobID)
	return true
}
