package pipeline

import (
	"context"
	"time"

	"stylist-server/modules/common/logger"
	"stylist-server/modules/job"
)

// Reaper - generating_images 에 멈춘 suggestion 을 주기적으로 실패 처리
// (프로세스가 죽어 goroutine 이 사라진 경우 복구)
type Reaper struct {
	machine  *job.Machine
	timeout  time.Duration
	interval time.Duration
}

func NewReaper(machine *job.Machine, timeout, interval time.Duration) *Reaper {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{machine: machine, timeout: timeout, interval: interval}
}

// Run - ctx 가 끝날 때까지 interval 마다 Sweep
func (r *Reaper) Run(ctx context.Context) {
	log := logger.For("reaper")
	log.Info().Msgf("🧹 [Reaper] Started (timeout: %s, interval: %s)", r.timeout, r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("🧹 [Reaper] Stopped")
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("❌ [Reaper] Sweep failed")
			}
		}
	}
}

// Sweep - 모든 Job 을 한 번 검사. 실패 처리한 개수 반환
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	log := logger.For("reaper")
	total := 0

	err := r.machine.Store().ScanJobIDs(ctx, func(jobID string) error {
		n, err := r.machine.ExpireStuck(ctx, jobID, r.timeout)
		if err != nil {
			// 한 Job 의 실패로 전체 sweep 을 멈추지 않음
			log.Warn().Err(err).Msgf("⚠️ [Reaper] Job %s", jobID)
			return nil
		}
		if n > 0 {
			log.Warn().Msgf("⏰ [Reaper] Job %s: %d stuck run(s) marked failed", jobID, n)
			total += n
		}
		return nil
	})
	return total, err
}
