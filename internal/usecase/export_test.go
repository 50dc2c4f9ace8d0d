package usecase

import (
	"context"
	"time"
)

func SetNow(s *FetchService, fn func() time.Time) { s.now = fn }

func SetFlowSleep(f *SimilarFlow, fn func(ctx context.Context, d time.Duration) error) {
	f.sleep = fn
}

func SetProcessorSleep(p *Processor, fn func(ctx context.Context, d time.Duration) error) {
	p.sleep = fn
}
