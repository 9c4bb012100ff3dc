package workers

import (
	"context"
	"log"
	"sync"
	"time"
)

// StatsRebuilder recomputes the cached daily stats of every gallery.
// *services.Analytics implements it.
type StatsRebuilder interface {
	RebuildAll(ctx context.Context) error
}

// StatsRollup periodically refreshes the daily_stats cache from the action log.
type StatsRollup struct {
	analytics StatsRebuilder
	interval  time.Duration
	timeout   time.Duration
	Wg        sync.WaitGroup
	StopChan  chan struct{}
	stopOnce  sync.Once
}

func NewStatsRollup(analytics StatsRebuilder, interval time.Duration) *StatsRollup {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &StatsRollup{
		analytics: analytics,
		interval:  interval,
		timeout:   interval,
		StopChan:  make(chan struct{}),
	}
}

// Start runs one rollup immediately and then one per interval until Stop.
func (sr *StatsRollup) Start() {
	sr.Wg.Add(1)
	go sr.run()
	log.Printf("Started stats rollup every %s", sr.interval)
}

func (sr *StatsRollup) run() {
	defer sr.Wg.Done()

	ticker := time.NewTicker(sr.interval)
	defer ticker.Stop()

	sr.rollup()
	for {
		select {
		case <-ticker.C:
			sr.rollup()
		case <-sr.StopChan:
			log.Println("stats rollup stopping: Stop signal received")
			return
		}
	}
}

func (sr *StatsRollup) rollup() {
	ctx, cancel := context.WithTimeout(context.Background(), sr.timeout)
	defer cancel()

	// a rollup in flight is abandoned when Stop is called
	go func() {
		select {
		case <-sr.StopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	started := time.Now()
	if err := sr.analytics.RebuildAll(ctx); err != nil {
		log.Printf("stats rollup: ERROR rebuilding daily stats: %v", err)
		return
	}
	log.Printf("stats rollup: rebuilt daily stats in %s", time.Since(started).Round(time.Millisecond))
}

func (sr *StatsRollup) Stop() {
	sr.stopOnce.Do(func() {
		log.Println("stopping stats rollup...")
		close(sr.StopChan)
		sr.Wg.Wait()
		log.Println("stats rollup stopped")
	})
}
