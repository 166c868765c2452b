package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/skylarkhq/delver/internal/research"
	"github.com/skylarkhq/delver/internal/store"
)

// Scheduler fires recurring research queries. Every tick it walks the enabled
// schedules and starts a run for each one that is due; a redis lock keeps
// multiple instances from firing the same schedule twice.
type Scheduler struct {
	Store    *store.Store
	Research *ResearchHandler
	Rdb      *redis.Client
	Logger   *log.Logger
	Interval time.Duration
	Stop     chan struct{}
}

func (s *Scheduler) Start() {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	scheds, err := s.Store.ListEnabledSchedules(ctx)
	if err != nil {
		s.Logger.Printf("list schedules: %v", err)
		return
	}
	for _, sched := range scheds {
		last, _ := s.Store.LatestRunTime(ctx, sched.ID)
		if !isDue(sched.Cron, last) {
			continue
		}
		if s.Rdb != nil {
			lockKey := "sched:lock:" + sched.ID
			ok, _ := s.Rdb.SetNX(ctx, lockKey, "1", 2*time.Minute).Result()
			if !ok {
				continue
			}
		}
		go s.fire(sched)
	}
}

func (s *Scheduler) fire(sched store.ScheduleRecord) {
	// jitter to avoid stampedes when many schedules share a cron
	time.Sleep(time.Duration(250+time.Now().UnixNano()%250) * time.Millisecond)

	scheduleID := sched.ID
	result, err := s.Research.execute(context.Background(), sched.UserID, sched.Query, &scheduleID, research.NopEmitter{})
	if err != nil {
		s.Logger.Printf("schedule %s run failed: %v", sched.ID, err)
		return
	}
	s.Logger.Printf("schedule %s run %s %s after %d iterations", sched.ID, result.SessionID, result.State, result.Iterations)
}

// isDue reports whether a schedule with cronSpec should run now given its last
// run time. Supports "@daily", "@hourly" and standard cron expressions; an
// unparsable spec falls back to @daily.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		return last == nil || now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		return last == nil || now.Sub(*last) >= time.Hour
	}
	expr, err := cronexpr.Parse(cronSpec)
	if err != nil {
		return last == nil || now.Sub(*last) >= 24*time.Hour
	}
	if last == nil {
		return true
	}
	return !expr.Next(*last).After(now)
}
