// 文件路径: internal/job/scheduler.go
// 模块说明: 封装 cron 调度器；任务带统一超时与日志，上一轮未结束时跳过本轮。
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrUnknownJob 表示 RunNow 的任务名未注册。
var ErrUnknownJob = errors.New("scheduler: unknown job / 未知任务")

// Runnable 表示由调度器触发的后台任务。
type Runnable interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler 封装 cron，并提供日志与优雅停机。
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	started bool
	jobs    map[string]Runnable
}

const defaultJobTimeout = 2 * time.Minute

// NewScheduler 构建支持秒与 @every 描述的调度器。timeout 为 0 时使用默认值。
func NewScheduler(logger *slog.Logger, timeout time.Duration) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	return &Scheduler{cron: c, logger: logger, timeout: timeout, jobs: make(map[string]Runnable)}
}

// Register 绑定 cron 表达式与任务。空表达式表示不定时触发，但仍可通过 RunNow 手动执行。
func (s *Scheduler) Register(spec string, runnable Runnable) (cron.EntryID, error) {
	if runnable == nil {
		return 0, fmt.Errorf("scheduler: runnable is required / runnable 不能为空")
	}
	if spec == "" {
		s.keep(runnable)
		s.logger.Info("job disabled", "job", runnable.Name())
		return 0, nil
	}
	entryID, err := s.cron.AddFunc(spec, s.wrap(runnable))
	if err != nil {
		return 0, fmt.Errorf("scheduler: register %s: %w", runnable.Name(), err)
	}
	s.keep(runnable)
	s.logger.Info("job registered", "job", runnable.Name(), "spec", spec)
	return entryID, nil
}

func (s *Scheduler) keep(runnable Runnable) {
	s.mu.Lock()
	s.jobs[runnable.Name()] = runnable
	s.mu.Unlock()
}

// Names lists registered jobs, including the ones without a schedule.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunNow executes a registered job synchronously.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	runnable, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return runnable.Run(ctx)
}

// Start 启动调度器并执行任务。
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.cron.Start()
	s.started = true
}

// Stop 停止调度器并等待执行中的任务结束。
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		done, cancel := context.WithCancel(context.Background())
		cancel()
		return done
	}
	s.started = false
	return s.cron.Stop()
}

// wrap 包装任务，提供超时与统一日志。
func (s *Scheduler) wrap(runnable Runnable) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		start := time.Now()
		if err := runnable.Run(ctx); err != nil {
			s.logger.Error("job failed", "job", runnable.Name(), "error", err, "elapsed", time.Since(start))
			return
		}
		s.logger.Debug("job completed", "job", runnable.Name(), "elapsed", time.Since(start))
	}
}
