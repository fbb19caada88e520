package service

import (
	"context"
	"sync"
	"time"

	"github-trending-poster/internal/domain"
	"github-trending-poster/internal/logging"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner 执行一轮流水线
type Runner interface {
	Run(ctx context.Context) *domain.RunReport
}

// Scheduler 按 cron 表达式定时触发 Runner，上一轮没结束时跳过本次触发
type Scheduler struct {
	schedule cron.Schedule
	runner   Runner
	log      *zap.SugaredLogger
	cron     *cron.Cron

	// OnReport 每轮结束后回调，可以为 nil
	OnReport func(*domain.RunReport)
}

// NewScheduler 解析标准 cron 表达式，也支持 "@every 1h" 这样的写法
func NewScheduler(spec string, runner Runner, log *zap.SugaredLogger) (*Scheduler, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid schedule %q", spec)
	}

	cronLog := logging.NewCronLogger(log)
	return &Scheduler{
		schedule: schedule,
		runner:   runner,
		log:      log,
		cron: cron.New(
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
	}, nil
}

// Start 先立即跑一轮，然后按计划执行，直到 ctx 结束
// 返回前会等待正在执行的那一轮结束
func (s *Scheduler) Start(ctx context.Context) error {
	job := cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		report := s.runner.Run(ctx)
		if s.OnReport != nil {
			s.OnReport(report)
		}
	})

	// 启动时的那一轮也走同一个 chain，和定时触发互斥
	id := s.cron.Schedule(s.schedule, job)
	first := s.cron.Entry(id).WrappedJob

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		first.Run()
	}()

	s.cron.Start()
	s.log.Infof("⏰ 定时模式已启动，下次执行时间: %s", s.schedule.Next(time.Now()).Format("2006-01-02 15:04:05"))

	<-ctx.Done()
	s.log.Info("👋 收到停止信号，等待当前一轮结束...")
	<-s.cron.Stop().Done()
	wg.Wait()
	s.log.Info("👋 定时任务已停止")
	return nil
}
