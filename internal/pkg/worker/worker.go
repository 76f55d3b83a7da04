package worker

import (
	"sync"
	"time"

	"marketplace_backend/internal/domain/order/model"
	"marketplace_backend/internal/pkg/config"
	"marketplace_backend/pkg/logger"
	"marketplace_backend/pkg/metrics"

	"go.uber.org/zap"
)

// orderTimeouter / lockSweeper / reconciler 只取清扫所需的最小面
type orderTimeouter interface {
	TimeoutStaleGroups(intervalSeconds int) (int64, error)
}

type lockSweeper interface {
	SweepExpired(status string, intervalSeconds int) (int64, error)
}

type reconciler interface {
	ReconcileInTransit() (int, error)
}

// Sweeper 周期性后台任务：
//  1. 超时的 IN_PROGRESS 订单组置为 TIMEOUT
//  2. 过期的库存锁定删除，额度归还可售池
//  3. IN_TRANSIT 积分腿按账本终态对账推进
//
// 所有子任务都是幂等批量操作，多实例部署时允许重叠执行。
type Sweeper struct {
	orders   orderTimeouter
	locks    lockSweeper
	payments reconciler

	interval time.Duration
	stop     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

func NewSweeper(orders orderTimeouter, locks lockSweeper, payments reconciler) *Sweeper {
	interval := time.Duration(config.GlobalConfig.Worker.SweepIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		orders:   orders,
		locks:    locks,
		payments: payments,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()
	logger.Log.Info("sweeper started", zap.Duration("interval", s.interval))
}

func (s *Sweeper) Stop() {
	s.once.Do(func() {
		close(s.stop)
	})
	s.wg.Wait()
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

// sweepOnce 一轮清扫。子任务互相独立，单项失败不中断后续。
func (s *Sweeper) sweepOnce() {
	timedOut, err := s.orders.TimeoutStaleGroups(config.GetOrderTimeoutInterval())
	if err != nil {
		logger.Log.Error("timeout sweep failed", zap.Error(err))
	}

	lockInterval := config.GlobalConfig.Order.LockTimeoutSeconds
	var sweptLocks int64

	// pristine：结账后始终未进入支付的锁定
	n, err := s.locks.SweepExpired(model.LockStatusPristine, lockInterval)
	if err != nil {
		logger.Log.Error("pristine lock sweep failed", zap.Error(err))
	}
	sweptLocks += n

	// locked：支付开始后卡死未完成的锁定，给确认多留一个周期
	n, err = s.locks.SweepExpired(model.LockStatusLocked, lockInterval+config.GlobalConfig.Worker.SweepIntervalSeconds)
	if err != nil {
		logger.Log.Error("locked lock sweep failed", zap.Error(err))
	}
	sweptLocks += n

	reconciled, err := s.payments.ReconcileInTransit()
	if err != nil {
		logger.Log.Error("payment reconciliation failed", zap.Error(err))
	}

	metrics.GetGlobalCollector().RecordSweep(timedOut, sweptLocks)

	if timedOut > 0 || sweptLocks > 0 || reconciled > 0 {
		logger.Log.Info("sweep completed",
			zap.Int64("timedOutGroups", timedOut),
			zap.Int64("sweptLocks", sweptLocks),
			zap.Int("reconciledTxns", reconciled),
		)
	}
}
