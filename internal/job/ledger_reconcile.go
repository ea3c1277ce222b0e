package job

import (
	"context"
	"time"

	"renaissance/internal/repository"
	"renaissance/internal/service"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// LedgerReconcileJob 定期核对账户余额与流水合计，只告警不修复
type LedgerReconcileJob struct {
	accountRepo *repository.AccountRepository
	ledger      *service.LedgerService
	stopCh      chan struct{}
	interval    time.Duration
	batchSize   int
	log         *logrus.Entry
}

func NewLedgerReconcileJob(db *gorm.DB, ledger *service.LedgerService, interval time.Duration) *LedgerReconcileJob {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &LedgerReconcileJob{
		accountRepo: repository.NewAccountRepository(db),
		ledger:      ledger,
		stopCh:      make(chan struct{}),
		interval:    interval,
		batchSize:   200,
		log:         logrus.WithField("job", "LedgerReconcileJob"),
	}
}

func (j *LedgerReconcileJob) Start(ctx context.Context) {
	j.log.WithField("interval", j.interval).Info("对账任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.log.Info("任务停止")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

func (j *LedgerReconcileJob) Stop() {
	close(j.stopCh)
}

// RunOnce 扫描全部账户一遍，返回不一致的对账结果
func (j *LedgerReconcileJob) RunOnce(ctx context.Context) []*service.LedgerReport {
	var (
		afterID    int64
		checked    int
		mismatched []*service.LedgerReport
	)
	for {
		accounts, err := j.accountRepo.ListAfterID(ctx, afterID, j.batchSize)
		if err != nil {
			j.log.WithError(err).Error("查询账户失败")
			return mismatched
		}
		if len(accounts) == 0 {
			break
		}

		for _, account := range accounts {
			afterID = account.ID
			report, err := j.ledger.VerifyLedger(ctx, account.UserID)
			if err != nil {
				j.log.WithError(err).WithField("user_id", account.UserID).Warn("对账失败")
				continue
			}
			checked++
			if !report.Consistent {
				mismatched = append(mismatched, report)
				j.log.WithFields(logrus.Fields{
					"user_id": report.UserID,
					"balance": report.Balance.StringFixed(2),
					"sum":     report.Sum.StringFixed(2),
				}).Error("账户余额与流水合计不一致")
			}
		}
		if len(accounts) < j.batchSize {
			break
		}
	}

	if checked > 0 {
		j.log.WithFields(logrus.Fields{
			"checked":    checked,
			"mismatched": len(mismatched),
		}).Info("本轮对账完成")
	}
	return mismatched
}
