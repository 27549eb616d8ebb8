package app

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/talkincode/wagate/internal/domain"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func (a *Application) initJob() {
	loc, _ := time.LoadLocation(a.appConfig.System.Location)
	a.sched = cron.New(cron.WithLocation(loc), cron.WithParser(cronParser))

	var err error
	_, err = a.sched.AddFunc("@daily", func() {
		go a.SchedClearExpireData()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	a.sched.Start()
}

// SchedClearExpireData prunes finished queue rows, old delivery
// ledger rows and stale conversational memory.
func (a *Application) SchedClearExpireData() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	a.gormDB.Where("status in ? and updated_at < ?",
		[]string{domain.QueueSent, domain.QueueFailed},
		time.Now().Add(-time.Hour*24*90)).
		Delete(&domain.WaQueueItem{})

	a.gormDB.Where("created_at < ?", time.Now().Add(-time.Hour*24*90)).
		Delete(&domain.WaOutbox{})

	a.gormDB.Where("created_at < ?", time.Now().Add(-time.Hour*24*30)).
		Delete(&domain.WaAiHistory{})
}
