package cron

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/caarlos0/env/v6"
	cronv3 "github.com/robfig/cron/v3"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/dmarcwatch/dmarcwatch/dto"
	"github.com/dmarcwatch/dmarcwatch/interfaces"
	cron_config "github.com/dmarcwatch/dmarcwatch/internal/cron/config"
	"github.com/dmarcwatch/dmarcwatch/internal/logger"
	"github.com/dmarcwatch/dmarcwatch/internal/repository"
	"github.com/dmarcwatch/dmarcwatch/internal/tracing"
	"github.com/dmarcwatch/dmarcwatch/services/jobs"
)

// CONSTANTS
const (
	// GroupIngestion is the group for mailbox ingestion jobs
	GroupIngestion = "ingestion"
	// GroupRetention is the group for retention cleanup jobs
	GroupRetention = "retention"

	// LeaseDuration is how long a lease lasts before needing renewal
	LeaseDuration = 15 * time.Second
	// RenewDeadline is how long a leader has to renew its lease
	RenewDeadline = 10 * time.Second
	// RetryPeriod is how long to wait between leadership attempts
	RetryPeriod = 2 * time.Second
)

// LOCK MANAGEMENT
var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupIngestion: new(sync.Mutex),
		GroupRetention: new(sync.Mutex),
	},
}

type CronManager struct {
	log      logger.Logger
	cron     *cronv3.Cron
	k8s      kubernetes.Interface
	stopCh   chan struct{}
	jobIDs   map[string]cronv3.EntryID
	repos    *repository.Repositories
	enqueuer interfaces.JobEnqueuer
	registry *jobs.Registry
}

func NewCronManager(log logger.Logger, k8s kubernetes.Interface, repos *repository.Repositories, enqueuer interfaces.JobEnqueuer, registry *jobs.Registry) *CronManager {
	return &CronManager{
		log:      log,
		k8s:      k8s,
		stopCh:   make(chan struct{}),
		jobIDs:   make(map[string]cronv3.EntryID),
		repos:    repos,
		enqueuer: enqueuer,
		registry: registry,
	}
}

// Start initializes and starts the cron manager with leader election
// If k8s is nil, it will start in local mode without leader election
func (cm *CronManager) Start(podName, namespace string) error {
	// If k8s client is nil or we're in local development, start in local mode
	if cm.k8s == nil || os.Getenv("LOCAL_DEV") == "true" {
		cm.log.Info("Starting cron manager in local mode")
		cm.StartCron()
		return nil
	}

	// Create the leader election lock
	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      "dmarcwatch-cron-leader",
			Namespace: namespace,
		},
		Client: cm.k8s.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: podName,
		},
	}

	// Channel to track leader election errors
	errCh := make(chan error, 1)

	// Start leader election
	go func() {
		le, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
			Lock:            lock,
			ReleaseOnCancel: true,
			LeaseDuration:   LeaseDuration,
			RenewDeadline:   RenewDeadline,
			RetryPeriod:     RetryPeriod,
			Callbacks: leaderelection.LeaderCallbacks{
				OnStartedLeading: func(ctx context.Context) {
					cm.StartCron()
				},
				OnStoppedLeading: func() {
					cm.log.Info("Leader lost - stopping crons")
					cm.Stop()
				},
				OnNewLeader: func(identity string) {
					cm.log.Infof("New leader elected: %s", identity)
				},
			},
		})
		if err != nil {
			errCh <- err
			return
		}

		ctx := context.Background()
		le.Run(ctx)
	}()

	// Wait briefly to see if leader election fails immediately
	select {
	case err := <-errCh:
		cm.log.Warnf("Leader election failed, falling back to local mode: %v", err)
		cm.StartCron()
	case <-time.After(5 * time.Second):
		// Leader election seems to be working, continue normally
	}

	return nil
}

// Stop gracefully stops the cron manager
func (cm *CronManager) Stop() {
	if cm.cron != nil {
		cm.log.Info("Stopping cron manager")
		ctx := cm.cron.Stop()
		// Wait for jobs to finish
		<-ctx.Done()
	}
	close(cm.stopCh)
}

// registerJobs adds all cron jobs to the scheduler
func (cm *CronManager) registerJobs(c *cronv3.Cron) {
	// Load cron config from environment variables
	var cronConfig cron_config.Config
	if err := env.Parse(&cronConfig); err != nil {
		cm.log.Fatalf("Failed to parse cron config from environment: %v", err)
	}

	// Register heartbeat job
	if cronConfig.CronScheduleHeartbeat != "" {
		podName := os.Getenv("POD_NAME")
		if podName == "" {
			podName = "local"
		}
		id, err := c.AddFunc(cronConfig.CronScheduleHeartbeat, func() {
			defer tracing.RecoverAndLog(cm.log)
			cm.log.Infof("Cron heartbeat from pod: %s", podName)
		})
		if err != nil {
			cm.log.Fatalf("Could not add heartbeat cron job: %v", err)
		}
		cm.jobIDs["heartbeat"] = id
		cm.log.Infof("Registered heartbeat job with schedule: %s", cronConfig.CronScheduleHeartbeat)
	}

	// Add mailbox sync sweep job
	if cronConfig.CronScheduleMailboxSync != "" {
		id, err := c.AddFunc(cronConfig.CronScheduleMailboxSync, func() {
			defer tracing.RecoverAndLog(cm.log)
			jobLocks.locks[GroupIngestion].Lock()
			defer jobLocks.locks[GroupIngestion].Unlock()
			cm.sweepMailboxAccounts()
		})
		if err != nil {
			cm.log.Fatalf("Could not add mailbox sync cron job: %v", err)
		}
		cm.jobIDs["mailbox_sync"] = id
		cm.log.Infof("Registered mailbox sync job with schedule: %s", cronConfig.CronScheduleMailboxSync)
	}

	// Add retention cleanup job
	if cronConfig.CronScheduleCleanup != "" {
		id, err := c.AddFunc(cronConfig.CronScheduleCleanup, func() {
			defer tracing.RecoverAndLog(cm.log)
			jobLocks.locks[GroupRetention].Lock()
			defer jobLocks.locks[GroupRetention].Unlock()
			cm.sweepRetention()
		})
		if err != nil {
			cm.log.Fatalf("Could not add cleanup cron job: %v", err)
		}
		cm.jobIDs["cleanup"] = id
		cm.log.Infof("Registered cleanup job with schedule: %s", cronConfig.CronScheduleCleanup)
	}
}

// StartCron initializes and starts the cron scheduler
func (cm *CronManager) StartCron() {
	cm.log.Info("Starting cron manager")
	// Create a new cron with seconds field enabled and panic recovery
	cronOptions := []cronv3.Option{
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger), // Skip if still running
			cronv3.Recover(cronv3.DefaultLogger),            // Default recovery as backup
		),
	}
	c := cronv3.New(cronOptions...)
	cm.registerJobs(c)
	c.Start()
	cm.cron = c
}

// sweepMailboxAccounts enqueues one sync job per active mailbox account,
// skipping accounts whose previous job is still waiting or active.
func (cm *CronManager) sweepMailboxAccounts() {
	ctx := context.Background()

	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.sweepMailboxAccounts")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	accounts, err := cm.repos.MailboxAccountRepository.ListActive(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to list active mailbox accounts: %v", err)
		return
	}

	enqueued := 0
	for _, account := range accounts {
		key := interfaces.QueueMailboxSync + "-" + account.ID
		if cm.registry.InFlight(key) {
			cm.log.Infof("Skipping mailbox sync for account %s, previous job still in flight", account.ID)
			continue
		}
		// A terminal entry under the same key belongs to the previous run.
		cm.registry.Remove(key)

		payload := dto.SyncMailbox{AccountID: account.ID}
		if err := cm.enqueuer.Enqueue(ctx, interfaces.QueueMailboxSync, key, payload); err != nil {
			tracing.TraceErr(span, err)
			cm.log.Errorf("Failed to enqueue mailbox sync for account %s: %v", account.ID, err)
			continue
		}
		enqueued++
	}

	cm.log.Infof("Mailbox sweep enqueued %d of %d accounts", enqueued, len(accounts))
}

// sweepRetention enqueues one cleanup job per organization.
func (cm *CronManager) sweepRetention() {
	ctx := context.Background()

	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.sweepRetention")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	organizations, err := cm.repos.OrganizationRepository.List(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to list organizations: %v", err)
		return
	}

	for _, org := range organizations {
		key := interfaces.QueueCleanup + "-" + org.ID
		if cm.registry.InFlight(key) {
			continue
		}
		cm.registry.Remove(key)

		payload := dto.RunCleanup{OrganizationID: org.ID}
		if err := cm.enqueuer.Enqueue(ctx, interfaces.QueueCleanup, key, payload); err != nil {
			tracing.TraceErr(span, err)
			cm.log.Errorf("Failed to enqueue cleanup for organization %s: %v", org.ID, err)
		}
	}
}
