package cron

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/apexlabs-backend/internal/pendingsync"
	"github.com/angelmondragon/apexlabs-backend/pkg/logger"
)

type PendingSyncJobParams struct {
	Logger  *logger.Logger
	Drainer pendingDrainer
}

type pendingDrainer interface {
	Drain(ctx context.Context) (pendingsync.Report, error)
}

func NewPendingSyncJob(params PendingSyncJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Drainer == nil {
		return nil, fmt.Errorf("pending sync drainer required")
	}
	return &pendingSyncJob{
		logg:    params.Logger,
		drainer: params.Drainer,
	}, nil
}

type pendingSyncJob struct {
	logg    *logger.Logger
	drainer pendingDrainer
}

func (j *pendingSyncJob) Name() string { return "pending-sync" }

func (j *pendingSyncJob) Run(ctx context.Context) error {
	report, err := j.drainer.Drain(ctx)
	if err != nil {
		if errors.Is(err, pendingsync.ErrDrainInProgress) {
			j.logg.Info(ctx, "pending sync already running elsewhere; skipping")
			return nil
		}
		return fmt.Errorf("pending sync: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"synced":    report.Synced,
		"failed":    len(report.Failures),
		"remaining": report.Remaining,
	})
	if len(report.Failures) > 0 {
		j.logg.Warn(logCtx, "pending sync finished with failures")
		return nil
	}
	j.logg.Info(logCtx, "pending sync complete")
	return nil
}
