package viewstate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/apexlabs-backend/internal/broadcast"
	"github.com/angelmondragon/apexlabs-backend/pkg/db/models"
	"github.com/angelmondragon/apexlabs-backend/pkg/enums"
	"github.com/angelmondragon/apexlabs-backend/pkg/logger"
	"github.com/angelmondragon/apexlabs-backend/pkg/retry"
)

const (
	defaultPollInterval = 10 * time.Second
	defaultMinBackoff   = time.Second
	defaultMaxBackoff   = 30 * time.Second
)

// AdminAPI is the subset of Client the viewer drives.
type AdminAPI interface {
	ListOrders(ctx context.Context) ([]models.Order, error)
	Stream(ctx context.Context, fn func(broadcast.Message) error) error
	UpdateStatus(ctx context.Context, orderNumber string, status enums.OrderStatus) (*models.Order, error)
}

type ViewerParams struct {
	API          AdminAPI
	View         *View
	Logger       *logger.Logger
	PollInterval time.Duration
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	// OnChange receives the merged view after every applied fetch, event or edit.
	OnChange func([]models.Order)
}

// Viewer keeps a View current by polling the order list and following the
// change stream at the same time.
type Viewer struct {
	api          AdminAPI
	view         *View
	logg         *logger.Logger
	pollInterval time.Duration
	minBackoff   time.Duration
	maxBackoff   time.Duration
	onChange     func([]models.Order)
}

func NewViewer(p ViewerParams) (*Viewer, error) {
	if p.API == nil {
		return nil, fmt.Errorf("admin api required")
	}
	if p.View == nil {
		return nil, fmt.Errorf("view required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if p.PollInterval <= 0 {
		p.PollInterval = defaultPollInterval
	}
	if p.MinBackoff <= 0 {
		p.MinBackoff = defaultMinBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = defaultMaxBackoff
	}
	return &Viewer{
		api:          p.API,
		view:         p.View,
		logg:         p.Logger,
		pollInterval: p.PollInterval,
		minBackoff:   p.MinBackoff,
		maxBackoff:   p.MaxBackoff,
		onChange:     p.OnChange,
	}, nil
}

// Run polls and streams until ctx is done.
func (v *Viewer) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		v.pollLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		v.streamLoop(ctx)
	}()
	wg.Wait()
	return ctx.Err()
}

// Refresh fetches the order list once and merges it.
func (v *Viewer) Refresh(ctx context.Context) error {
	list, err := v.api.ListOrders(ctx)
	if err != nil {
		return err
	}
	v.view.ApplyFetch(list)
	v.changed()
	return nil
}

// UpdateStatus sends a status change and applies the stored row locally so the
// edit shows before the next fetch or stream event.
func (v *Viewer) UpdateStatus(ctx context.Context, orderNumber string, status enums.OrderStatus) (*models.Order, error) {
	order, err := v.api.UpdateStatus(ctx, orderNumber, status)
	if err != nil {
		return nil, err
	}
	v.view.ApplyLocal(*order)
	v.changed()
	return order, nil
}

func (v *Viewer) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(v.pollInterval)
	defer ticker.Stop()
	for {
		if err := v.Refresh(ctx); err != nil && ctx.Err() == nil {
			v.logg.Error(ctx, "viewer.poll.failed", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (v *Viewer) streamLoop(ctx context.Context) {
	backoff := v.minBackoff
	for {
		err := v.api.Stream(ctx, func(msg broadcast.Message) error {
			backoff = v.minBackoff
			v.handle(ctx, msg)
			return nil
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			v.logg.Error(v.logg.WithField(ctx, "retry_in_ms", backoff.Milliseconds()), "viewer.stream.disconnected", err)
		}
		if retry.Sleep(ctx, retry.WithJitter(backoff)) != nil {
			return
		}
		backoff = retry.NextBackoff(backoff, v.minBackoff, v.maxBackoff)
	}
}

func (v *Viewer) handle(ctx context.Context, msg broadcast.Message) {
	switch msg.Type {
	case broadcast.TypeChange:
		if msg.Payload == nil {
			return
		}
		v.view.ApplyChangeEvent(*msg.Payload)
		v.changed()
	case broadcast.TypeStatus:
		fields := map[string]any{"status": msg.Status}
		if msg.Error != "" {
			fields["error"] = msg.Error
		}
		v.logg.Info(v.logg.WithFields(ctx, fields), "viewer.stream.status")
	}
}

func (v *Viewer) changed() {
	if v.onChange != nil {
		v.onChange(v.view.Snapshot())
	}
}
