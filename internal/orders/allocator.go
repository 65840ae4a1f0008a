package orders

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/angelmondragon/apexlabs-backend/pkg/logger"
)

const (
	orderNumberMin      = 10000
	orderNumberMax      = 99999
	defaultAllocRetries = 5
	defaultCheckTimeout = 2 * time.Second
)

type existenceChecker interface {
	Exists(ctx context.Context, orderNumber string) (bool, error)
}

// AllocationMetrics records fallback allocations.
type AllocationMetrics interface {
	IncAllocationDegraded()
}

// AllocatorParams wires an Allocator.
type AllocatorParams struct {
	Store    existenceChecker
	Logger   *logger.Logger
	Metrics  AllocationMetrics
	NodeID   int64
	Attempts int
	// CheckTimeout bounds each existence check.
	CheckTimeout time.Duration
	// Intn returns a value in [0, n); defaults to math/rand/v2.
	Intn func(n int) int
	// Node overrides the snowflake node built from NodeID.
	Node *snowflake.Node
}

// Allocator hands out short human-readable order numbers. It never reserves a
// number; uniqueness is ultimately enforced by the order_number constraint.
type Allocator struct {
	store    existenceChecker
	logg     *logger.Logger
	metrics  AllocationMetrics
	attempts int
	timeout  time.Duration
	node     *snowflake.Node

	mu   sync.Mutex
	intn func(n int) int
}

// NewAllocator validates params and builds an Allocator.
func NewAllocator(params AllocatorParams) (*Allocator, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("order store required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	node := params.Node
	if node == nil {
		var err error
		node, err = snowflake.NewNode(params.NodeID)
		if err != nil {
			return nil, fmt.Errorf("snowflake node %d: %w", params.NodeID, err)
		}
	}
	attempts := params.Attempts
	if attempts <= 0 {
		attempts = defaultAllocRetries
	}
	timeout := params.CheckTimeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	intn := params.Intn
	if intn == nil {
		intn = rand.IntN
	}
	return &Allocator{
		store:    params.Store,
		logg:     params.Logger,
		metrics:  params.Metrics,
		attempts: attempts,
		timeout:  timeout,
		node:     node,
		intn:     intn,
	}, nil
}

// Allocate returns a 5-digit number not currently present in the store. After
// the attempt budget is spent, or as soon as the store cannot answer, it
// returns a time-derived fallback and reports degraded=true.
func (a *Allocator) Allocate(ctx context.Context) (string, bool) {
	for attempt := 1; attempt <= a.attempts; attempt++ {
		candidate := a.candidate()
		exists, err := a.exists(ctx, candidate)
		if err != nil {
			logCtx := a.logg.WithFields(ctx, map[string]any{
				"candidate": candidate,
				"attempt":   attempt,
			})
			a.logg.Warn(logCtx, fmt.Sprintf("orders.allocation.check_failed: %v", err))
			return a.Fallback(ctx), true
		}
		if !exists {
			return candidate, false
		}
	}
	return a.Fallback(ctx), true
}

// Fallback issues a snowflake-derived number and records the degradation.
func (a *Allocator) Fallback(ctx context.Context) string {
	number := a.node.Generate().String()
	if a.metrics != nil {
		a.metrics.IncAllocationDegraded()
	}
	logCtx := a.logg.WithFields(ctx, map[string]any{
		"order_number": number,
		"attempts":     a.attempts,
	})
	a.logg.Warn(logCtx, "orders.allocation.degraded")
	return number
}

func (a *Allocator) exists(ctx context.Context, candidate string) (bool, error) {
	checkCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.store.Exists(checkCtx, candidate)
}

func (a *Allocator) candidate() string {
	a.mu.Lock()
	n := a.intn(orderNumberMax - orderNumberMin + 1)
	a.mu.Unlock()
	return strconv.Itoa(orderNumberMin + n)
}
