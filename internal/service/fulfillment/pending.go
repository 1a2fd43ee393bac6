package fulfillment

import (
	"context"
	"sync"
	"time"

	"github.com/ArthurBarre/site-forge-clone/internal/cache"
	"github.com/ArthurBarre/site-forge-clone/internal/domain"
)

const pendingTTL = 24 * time.Hour

// PendingPurchases stashes the full purchase request between payment
// creation and the processor's completion webhook, which only carries
// metadata. Redis-backed when available, in-process otherwise.
type PendingPurchases struct {
	redis *cache.Redis

	mu  sync.Mutex
	mem map[string]domain.PurchaseRequest
}

func NewPendingPurchases(redis *cache.Redis) *PendingPurchases {
	return &PendingPurchases{redis: redis, mem: make(map[string]domain.PurchaseRequest)}
}

func key(paymentID string) string {
	return "siteforge:pending_purchase:" + paymentID
}

// Stash stores the request under the processor's payment id.
func (p *PendingPurchases) Stash(ctx context.Context, paymentID string, req domain.PurchaseRequest) error {
	if p.redis != nil {
		return p.redis.SetJSON(ctx, key(paymentID), req, pendingTTL)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mem[paymentID] = req
	return nil
}

// Take retrieves and forgets the stashed request.
func (p *PendingPurchases) Take(ctx context.Context, paymentID string) (domain.PurchaseRequest, bool, error) {
	if p.redis != nil {
		var req domain.PurchaseRequest
		hit, err := p.redis.GetJSON(ctx, key(paymentID), &req)
		if err != nil || !hit {
			return domain.PurchaseRequest{}, false, err
		}
		_ = p.redis.Delete(ctx, key(paymentID))
		return req, true, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	req, ok := p.mem[paymentID]
	if ok {
		delete(p.mem, paymentID)
	}
	return req, ok, nil
}
