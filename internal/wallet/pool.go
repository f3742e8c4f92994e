package wallet

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	clierr "github.com/ggonzalez94/dustsweep/internal/errors"
	"github.com/ggonzalez94/dustsweep/internal/logger"
	"github.com/ggonzalez94/dustsweep/internal/registry"
	"github.com/patrickmn/go-cache"
)

const poolIdleTTL = 10 * time.Minute

// ClientPool memoizes one ethclient per chain. Idle clients are closed on
// eviction.
type ClientPool struct {
	overrides map[int64]string
	clients   *cache.Cache
	mu        sync.Mutex
}

func NewClientPool(overrides map[int64]string) *ClientPool {
	clients := cache.New(poolIdleTTL, time.Minute)
	clients.OnEvicted(func(key string, v any) {
		if client, ok := v.(*ethclient.Client); ok {
			logger.Debugf("[Wallet] closing idle rpc client for chain %s", key)
			client.Close()
		}
	})
	return &ClientPool{overrides: overrides, clients: clients}
}

func (p *ClientPool) Client(ctx context.Context, chainID int64) (*ethclient.Client, error) {
	key := strconv.FormatInt(chainID, 10)
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.clients.Get(key); ok {
		p.clients.SetDefault(key, v)
		return v.(*ethclient.Client), nil
	}
	url, err := registry.ResolveRPCURL(p.overrides[chainID], chainID)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnsupported, "resolve rpc url", err)
	}
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	logger.Debugf("[Wallet] dialed chain %d rpc", chainID)
	p.clients.SetDefault(key, client)
	return client, nil
}

// Close releases every pooled client.
func (p *ClientPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key := range p.clients.Items() {
		p.clients.Delete(key)
	}
}
