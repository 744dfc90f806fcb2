// Package redis provides Redis-backed persistence for graphs, documents, and
// run state. The optimistic state write uses WATCH transactions so that two
// fork branches cannot commit conflicting states.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/nocodile/docflow/pkg/persistence"
)

const keyPrefix = "docflow"

// Persistence implements persistence.Persistence on a Redis server.
type Persistence struct {
	client    *redis.Client
	graphs    *GraphRepository
	documents *DocumentRepository
	runState  *RunStateRepository
}

// NewPersistence connects a Redis persistence from a redis:// URL.
func NewPersistence(url string) (*Persistence, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	return &Persistence{
		client:    client,
		graphs:    &GraphRepository{client: client},
		documents: &DocumentRepository{client: client},
		runState:  &RunStateRepository{client: client},
	}, nil
}

func (p *Persistence) Graphs() persistence.GraphRepository { return p.graphs }

func (p *Persistence) Documents() persistence.DocumentRepository { return p.documents }

func (p *Persistence) RunState() persistence.RunStateRepository { return p.runState }

func (p *Persistence) HealthCheck(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *Persistence) Close(_ context.Context) error {
	return p.client.Close()
}

func key(parts ...string) string {
	k := keyPrefix
	for _, part := range parts {
		k += ":" + part
	}

	return k
}

// getJSON loads and decodes one entity, mapping redis.Nil to notFound.
func getJSON(ctx context.Context, client *redis.Client, k string, target any, notFound error) error {
	data, err := client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return notFound
	}

	if err != nil {
		return fmt.Errorf("redis get %s: %w", k, err)
	}

	return json.Unmarshal(data, target)
}

func setJSON(ctx context.Context, client redis.Cmdable, k string, entity any) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return err
	}

	return client.Set(ctx, k, data, 0).Err()
}
