package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const publishTimeout = 2 * time.Second

// PostgresBroker fans events out through Postgres LISTEN/NOTIFY, so the
// process running a worker does not have to be the one serving the
// subscriber's connection. NOTIFY payloads are transient; nothing durable is
// stored.
type PostgresBroker struct {
	pool *pgxpool.Pool
}

func NewPostgresBroker(ctx context.Context, databaseURL string) (*PostgresBroker, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresBroker{pool: pool}, nil
}

func (b *PostgresBroker) Publish(ctx context.Context, channel string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if _, err := b.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, string(payload)); err != nil {
		return fmt.Errorf("pg_notify %s: %w", channel, err)
	}
	return nil
}

func (b *PostgresBroker) Subscribe(ctx context.Context, channel string) (<-chan Event, func(), error) {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire listen conn: %w", err)
	}

	// LISTEN needs a quoted identifier; task ids contain hyphens.
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, nil, fmt.Errorf("listen %s: %w", channel, err)
	}

	subCtx, cancelCtx := context.WithCancel(ctx)
	out := make(chan Event, subscriberBuffer)

	go func() {
		defer close(out)
		defer releaseListener(conn, channel)
		for {
			n, err := conn.Conn().WaitForNotification(subCtx)
			if err != nil {
				return
			}
			// The connection only listens on one channel, but filtering by
			// name is part of the contract, not an optimization.
			if n.Channel != channel {
				continue
			}
			var evt Event
			if err := json.Unmarshal([]byte(n.Payload), &evt); err != nil {
				log.Printf("notify: bad payload on %s: %v", channel, err)
				continue
			}
			select {
			case out <- evt:
			case <-subCtx.Done():
				return
			}
		}
	}()

	return out, cancelCtx, nil
}

func releaseListener(conn *pgxpool.Conn, channel string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := conn.Exec(ctx, "UNLISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		// The connection is likely broken; let the pool discard it.
		conn.Conn().Close(ctx)
	}
	conn.Release()
}

func (b *PostgresBroker) Close() error {
	b.pool.Close()
	return nil
}
