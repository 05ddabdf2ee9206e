// Package graph wraps the Neo4j driver with a per-request session that runs
// parameterised Cypher under a fixed timeout and is released exactly once.
package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"docgraph/pkg/logger"
	"docgraph/pkg/metrics"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const DefaultQueryTimeout = 5 * time.Second

// closeTimeout bounds session release once the request is gone.
const closeTimeout = 5 * time.Second

var ErrSessionClosed = errors.New("graph session already closed")

// Result is a fully collected query result. Nodes and relationships are
// flattened to their property maps.
type Result struct {
	Rows         []map[string]any
	NodesCreated int
}

// Session is a connection-scoped handle bound to a single request.
type Session interface {
	Run(ctx context.Context, cypher string, params map[string]any) (*Result, error)
	// Close is idempotent.
	Close(ctx context.Context) error
}

type Config struct {
	Database     string
	QueryTimeout time.Duration
	Metrics      *metrics.Metrics
}

// Gateway hands out sessions from a process-wide driver.
type Gateway struct {
	driver   neo4j.DriverWithContext
	database string
	timeout  time.Duration
	metrics  *metrics.Metrics
}

func NewGateway(driver neo4j.DriverWithContext, cfg Config) *Gateway {
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &Gateway{
		driver:   driver,
		database: cfg.Database,
		timeout:  timeout,
		metrics:  cfg.Metrics,
	}
}

func (g *Gateway) Open(ctx context.Context) Session {
	inner := g.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: g.database})
	return &session{inner: inner, timeout: g.timeout, metrics: g.metrics}
}

// WithSession opens a session, hands it to fn and releases it on every exit
// path, including a panic inside fn.
func (g *Gateway) WithSession(ctx context.Context, fn func(Session) error) error {
	s := g.Open(ctx)
	defer func() {
		if err := s.Close(ctx); err != nil {
			logger.Sugar.Warnf("Failed to release graph session: %v", err)
		}
	}()
	return fn(s)
}

// Ping runs a trivial query to prove the store is reachable.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.WithSession(ctx, func(s Session) error {
		_, err := s.Run(ctx, "RETURN 1", nil)
		return err
	})
}

type session struct {
	inner   neo4j.SessionWithContext
	timeout time.Duration
	metrics *metrics.Metrics

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (s *session) Run(ctx context.Context, cypher string, params map[string]any) (*Result, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	// A client disconnect does not abort a query already issued; only the
	// query timeout does.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	start := time.Now()
	res, err := s.run(ctx, cypher, params)
	s.metrics.ObserveQuery(start, err)
	if err != nil {
		return nil, fmt.Errorf("run cypher: %w", err)
	}
	return res, nil
}

func (s *session) run(ctx context.Context, cypher string, params map[string]any) (*Result, error) {
	cursor, err := s.inner.Run(ctx, cypher, params, neo4j.WithTxTimeout(s.timeout))
	if err != nil {
		return nil, err
	}
	records, err := cursor.Collect(ctx)
	if err != nil {
		return nil, err
	}
	summary, err := cursor.Consume(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]any, 0, len(records))
	for _, record := range records {
		row := make(map[string]any, len(record.Keys))
		for i, key := range record.Keys {
			row[key] = flatten(record.Values[i])
		}
		rows = append(rows, row)
	}

	res := &Result{Rows: rows}
	if summary != nil && summary.Counters() != nil {
		res.NodesCreated = summary.Counters().NodesCreated()
	}
	return res, nil
}

func (s *session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		s.closeErr = s.inner.Close(ctx)
	})
	return s.closeErr
}

func flatten(v any) any {
	switch val := v.(type) {
	case neo4j.Node:
		return copyProps(val.Props)
	case neo4j.Relationship:
		return copyProps(val.Props)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = flatten(item)
		}
		return out
	default:
		return v
	}
}

func copyProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}
