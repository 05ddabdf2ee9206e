package database

import (
	"context"
	"fmt"
	"time"

	"docgraph/config"
	"docgraph/pkg/logger"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const (
	connectAttempts = 5
	connectBackoff  = 2 * time.Second
)

// Connect creates the process-wide driver and waits until the server answers,
// retrying a few times to ride out DNS/network blips at startup.
func Connect(ctx context.Context, cfg *config.Config) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4jURI,
		neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}

	for i := 0; i < connectAttempts; i++ {
		if err = driver.VerifyConnectivity(ctx); err == nil {
			logger.Sugar.Info("Successfully connected to the graph database")
			return driver, nil
		}
		logger.Sugar.Infof("Graph database connection failed, retrying in %s... (%v)", connectBackoff, err)
		select {
		case <-ctx.Done():
			_ = driver.Close(context.Background())
			return nil, ctx.Err()
		case <-time.After(connectBackoff):
		}
	}
	_ = driver.Close(context.Background())
	return nil, fmt.Errorf("could not connect to graph database after %d attempts: %w", connectAttempts, err)
}
