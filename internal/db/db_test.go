//go:build integration

package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testDB *Client

// startSurreal runs a throwaway SurrealDB and returns its RPC URL.
func startSurreal(ctx context.Context) (testcontainers.Container, string, error) {
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("start container: %w", err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		return c, "", err
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := c.MappedPort(ctx, "8000")
	if err != nil {
		return c, "", err
	}
	return c, fmt.Sprintf("ws://%s:%s/rpc", host, port.Port()), nil
}

func TestMain(m *testing.M) {
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	ctx := context.Background()

	container, url, err := startSurreal(ctx)
	if err != nil {
		log.Fatalf("surrealdb: %v", err)
	}

	testDB, err = NewClient(ctx, Config{
		URL:       url,
		Namespace: "debate_test",
		Database:  "archive",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil)
	if err != nil {
		_ = container.Terminate(ctx)
		log.Fatalf("connect: %v", err)
	}
	if err := testDB.InitSchema(ctx); err != nil {
		_ = container.Terminate(ctx)
		log.Fatalf("schema: %v", err)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	_ = container.Terminate(ctx)
	os.Exit(code)
}
