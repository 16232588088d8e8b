//go:build integration

package dedup

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Sternrassler/vacancy-ingest/pkg/vacancy"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestRedisSet_Integration_SharedAcrossInstances(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	run := vacancy.NewRun()

	// two processes ingesting the same run see one working set
	first := NewRedisSet(client, run, time.Minute)
	second := NewRedisSet(client, run, time.Minute)

	if _, err := first.Add(ctx, refs("a", "b")...); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	added, err := second.Add(ctx, refs("b", "c")...)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if added != 1 {
		t.Errorf("second Add() = %d, want 1", added)
	}

	members, err := first.Members(ctx)
	if err != nil {
		t.Fatalf("Members() error = %v", err)
	}
	if len(members) != 3 {
		t.Errorf("len(Members()) = %d, want 3", len(members))
	}
}

func TestRedisSet_Integration_LargeBatch(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	s := NewRedisSet(client, vacancy.NewRun(), time.Minute)

	batch := make([]vacancy.Reference, 0, 1200)
	for i := 0; i < 1200; i++ {
		batch = append(batch, vacancy.Reference(fmt.Sprintf("https://api.hh.ru/vacancies/%d", i)))
	}

	added, err := s.Add(ctx, batch...)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if added != 1200 {
		t.Errorf("Add() = %d, want 1200", added)
	}
}
