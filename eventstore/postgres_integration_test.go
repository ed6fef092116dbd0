//go:build !unit
// +build !unit

package eventstore_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/GabrielCarpr/eventcore/eventstore"
	"github.com/GabrielCarpr/eventcore/eventstore/postgres"
)

func testConfig() postgres.Config {
	c := postgres.Config{
		Host:   "db",
		User:   "eventcore",
		Pass:   "eventcore",
		Name:   "eventcore",
		Outbox: "eventcore.events",
	}
	if host := os.Getenv("DB_HOST"); host != "" {
		c.Host = host
	}
	return c
}

func TestPostgresEventStore(t *testing.T) {
	if os.Getenv("DB_HOST") == "" {
		t.Skip("DB_HOST not set")
	}

	suite.Run(t, &EventStoreBlackboxTest{factory: func(t *testing.T) eventstore.Backend {
		ctx := context.Background()
		b, err := postgres.Open(ctx, testConfig(), postgres.WithOutbox(testConfig().Outbox), postgres.WithPageSize(2))
		if err != nil {
			t.Fatal(err)
		}
		return b
	}, reset: func(b eventstore.Backend) error {
		return b.(*postgres.Backend).Schema().Reset(context.Background())
	}})
}
