package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestDSN(t *testing.T) {
	cfg := DatabaseConfig{Host: "db", Port: 5433, User: "bot", Password: "secret", DBName: "bizchat", SSLMode: "require"}
	assert.Equal(t, "host=db port=5433 user=bot password=secret dbname=bizchat sslmode=require", cfg.DSN())
}

func TestMapPQError(t *testing.T) {
	overlap := &pq.Error{Code: pqExclusionViolation}
	assert.ErrorIs(t, mapPQError(overlap), ErrOverlap)
	assert.ErrorIs(t, mapPQError(fmt.Errorf("commit: %w", overlap)), ErrOverlap)

	unique := &pq.Error{Code: "23505"}
	assert.Same(t, unique, mapPQError(unique))

	plain := errors.New("boom")
	assert.Equal(t, plain, mapPQError(plain))
}

func TestMigrationsEmbedded(t *testing.T) {
	schema, err := migrations.ReadFile("migrations.sql")
	assert.NoError(t, err)
	assert.Contains(t, string(schema), "calendar_events_no_overlap")
}
