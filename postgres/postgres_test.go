package postgres_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/paraglidehq/snowflake"
	"github.com/paraglidehq/snowflake/postgres"
)

func setupPostgres(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		tcpostgres.BasicWaitStrategies(),
		testcontainers.CustomizeRequestOption(func(req *testcontainers.GenericContainerRequest) error {
			req.ContainerRequest.WaitingFor = wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30 * time.Second)
			return nil
		}),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	cleanup := func() {
		db.Close()
		container.Terminate(ctx)
	}

	return db, cleanup
}

func TestPostgres(t *testing.T) {
	db, cleanup := setupPostgres(t)
	defer cleanup()

	ctx := context.Background()
	if err := postgres.Migrate(ctx, db, snowflake.DefaultEpoch); err != nil {
		t.Fatalf("first migration failed: %v", err)
	}

	gen, err := snowflake.NewGenerator(613, snowflake.DefaultEpoch)
	if err != nil {
		t.Fatal(err)
	}
	id, err := gen.Generate()
	if err != nil {
		t.Fatal(err)
	}

	t.Run("Idempotent", func(t *testing.T) {
		if err := postgres.Migrate(ctx, db, snowflake.DefaultEpoch); err != nil {
			t.Fatalf("second migration failed: %v", err)
		}
		epoch, err := postgres.Epoch(ctx, db)
		if err != nil {
			t.Fatalf("Epoch failed: %v", err)
		}
		if epoch != snowflake.DefaultEpoch {
			t.Errorf("stored epoch %d != %d", epoch, snowflake.DefaultEpoch)
		}
	})

	t.Run("EpochMismatch", func(t *testing.T) {
		err := postgres.Migrate(ctx, db, 1288834974657)
		if !errors.Is(err, postgres.ErrConfigMismatch) {
			t.Errorf("expected ErrConfigMismatch, got: %v", err)
		}
	})

	t.Run("Fields", func(t *testing.T) {
		var (
			ts       time.Time
			worker   int
			sequence int
		)
		err := db.QueryRowContext(ctx,
			"SELECT snowflake_time($1), snowflake_worker($1), snowflake_sequence($1)", id.Int64()).
			Scan(&ts, &worker, &sequence)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if !ts.Equal(id.Time()) {
			t.Errorf("snowflake_time = %v, want %v", ts, id.Time())
		}
		if worker != int(id.WorkerID()) {
			t.Errorf("snowflake_worker = %d, want %d", worker, id.WorkerID())
		}
		if sequence != int(id.Sequence()) {
			t.Errorf("snowflake_sequence = %d, want %d", sequence, id.Sequence())
		}
	})

	t.Run("At", func(t *testing.T) {
		var lower int64
		if err := db.QueryRowContext(ctx, "SELECT snowflake_at($1)", id.Time()).Scan(&lower); err != nil {
			t.Fatalf("snowflake_at failed: %v", err)
		}
		if lower != id.Offset()<<snowflake.TimeShift {
			t.Errorf("snowflake_at = %d, want %d", lower, id.Offset()<<snowflake.TimeShift)
		}
	})

	t.Run("Nil", func(t *testing.T) {
		var isNil bool
		if err := db.QueryRowContext(ctx, "SELECT is_nil_snowflake(nil_snowflake())").Scan(&isNil); err != nil {
			t.Fatalf("is_nil_snowflake failed: %v", err)
		}
		if !isNil {
			t.Error("is_nil_snowflake(nil_snowflake()) = false, want true")
		}
	})

	tests := []struct {
		name   string
		format snowflake.Format
		encode string
		decode string
	}{
		{"Base58", snowflake.FormatBase58, "snowflake_to_b58", "b58_to_snowflake"},
		{"Hex", snowflake.FormatHex, "snowflake_to_hex", "hex_to_snowflake"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var encoded string
			if err := db.QueryRowContext(ctx, "SELECT "+tt.encode+"($1)", id.Int64()).Scan(&encoded); err != nil {
				t.Fatalf("%s failed: %v", tt.encode, err)
			}
			if want := id.Format(tt.format); encoded != want {
				t.Errorf("%s = %q, Go encodes %q", tt.encode, encoded, want)
			}

			var decoded int64
			if err := db.QueryRowContext(ctx, "SELECT "+tt.decode+"($1)", encoded).Scan(&decoded); err != nil {
				t.Fatalf("%s failed: %v", tt.decode, err)
			}
			if decoded != id.Int64() {
				t.Errorf("roundtrip failed: got %d, want %d", decoded, id.Int64())
			}
		})
	}
}
