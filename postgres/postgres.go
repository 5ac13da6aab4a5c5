// Package postgres installs SQL functions that decode snowflake IDs inside
// Postgres, so queries can filter and display IDs without a round trip
// through Go.
//
// The functions read the fixed 41/10/12 layout and the epoch recorded by
// Migrate. A database serves one epoch; Migrate refuses to change it.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/paraglidehq/snowflake"
)

var ErrConfigMismatch = errors.New("snowflake: database epoch does not match application epoch")

// Migrate records epoch and (re)creates the helper functions. It is
// idempotent for the same epoch and returns ErrConfigMismatch for another.
func Migrate(ctx context.Context, db *sql.DB, epoch int64) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS _snowflake_config (
			id int PRIMARY KEY DEFAULT 1 CHECK (id = 1),
			epoch bigint NOT NULL,
			worker_bits int NOT NULL,
			sequence_bits int NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("snowflake: create config table: %w", err)
	}

	stored, err := Epoch(ctx, db)
	switch {
	case err == nil:
		if stored != epoch {
			return fmt.Errorf("%w: db has epoch=%d, app has epoch=%d", ErrConfigMismatch, stored, epoch)
		}
	case errors.Is(err, sql.ErrNoRows):
		_, err = db.ExecContext(ctx,
			`INSERT INTO _snowflake_config (epoch, worker_bits, sequence_bits) VALUES ($1, $2, $3)`,
			epoch, snowflake.WorkerBits, snowflake.SequenceBits)
		if err != nil {
			return fmt.Errorf("snowflake: insert config: %w", err)
		}
	default:
		return fmt.Errorf("snowflake: read config: %w", err)
	}

	if _, err := db.ExecContext(ctx, functionsSQL(epoch)); err != nil {
		return fmt.Errorf("snowflake: create functions: %w", err)
	}
	return nil
}

// Epoch reads the epoch recorded by Migrate.
func Epoch(ctx context.Context, db *sql.DB) (int64, error) {
	var epoch int64
	err := db.QueryRowContext(ctx, `SELECT epoch FROM _snowflake_config`).Scan(&epoch)
	return epoch, err
}

func functionsSQL(epoch int64) string {
	return fmt.Sprintf(`
CREATE OR REPLACE FUNCTION nil_snowflake() RETURNS bigint LANGUAGE sql IMMUTABLE AS $$ SELECT 0::bigint; $$;
CREATE OR REPLACE FUNCTION is_nil_snowflake(id bigint) RETURNS boolean LANGUAGE sql IMMUTABLE AS $$ SELECT id = 0; $$;

CREATE OR REPLACE FUNCTION snowflake_time(id bigint)
  RETURNS timestamptz
  LANGUAGE sql
  IMMUTABLE PARALLEL SAFE STRICT LEAKPROOF
  AS $$
  SELECT to_timestamp(((id >> %[2]d) + %[1]d)::numeric / 1000);
$$;

CREATE OR REPLACE FUNCTION snowflake_worker(id bigint)
  RETURNS int
  LANGUAGE sql
  IMMUTABLE PARALLEL SAFE STRICT LEAKPROOF
  AS $$
  SELECT ((id >> %[3]d) & %[4]d)::int;
$$;

CREATE OR REPLACE FUNCTION snowflake_sequence(id bigint)
  RETURNS int
  LANGUAGE sql
  IMMUTABLE PARALLEL SAFE STRICT LEAKPROOF
  AS $$
  SELECT (id & %[5]d)::int;
$$;

-- lowest possible ID at a given time, for range scans on ID columns
CREATE OR REPLACE FUNCTION snowflake_at(ts timestamptz)
  RETURNS bigint
  LANGUAGE sql
  IMMUTABLE PARALLEL SAFE STRICT LEAKPROOF
  AS $$
  SELECT (((extract(epoch FROM ts) * 1000)::bigint - %[1]d) << %[2]d);
$$;

CREATE OR REPLACE FUNCTION b58_to_snowflake(encoded_id varchar(11))
  RETURNS bigint
  LANGUAGE plpgsql
  IMMUTABLE PARALLEL SAFE STRICT LEAKPROOF
  AS $$
DECLARE
  alphabet char(58) := '123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz';
  c char(1);
  p int;
  result bigint := 0;
BEGIN
  FOR i IN 1..char_length(encoded_id) LOOP
    c := substring(encoded_id FROM i FOR 1);
    p := strpos(alphabet, c);
    IF p = 0 THEN
      RAISE EXCEPTION 'invalid base58 character: %%', c;
    END IF;
    result := (result * 58) + (p - 1);
  END LOOP;
  RETURN result;
END;
$$;

CREATE OR REPLACE FUNCTION snowflake_to_b58(id bigint)
  RETURNS varchar(11)
  LANGUAGE plpgsql
  IMMUTABLE PARALLEL SAFE STRICT LEAKPROOF
  AS $$
DECLARE
  alphabet char(58) := '123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz';
  result varchar(11) := '';
BEGIN
  IF id = 0 THEN
    RETURN '1';
  END IF;
  WHILE id > 0 LOOP
    result := substring(alphabet FROM (id %% 58)::int + 1 FOR 1) || result;
    id := id / 58;
  END LOOP;
  RETURN result;
END;
$$;

CREATE OR REPLACE FUNCTION hex_to_snowflake(encoded_id text)
  RETURNS bigint
  LANGUAGE sql
  IMMUTABLE PARALLEL SAFE STRICT LEAKPROOF
  AS $$
  SELECT ('x' || lpad(encoded_id, 16, '0'))::bit(64)::bigint;
$$;

CREATE OR REPLACE FUNCTION snowflake_to_hex(id bigint)
  RETURNS text
  LANGUAGE sql
  IMMUTABLE PARALLEL SAFE STRICT LEAKPROOF
  AS $$
  SELECT to_hex(id);
$$;
`,
		epoch,                 // 1
		snowflake.TimeShift,   // 2
		snowflake.WorkerShift, // 3
		snowflake.MaxWorkerID, // 4
		snowflake.MaxSequence, // 5
	)
}
