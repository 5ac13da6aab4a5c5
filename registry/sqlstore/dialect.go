package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect holds the statements that differ between databases.
type Dialect struct {
	Name string

	createNode string
	createEnv  string
	upsertEnv  string
	seedNodes  string // %s receives the VALUES list
	numbered   bool   // $1, $2 ... instead of ?
}

// Postgres works with github.com/lib/pq.
var Postgres = Dialect{
	Name: "postgres",
	createNode: `CREATE TABLE IF NOT EXISTS worker_node (
		worker_id  int PRIMARY KEY,
		is_online  boolean NOT NULL,
		content    varchar(128),
		token      varchar(64) NOT NULL DEFAULT '',
		updated_at timestamptz NOT NULL
	)`,
	createEnv: `CREATE TABLE IF NOT EXISTS worker_env (
		id         int PRIMARY KEY,
		is_busy    boolean NOT NULL,
		begin_time timestamptz
	)`,
	upsertEnv: `INSERT INTO worker_env (id, is_busy, begin_time) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET is_busy = EXCLUDED.is_busy, begin_time = EXCLUDED.begin_time`,
	seedNodes: `INSERT INTO worker_node (worker_id, is_online, token, updated_at) VALUES %s
		ON CONFLICT (worker_id) DO NOTHING`,
	numbered: true,
}

// MySQL works with github.com/go-sql-driver/mysql. The DSN must set
// parseTime=true.
var MySQL = Dialect{
	Name: "mysql",
	createNode: `CREATE TABLE IF NOT EXISTS worker_node (
		worker_id  INT NOT NULL PRIMARY KEY,
		is_online  BOOL NOT NULL,
		content    VARCHAR(128),
		token      VARCHAR(64) NOT NULL DEFAULT '',
		updated_at DATETIME(3) NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	createEnv: `CREATE TABLE IF NOT EXISTS worker_env (
		id         INT NOT NULL PRIMARY KEY,
		is_busy    BOOL NOT NULL,
		begin_time DATETIME(3)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	upsertEnv: `INSERT INTO worker_env (id, is_busy, begin_time) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE is_busy = VALUES(is_busy), begin_time = VALUES(begin_time)`,
	seedNodes: `INSERT IGNORE INTO worker_node (worker_id, is_online, token, updated_at) VALUES %s`,
}

// DialectFor returns the dialect for a database/sql driver name.
func DialectFor(driver string) (Dialect, bool) {
	switch driver {
	case "postgres", "pgx":
		return Postgres, true
	case "mysql":
		return MySQL, true
	}
	return Dialect{}, false
}

// rebind rewrites ? placeholders for dialects that number them.
func (d Dialect) rebind(q string) string {
	if !d.numbered {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}
