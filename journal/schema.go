package journal

// schema is written with SQLite types; postgresSchema swaps in the Postgres
// equivalents.
const schema = `
CREATE TABLE IF NOT EXISTS records (
	id TEXT PRIMARY KEY,
	time DATETIME NOT NULL,
	strategy TEXT NOT NULL,
	instrument TEXT NOT NULL,
	action TEXT NOT NULL,
	direction TEXT NOT NULL,
	price REAL NOT NULL,
	volume REAL NOT NULL,
	outcome TEXT NOT NULL,
	ticket TEXT NOT NULL,
	realized_pnl REAL NOT NULL,
	reason TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_pair_time ON records(strategy, instrument, time);

CREATE TABLE IF NOT EXISTS equity (
	time DATETIME NOT NULL,
	balance REAL NOT NULL,
	equity REAL NOT NULL,
	margin_used REAL NOT NULL,
	free_margin REAL NOT NULL,
	margin_level REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_equity_time ON equity(time);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS records (
	id TEXT PRIMARY KEY,
	time TIMESTAMPTZ NOT NULL,
	strategy TEXT NOT NULL,
	instrument TEXT NOT NULL,
	action TEXT NOT NULL,
	direction TEXT NOT NULL,
	price DOUBLE PRECISION NOT NULL,
	volume DOUBLE PRECISION NOT NULL,
	outcome TEXT NOT NULL,
	ticket TEXT NOT NULL,
	realized_pnl DOUBLE PRECISION NOT NULL,
	reason TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_pair_time ON records(strategy, instrument, time);

CREATE TABLE IF NOT EXISTS equity (
	time TIMESTAMPTZ NOT NULL,
	balance DOUBLE PRECISION NOT NULL,
	equity DOUBLE PRECISION NOT NULL,
	margin_used DOUBLE PRECISION NOT NULL,
	free_margin DOUBLE PRECISION NOT NULL,
	margin_level DOUBLE PRECISION NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_equity_time ON equity(time);
`
