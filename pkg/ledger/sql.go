package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/crystal-mush/mushcore/pkg/gamedb"
)

const schema = `
CREATE TABLE IF NOT EXISTS balances (
	owner   INTEGER PRIMARY KEY,
	pennies INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS journal (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	owner  INTEGER NOT NULL,
	delta  INTEGER NOT NULL,
	reason TEXT NOT NULL,
	at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS journal_owner ON journal(owner);
`

// Entry is one journal row.
type Entry struct {
	ID     int64
	Owner  gamedb.DBRef
	Delta  int
	Reason string
	At     time.Time
}

// SQL is an Economy backed by SQLite. Owners seen for the first time
// start with StartingMoney.
type SQL struct {
	db            *sql.DB
	mu            sync.Mutex
	path          string
	StartingMoney int
	timeout       time.Duration
	log           *zap.Logger
	now           func() time.Time
}

// OpenSQL opens (or creates) a ledger database, sets WAL mode and a busy
// timeout, and applies the schema.
func OpenSQL(path string, startingMoney int, log *zap.Logger) (*SQL, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", schema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("initializing ledger %s: %w", path, err)
		}
	}
	return &SQL{
		db:            db,
		path:          path,
		StartingMoney: startingMoney,
		timeout:       5 * time.Second,
		log:           log,
		now:           time.Now,
	}, nil
}

// Close closes the database.
func (s *SQL) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Path returns the database file path.
func (s *SQL) Path() string { return s.path }

func (s *SQL) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

// adjust applies delta to owner inside one transaction. A negative delta
// that would overdraw the balance is refused.
func (s *SQL) adjust(owner gamedb.DBRef, delta int, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return false, errors.New("ledger closed")
	}

	ctx, cancel := s.ctx()
	defer cancel()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO balances(owner, pennies) VALUES(?, ?)`,
		int(owner), s.StartingMoney); err != nil {
		return false, fmt.Errorf("seed #%d: %w", owner, err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE balances SET pennies = pennies + ? WHERE owner = ? AND pennies + ? >= 0`,
		delta, int(owner), delta)
	if err != nil {
		return false, fmt.Errorf("update #%d: %w", owner, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO journal(owner, delta, reason, at) VALUES(?, ?, ?, ?)`,
		int(owner), delta, reason, s.now().Unix()); err != nil {
		return false, fmt.Errorf("journal #%d: %w", owner, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// Charge takes amount from owner if it can pay.
func (s *SQL) Charge(owner gamedb.DBRef, amount int) bool {
	if amount <= 0 {
		return true
	}
	ok, err := s.adjust(owner, -amount, "queue")
	if err != nil {
		s.log.Error("ledger: charge failed", zap.Int("owner", int(owner)), zap.Error(err))
		return false
	}
	return ok
}

// Refund gives amount back to owner.
func (s *SQL) Refund(owner gamedb.DBRef, amount int) {
	if amount <= 0 {
		return
	}
	if _, err := s.adjust(owner, amount, "refund"); err != nil {
		s.log.Error("ledger: refund failed", zap.Int("owner", int(owner)), zap.Error(err))
	}
}

// Balance returns owner's balance; unknown owners report StartingMoney.
func (s *SQL) Balance(owner gamedb.DBRef) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return 0, errors.New("ledger closed")
	}
	ctx, cancel := s.ctx()
	defer cancel()
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT pennies FROM balances WHERE owner = ?`, int(owner)).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return s.StartingMoney, nil
	}
	if err != nil {
		return 0, fmt.Errorf("balance #%d: %w", owner, err)
	}
	return n, nil
}

// Journal returns the newest limit rows for owner, newest first.
func (s *SQL) Journal(owner gamedb.DBRef, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, errors.New("ledger closed")
	}
	ctx, cancel := s.ctx()
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner, delta, reason, at FROM journal WHERE owner = ? ORDER BY id DESC LIMIT ?`,
		int(owner), limit)
	if err != nil {
		return nil, fmt.Errorf("journal #%d: %w", owner, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ref int
		var at int64
		if err := rows.Scan(&e.ID, &ref, &e.Delta, &e.Reason, &at); err != nil {
			return nil, err
		}
		e.Owner = gamedb.DBRef(ref)
		e.At = time.Unix(at, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}
