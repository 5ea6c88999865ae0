package database

import (
	"path/filepath"
	"testing"
)

func TestConvertPlaceholders(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		dialect Dialect
		want    string
	}{
		{
			name:    "sqlite passthrough",
			query:   "SELECT * FROM token_usage WHERE user_id = ? AND window_key = ?",
			dialect: DialectSQLite,
			want:    "SELECT * FROM token_usage WHERE user_id = ? AND window_key = ?",
		},
		{
			name:    "postgres numbering",
			query:   "INSERT INTO usage_commits VALUES (?, ?, ?)",
			dialect: DialectPostgreSQL,
			want:    "INSERT INTO usage_commits VALUES ($1, $2, $3)",
		},
		{
			name:    "no placeholders",
			query:   "DELETE FROM token_reservations",
			dialect: DialectPostgreSQL,
			want:    "DELETE FROM token_reservations",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConvertPlaceholders(tt.query, tt.dialect); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("DATABASE_TYPE", "")
	t.Setenv("DATABASE_URL", "")

	cfg := ConfigFromEnv()
	if cfg.Type != DialectSQLite {
		t.Errorf("default type = %s, want sqlite", cfg.Type)
	}
	if cfg.URL != ".config/chat-relay.db" {
		t.Errorf("default url = %s", cfg.URL)
	}
}

func TestSQLiteSchemaAndUpsert(t *testing.T) {
	db, err := NewSQLite(Config{
		Type: DialectSQLite,
		URL:  filepath.Join(t.TempDir(), "database_test.db"),
	})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer db.Close()

	if err := InitSchema(db); err != nil {
		t.Fatalf("schema init failed: %v", err)
	}
	// Re-running the schema must be harmless.
	if err := InitSchema(db); err != nil {
		t.Fatalf("schema re-init failed: %v", err)
	}

	upsert := `
		INSERT INTO token_usage (user_id, window_key, input_tokens, output_tokens, window_start, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, window_key) DO UPDATE SET
			input_tokens  = token_usage.input_tokens + excluded.input_tokens,
			output_tokens = token_usage.output_tokens + excluded.output_tokens`
	for i := 0; i < 3; i++ {
		if _, err := db.Exec(upsert, "alice", "hourly:123", 10, 20, 123, 9999999999); err != nil {
			t.Fatalf("upsert %d failed: %v", i, err)
		}
	}

	var in, out int64
	err = db.QueryRow(`SELECT input_tokens, output_tokens FROM token_usage WHERE user_id = ? AND window_key = ?`,
		"alice", "hourly:123").Scan(&in, &out)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if in != 30 || out != 60 {
		t.Errorf("accumulated = %d/%d, want 30/60", in, out)
	}
}

func TestTransactionRollsBackOnError(t *testing.T) {
	db, err := NewSQLite(Config{
		Type: DialectSQLite,
		URL:  filepath.Join(t.TempDir(), "tx_test.db"),
	})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer db.Close()
	if err := InitSchema(db); err != nil {
		t.Fatalf("schema init failed: %v", err)
	}

	wantErr := Transaction(db, func(tx *Tx) error {
		if _, err := tx.Exec(`INSERT INTO usage_commits (request_id, user_id, input_tokens, output_tokens, committed_at)
			VALUES (?, ?, ?, ?, ?)`, "req-1", "bob", 1, 2, 3); err != nil {
			return err
		}
		return errTestRollback
	})
	if wantErr != errTestRollback {
		t.Fatalf("transaction returned %v", wantErr)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM usage_commits`).Scan(&n); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 0 {
		t.Errorf("rolled-back insert persisted (%d rows)", n)
	}
}

var errTestRollback = &testError{"rollback please"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
