// dbtool inspects and maintains the relay database: usage and cache stats
// plus expired-row purging. Dry-run by default.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/JillVernus/chat-relay/internal/database"
)

func main() {
	log.SetFlags(0)

	dbPath := flag.String("db", ".config/chat-relay.db", "path to the SQLite database")
	apply := flag.Bool("apply", false, "apply changes (default: dry-run)")
	flag.Parse()

	db, err := database.NewSQLite(database.Config{Type: database.DialectSQLite, URL: *dbPath})
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	now := time.Now().Unix()

	expirable := []string{"token_usage", "token_reservations", "response_cache"}
	for _, table := range expirable {
		var total, expired int64
		if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&total); err != nil {
			log.Fatalf("count %s: %v", table, err)
		}
		if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE expires_at <= ?", table), now).Scan(&expired); err != nil {
			log.Fatalf("count expired %s: %v", table, err)
		}
		log.Printf("%-20s total=%-8d expired=%d", table, total, expired)

		if *apply && expired > 0 {
			res, err := db.Exec(fmt.Sprintf("DELETE FROM %s WHERE expires_at <= ?", table), now)
			if err != nil {
				log.Fatalf("purge %s: %v", table, err)
			}
			n, _ := res.RowsAffected()
			log.Printf("%-20s purged %d rows", table, n)
		}
	}

	var commits, records int64
	db.QueryRow("SELECT COUNT(*) FROM usage_commits").Scan(&commits)
	db.QueryRow("SELECT COUNT(*) FROM completion_records").Scan(&records)
	log.Printf("%-20s total=%d", "usage_commits", commits)
	log.Printf("%-20s total=%d", "completion_records", records)

	if !*apply {
		log.Printf("dry-run complete (use --apply to purge expired rows)")
	}
}
