package postgres

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/waa2l/queue2/internal/models"
	"github.com/waa2l/queue2/internal/store"
)

func TestMigrationURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"postgres://u:p@db:5432/queue?sslmode=disable", "pgx5://u:p@db:5432/queue?sslmode=disable"},
		{"postgresql://db/queue", "pgx5://db/queue"},
		{"pgx5://db/queue", "pgx5://db/queue"},
	}
	for _, tc := range cases {
		if got := migrationURL(tc.in); got != tc.want {
			t.Fatalf("migrationURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMigrationsArePaired(t *testing.T) {
	files, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	ups, downs := 0, 0
	for _, name := range files {
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups++
			if _, err := fs.Stat(migrationFiles, strings.TrimSuffix(name, ".up.sql")+".down.sql"); err != nil {
				t.Fatalf("%s has no down migration", name)
			}
		case strings.HasSuffix(name, ".down.sql"):
			downs++
		}
	}
	if ups == 0 || ups != downs {
		t.Fatalf("expected paired migrations, got %d up and %d down", ups, downs)
	}
}

func clinicVersion(id string, rev int64) versioned {
	clinic := models.Clinic{ClinicID: id}
	return versioned{revision: rev, change: store.Change{Kind: store.KindClinic, ID: id, Clinic: &clinic}}
}

func TestDiffEmitsChangedAndDeleted(t *testing.T) {
	sent := make(map[string]int64)

	first := diff(store.KindClinic, map[string]versioned{
		"c2": clinicVersion("c2", 2),
		"c1": clinicVersion("c1", 1),
	}, sent)
	if len(first) != 2 || first[0].ID != "c1" || first[1].ID != "c2" {
		t.Fatalf("expected replay of c1 then c2, got %+v", first)
	}

	if again := diff(store.KindClinic, map[string]versioned{
		"c1": clinicVersion("c1", 1),
		"c2": clinicVersion("c2", 2),
	}, sent); len(again) != 0 {
		t.Fatalf("expected no changes for unchanged revisions, got %+v", again)
	}

	next := diff(store.KindClinic, map[string]versioned{
		"c1": clinicVersion("c1", 7),
	}, sent)
	if len(next) != 2 {
		t.Fatalf("expected update and delete, got %+v", next)
	}
	if next[0].ID != "c1" || next[0].Deleted {
		t.Fatalf("expected c1 update first, got %+v", next[0])
	}
	if next[1].ID != "c2" || !next[1].Deleted {
		t.Fatalf("expected c2 deletion, got %+v", next[1])
	}
	if _, ok := sent["c2"]; ok {
		t.Fatalf("deleted entity should be forgotten")
	}
}

func TestWeekdayRoundTrip(t *testing.T) {
	days := weekdays(dayNumbers(nil))
	if days != nil {
		t.Fatalf("expected nil for empty schedule, got %v", days)
	}
	in := []int16{0, 3, 6}
	out := dayNumbers(weekdays(in))
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("day %d: got %d want %d", i, out[i], in[i])
		}
	}
}
