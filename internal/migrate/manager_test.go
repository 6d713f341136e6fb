package migrate

import (
	"context"
	"io/fs"
	"regexp"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSplitStatements(t *testing.T) {
	src := `
-- leading comment; with a semicolon
create table a (x text);
insert into a values ('x;y');
create function f() returns trigger as $$
begin
    raise exception 'no; never';
end;
$$ language plpgsql;
select $1, $tag$ a;b $tag$;
-- trailing comment
`
	got := splitStatements(src)
	if len(got) != 4 {
		t.Fatalf("expected 4 statements, got %d: %q", len(got), got)
	}
	if !strings.HasSuffix(got[1], "('x;y');") {
		t.Fatalf("quoted semicolon split: %q", got[1])
	}
	if !strings.Contains(got[2], "raise exception 'no; never';") || !strings.HasSuffix(got[2], "language plpgsql;") {
		t.Fatalf("dollar body split: %q", got[2])
	}
	if got[3] != "select $1, $tag$ a;b $tag$;" {
		t.Fatalf("unexpected tagged statement: %q", got[3])
	}
}

func TestEmbeddedSchema(t *testing.T) {
	up, err := fs.ReadFile(Embedded(), "sql/migrations/0001_init.up.sql")
	if err != nil {
		t.Fatalf("read embedded migration: %v", err)
	}
	stmts := splitStatements(string(up))
	if len(stmts) != 13 {
		t.Fatalf("expected 13 statements, got %d", len(stmts))
	}
	var trigger bool
	for _, s := range stmts {
		if strings.Contains(s, "before update or delete on audit_records") {
			trigger = true
		}
	}
	if !trigger {
		t.Fatal("audit_records immutability trigger missing")
	}
	if _, err := fs.Stat(Embedded(), "sql/migrations/0001_init.down.sql"); err != nil {
		t.Fatalf("down migration missing: %v", err)
	}
}

func expectTables(mock sqlmock.Sqlmock) {
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
}

var testFS = fstest.MapFS{
	"sql/migrations/0001_init.up.sql":   {Data: []byte("create table a (x text);")},
	"sql/migrations/0001_init.down.sql": {Data: []byte("drop table a;")},
	"sql/migrations/0002_more.up.sql":   {Data: []byte("create table b (x text);\ninsert into b values ('x;y');")},
	"sql/seeds/0001_demo.sql":           {Data: []byte("insert into b values ('seed');")},
}

func TestUpAppliesPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_init.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("create table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("insert into b values ('x;y');")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_more.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := NewManager(db, WithFS(testFS)).Up(context.Background())
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if len(applied) != 1 || applied[0] != "0002_more.up.sql" {
		t.Fatalf("unexpected applied set: %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownRollsBackLatest(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations order by applied_at").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_init.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("drop table a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("delete from schema_migrations").
		WithArgs("0001_init.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))

	name, err := NewManager(db, WithFS(testFS)).Down(context.Background())
	if err != nil {
		t.Fatalf("Down: %v", err)
	}
	if name != "0001_init.up.sql" {
		t.Fatalf("unexpected rollback: %s", name)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownMissingFile(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0002_more.up.sql"))

	if _, err := NewManager(db, WithFS(testFS)).Down(context.Background()); err == nil || !strings.Contains(err.Error(), "missing down migration") {
		t.Fatalf("expected missing down migration error, got %v", err)
	}
}

func TestSeedSkipsApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectTables(mock)
	mock.ExpectQuery("select name from schema_seeds").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_demo.sql"))

	applied, err := NewManager(db, WithFS(testFS)).Seed(context.Background())
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("expected nothing applied, got %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
