//go:build integration

package database

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dmeworks/schemashift/internal/config"
	"github.com/dmeworks/schemashift/internal/ddl"
	"github.com/dmeworks/schemashift/internal/schema"
)

func startPostgres(ctx context.Context, t *testing.T) *Postgres {
	t.Helper()
	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("dmeworks"),
		postgres.WithUsername("migrator"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("starting container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatal(err)
	}
	p, _ := strconv.Atoi(port.Port())

	db := NewPostgres(config.DatabaseConfig{
		Host: host, Port: p, Database: "dmeworks", Username: "migrator", Password: "testpass", MaxConnections: 4,
	}, nil)
	if err := db.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(db.Close)
	return db
}

func TestPostgres_InspectRenameDrop(t *testing.T) {
	ctx := context.Background()
	db := startPostgres(ctx, t)

	setup := []string{
		`CREATE SCHEMA dmeworks`,
		`CREATE TABLE dmeworks.tbl_doctortype (id int PRIMARY KEY, name text)`,
		`CREATE TABLE dmeworks.tbl_doctor (id int PRIMARY KEY, type_id int NOT NULL REFERENCES dmeworks.tbl_doctortype(id))`,
		`INSERT INTO dmeworks.tbl_doctortype VALUES (1, 'GP'), (2, 'Surgeon')`,
		`CREATE VIEW dmeworks.doctors AS SELECT * FROM dmeworks.tbl_doctor`,
	}
	if err := db.ExecInTx(ctx, setup); err != nil {
		t.Fatalf("setup: %v", err)
	}

	cat, err := db.Inspect(ctx)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if got := cat.Occupant("dmeworks", "doctors"); got != schema.KindView {
		t.Errorf("Occupant(doctors) = %q, want view", got)
	}
	if got := cat.Occupant("dmeworks", "tbl_doctor_pkey"); got != schema.KindIndex {
		t.Errorf("Occupant(tbl_doctor_pkey) = %q, want index", got)
	}
	doc := cat.Lookup("dmeworks", "tbl_doctor")
	if doc == nil || doc.PrimaryKey == nil || len(doc.ForeignKeys) != 1 {
		t.Fatalf("tbl_doctor = %+v", doc)
	}
	if doc.ForeignKeys[0].ReferencedTable != "tbl_doctortype" || doc.ForeignKeys[0].ReferencedSchema != "" {
		t.Errorf("foreign key = %+v", doc.ForeignKeys[0])
	}
	if doc.Column("type_id").Nullable {
		t.Error("type_id should be NOT NULL")
	}

	if err := db.Rename(ctx, ddl.RenameCommand{Schema: "dmeworks", From: "tbl_doctortype", To: "doctortypes"}); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if n, err := db.RowCount(ctx, "dmeworks", "doctortypes"); err != nil || n != 2 {
		t.Errorf("RowCount = %d, %v", n, err)
	}

	names, err := db.Constraints(ctx, "dmeworks", "tbl_doctor")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "tbl_doctor_type_id_fkey" {
		t.Errorf("constraints = %v", names)
	}

	err = db.Rename(ctx, ddl.RenameCommand{Schema: "dmeworks", From: "tbl_doctor", To: "doctortypes"})
	if err == nil {
		t.Fatal("expected collision error")
	}
	if ok, _ := db.TableExists(ctx, "dmeworks", "tbl_doctor"); !ok {
		t.Error("failed rename must leave the table in place")
	}
}
