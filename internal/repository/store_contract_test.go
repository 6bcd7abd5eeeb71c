package repository

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/rpattn/labframe/internal/db"
	"github.com/rpattn/labframe/internal/domain"
)

type store interface {
	SampleRepository
	DefinitionRepository
}

func newSQLiteStore(t *testing.T) store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "labframe.sqlite")
	conn, err := db.OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if err := db.RunMigrations(db.DialectSQLite, db.SQLiteURL(path), zap.NewNop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// A second run must be a no-op.
	if err := db.RunMigrations(db.DialectSQLite, db.SQLiteURL(path), zap.NewNop()); err != nil {
		t.Fatalf("re-run migrations: %v", err)
	}
	return NewSQLiteStore(conn)
}

// postgresURLEnv names a postgres:// URL for a disposable database. The
// postgres runs are skipped when it is unset; every run truncates all tables.
const postgresURLEnv = "LABFRAME_TEST_POSTGRES_URL"

type postgresStore struct {
	SampleRepository
	DefinitionRepository
	ImportLogRepository
}

func newPostgresStore(t *testing.T) *postgresStore {
	t.Helper()
	dsn := os.Getenv(postgresURLEnv)
	if dsn == "" {
		t.Skipf("%s not set", postgresURLEnv)
	}

	migrationURL, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("parse %s: %v", postgresURLEnv, err)
	}
	migrationURL.Scheme = "pgx5"
	if err := db.RunMigrations(db.DialectPostgres, migrationURL.String(), zap.NewNop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `TRUNCATE import_logs, parameter_value_history, sample_parameter_values,
		parameter_definitions, samples RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}

	logger := zap.NewNop()
	return &postgresStore{
		SampleRepository:     NewSampleRepository(pool, logger),
		DefinitionRepository: NewDefinitionRepository(pool, logger),
		ImportLogRepository:  NewImportLogRepository(pool),
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteStore(t)) })
	t.Run("postgres", func(t *testing.T) { fn(t, newPostgresStore(t)) })
}

func mustCreate(t *testing.T, s store, author *string) domain.Sample {
	t.Helper()
	sample, err := s.CreateSample(context.Background(), domain.NewSample{
		PreparedOn: time.Date(2024, 2, 28, 13, 45, 0, 0, time.UTC),
		AuthorName: author,
	})
	if err != nil {
		t.Fatalf("create sample: %v", err)
	}
	return sample
}

func write(name string, value domain.ParameterValue, at time.Time) domain.ParameterWrite {
	return domain.ParameterWrite{ParameterName: name, Value: value, RecordedAt: at}
}

func TestStoreSamples(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store) {
		ctx := context.Background()
		author := "Ada"
		first := mustCreate(t, s, &author)
		second := mustCreate(t, s, nil)

		if first.ID == second.ID || first.Version != 1 || first.Deleted {
			t.Fatalf("unexpected samples: %+v %+v", first, second)
		}
		if got := first.PreparedOn.Format(domain.DateLayout); got != "2024-02-28" {
			t.Fatalf("prepared_on not truncated to a date: %s", got)
		}

		loaded, err := s.GetSample(ctx, first.ID, false)
		if err != nil {
			t.Fatalf("get sample: %v", err)
		}
		if loaded.AuthorName == nil || *loaded.AuthorName != "Ada" {
			t.Fatalf("unexpected author: %v", loaded.AuthorName)
		}
		if _, err := s.GetSample(ctx, 999, true); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		deleted, err := s.SoftDeleteSample(ctx, second.ID)
		if err != nil {
			t.Fatalf("soft delete: %v", err)
		}
		if !deleted.Deleted || deleted.Version != 2 {
			t.Fatalf("unexpected deleted sample: %+v", deleted)
		}
		again, err := s.SoftDeleteSample(ctx, second.ID)
		if err != nil || again.Version != 2 {
			t.Fatalf("repeated delete must be a no-op: %+v %v", again, err)
		}
		if _, err := s.SoftDeleteSample(ctx, 999); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		if _, err := s.GetSample(ctx, second.ID, false); !errors.Is(err, ErrNotFound) {
			t.Fatalf("deleted sample must be hidden, got %v", err)
		}
		active, err := s.ListSamples(ctx, false)
		if err != nil || len(active) != 1 || active[0].ID != first.ID {
			t.Fatalf("unexpected active samples: %+v %v", active, err)
		}
		all, err := s.ListSamples(ctx, true)
		if err != nil || len(all) != 2 || all[0].ID > all[1].ID {
			t.Fatalf("unexpected samples: %+v %v", all, err)
		}
	})
}

func TestStoreUpsertParameterValues(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store) {
		ctx := context.Background()
		sample := mustCreate(t, s, nil)
		base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

		updated, err := s.UpsertParameterValues(ctx, sample.ID, []domain.ParameterWrite{
			write("ph", domain.NumericValue(7.2), base),
			write("stage", domain.EnumValue("prepared"), base),
			write("collected_on", domain.DateValue(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)), base),
		})
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}
		if updated.Version != sample.Version+1 {
			t.Fatalf("expected version bump, got %d", updated.Version)
		}

		if err := s.UpsertParameterValue(ctx, sample.ID, write("ph", domain.NumericValue(7.4), base.Add(time.Minute))); err != nil {
			t.Fatalf("upsert single: %v", err)
		}

		current, err := s.ListCurrentValues(ctx, sample.ID)
		if err != nil {
			t.Fatalf("list current: %v", err)
		}
		if len(current) != 3 {
			t.Fatalf("expected 3 current values, got %d", len(current))
		}
		if !current["ph"].Value.Equal(domain.NumericValue(7.4)) {
			t.Fatalf("expected overwritten ph, got %v", current["ph"].Value)
		}
		if !current["ph"].RecordedAt.Equal(base.Add(time.Minute)) {
			t.Fatalf("unexpected recorded_at %v", current["ph"].RecordedAt)
		}
		if !current["collected_on"].Value.Equal(domain.DateValue(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))) {
			t.Fatalf("date value did not round trip: %v", current["collected_on"].Value)
		}

		history, err := s.ListHistory(ctx, "ph", 10)
		if err != nil {
			t.Fatalf("list history: %v", err)
		}
		if len(history) != 2 || !history[0].Value.Equal(domain.NumericValue(7.4)) {
			t.Fatalf("unexpected history: %+v", history)
		}

		if _, err := s.UpsertParameterValues(ctx, 999, []domain.ParameterWrite{write("ph", domain.NumericValue(1), base)}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		if _, err := s.SoftDeleteSample(ctx, sample.ID); err != nil {
			t.Fatalf("soft delete: %v", err)
		}
		if _, err := s.UpsertParameterValues(ctx, sample.ID, []domain.ParameterWrite{write("ph", domain.NumericValue(1), base)}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("writes to deleted samples must fail, got %v", err)
		}
		current, err = s.ListCurrentValues(ctx, sample.ID)
		if err != nil || len(current) != 3 {
			t.Fatalf("values of deleted samples stay readable: %v %v", current, err)
		}
	})
}

func TestStoreHistoryOrdering(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store) {
		ctx := context.Background()
		first := mustCreate(t, s, nil)
		second := mustCreate(t, s, nil)
		base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

		for i, v := range []int64{1, 2, 3, 4, 5} {
			target := first.ID
			if i%2 == 1 {
				target = second.ID
			}
			if err := s.UpsertParameterValue(ctx, target, write("count", domain.IntegerValue(v), base.Add(time.Duration(i)*time.Second))); err != nil {
				t.Fatalf("upsert: %v", err)
			}
		}
		// Same timestamp as the newest entry; the later write must sort first.
		if err := s.UpsertParameterValue(ctx, first.ID, write("count", domain.IntegerValue(6), base.Add(4*time.Second))); err != nil {
			t.Fatalf("upsert: %v", err)
		}

		history, err := s.ListHistory(ctx, "count", 3)
		if err != nil {
			t.Fatalf("list history: %v", err)
		}
		if len(history) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(history))
		}
		for i, want := range []int64{6, 5, 4} {
			got, _ := history[i].Value.Int()
			if got != want {
				t.Fatalf("entry %d: expected %d, got %d", i, want, got)
			}
		}
		if history[2].SampleID != second.ID {
			t.Fatalf("history must span samples, got sample %d", history[2].SampleID)
		}

		empty, err := s.ListHistory(ctx, "unknown", 3)
		if err != nil || len(empty) != 0 {
			t.Fatalf("unexpected history for unknown name: %v %v", empty, err)
		}
	})
}

func TestStoreConcurrentWritersDoNotInterleave(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store) {
		ctx := context.Background()
		sample := mustCreate(t, s, nil)

		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(v int64) {
				defer wg.Done()
				at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
				_, err := s.UpsertParameterValues(ctx, sample.ID, []domain.ParameterWrite{
					write("a", domain.IntegerValue(v), at),
					write("b", domain.IntegerValue(v), at),
				})
				errs <- err
			}(int64(i))
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("concurrent upsert: %v", err)
			}
		}

		current, err := s.ListCurrentValues(ctx, sample.ID)
		if err != nil {
			t.Fatalf("list current: %v", err)
		}
		if !current["a"].Value.Equal(current["b"].Value) {
			t.Fatalf("writes of one call interleaved: a=%v b=%v", current["a"].Value, current["b"].Value)
		}
		loaded, err := s.GetSample(ctx, sample.ID, false)
		if err != nil || loaded.Version != sample.Version+8 {
			t.Fatalf("expected 8 version bumps, got %+v %v", loaded, err)
		}
	})
}

func TestStoreDefinitions(t *testing.T) {
	forEachStore(t, func(t *testing.T, s store) {
		ctx := context.Background()
		lo, hi := 0.0, 14.0

		err := s.UpsertDefinitions(ctx, []domain.ParameterDefinition{
			{Name: "stage", ValueType: domain.ValueTypeEnum, AllowedValues: []string{"prepared", "analysed"}},
			{Name: "ph", ValueType: domain.ValueTypeNumeric, Minimum: &lo, Maximum: &hi, Unit: "pH"},
		})
		if err != nil {
			t.Fatalf("upsert definitions: %v", err)
		}

		def, err := s.GetDefinition(ctx, "ph")
		if err != nil {
			t.Fatalf("get definition: %v", err)
		}
		if def.Minimum == nil || *def.Minimum != 0 || def.Maximum == nil || *def.Maximum != 14 || def.Unit != "pH" {
			t.Fatalf("unexpected definition: %+v", def)
		}
		if def.AllowedValues != nil {
			t.Fatalf("numeric definition must not carry options: %v", def.AllowedValues)
		}

		defs, err := s.ListDefinitions(ctx)
		if err != nil || len(defs) != 2 || defs[0].Name != "ph" || defs[1].Name != "stage" {
			t.Fatalf("unexpected definitions: %+v %v", defs, err)
		}
		if len(defs[1].AllowedValues) != 2 {
			t.Fatalf("unexpected options: %v", defs[1].AllowedValues)
		}

		if err := s.UpsertDefinitions(ctx, []domain.ParameterDefinition{
			{Name: "ph", ValueType: domain.ValueTypeNumeric},
		}); err != nil {
			t.Fatalf("replace definition: %v", err)
		}
		def, err = s.GetDefinition(ctx, "ph")
		if err != nil || def.Minimum != nil {
			t.Fatalf("expected bounds to be cleared: %+v %v", def, err)
		}

		if _, err := s.GetDefinition(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

type logStore interface {
	store
	ImportLogRepository
}

func TestStoreImportLogs(t *testing.T) {
	run := func(t *testing.T, s logStore) {
		ctx := context.Background()
		base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
		sampleID := int64(4)

		entries := []domain.ImportLogEntry{
			{ID: uuid.New(), FileName: "a.csv", RowNumber: intPtr(2), SampleID: &sampleID, ErrorMessage: "ph: out of range", CreatedAt: base},
			{ID: uuid.New(), FileName: "a.csv", RowNumber: intPtr(5), ErrorMessage: "invalid sample_id", CreatedAt: base.Add(time.Second)},
			{ID: uuid.New(), FileName: "b.csv", ErrorMessage: "unknown sample", CreatedAt: base.Add(2 * time.Second)},
		}
		for _, entry := range entries {
			if err := s.RecordImportLog(ctx, entry); err != nil {
				t.Fatalf("record import log: %v", err)
			}
		}

		logs, err := s.ListImportLogs(ctx, "a.csv", 10, 0)
		if err != nil {
			t.Fatalf("list import logs: %v", err)
		}
		if len(logs) != 2 || logs[0].ID != entries[1].ID || logs[1].ID != entries[0].ID {
			t.Fatalf("unexpected logs: %+v", logs)
		}
		if logs[0].SampleID != nil || logs[1].SampleID == nil || *logs[1].SampleID != 4 {
			t.Fatalf("sample ids did not round trip: %+v", logs)
		}
		if !logs[1].CreatedAt.Equal(base) || logs[1].RowNumber == nil || *logs[1].RowNumber != 2 {
			t.Fatalf("unexpected first entry: %+v", logs[1])
		}

		all, err := s.ListImportLogs(ctx, "", 2, 1)
		if err != nil || len(all) != 2 || all[0].ID != entries[1].ID {
			t.Fatalf("unexpected page: %+v %v", all, err)
		}
		if all[1].RowNumber == nil {
			t.Fatalf("row number lost: %+v", all[1])
		}
	}

	t.Run("memory", func(t *testing.T) { run(t, NewMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) { run(t, newSQLiteStore(t).(*SQLiteStore)) })
	t.Run("postgres", func(t *testing.T) { run(t, newPostgresStore(t)) })
}

func TestStoreImportLogPageIsBounded(t *testing.T) {
	run := func(t *testing.T, s logStore) {
		ctx := context.Background()
		base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
		for i := 0; i < maxImportLogLimit+5; i++ {
			entry := domain.ImportLogEntry{
				ID:           uuid.New(),
				FileName:     "bulk.csv",
				RowNumber:    intPtr(i + 2),
				ErrorMessage: "unknown sample",
				CreatedAt:    base.Add(time.Duration(i) * time.Millisecond),
			}
			if err := s.RecordImportLog(ctx, entry); err != nil {
				t.Fatalf("record import log: %v", err)
			}
		}

		for _, limit := range []int{0, -1, maxImportLogLimit + 1, 100000000} {
			logs, err := s.ListImportLogs(ctx, "bulk.csv", limit, 0)
			if err != nil {
				t.Fatalf("list import logs: %v", err)
			}
			if len(logs) != maxImportLogLimit {
				t.Fatalf("limit %d: expected %d entries, got %d", limit, maxImportLogLimit, len(logs))
			}
		}
	}

	t.Run("memory", func(t *testing.T) { run(t, NewMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) { run(t, newSQLiteStore(t).(*SQLiteStore)) })
	t.Run("postgres", func(t *testing.T) { run(t, newPostgresStore(t)) })
}

func intPtr(v int) *int { return &v }
