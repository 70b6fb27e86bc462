package service

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newProjection(env *testEnv) *ProjectionService {
	p := NewProjectionService(env.docs, env.audit, env.artifact(), zap.NewNop())
	p.Now = func() time.Time { return testNow }
	return p
}

func TestProjectRendersZones(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.ingest.Ingest(ctx, validObs(), IngestOpts{}); err != nil {
		t.Fatalf("seed ingest: %v", err)
	}

	proj := newProjection(env)
	res, err := proj.Project(ctx)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if !res.Changed {
		t.Fatal("first projection should write the artifact")
	}

	data, err := os.ReadFile(env.artifact())
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	content := string(data)

	for _, want := range []string{
		"## Canonical State (Machine Managed)",
		"<!-- STATE:BEGIN zone_id=canonical_state schema=v1 -->",
		"- [user:primary] travel.destination = Tahoe (confidence=0.950, source=manual_cli)",
		"### Pending Confirmations",
		"- None",
		"## State Change Log (Machine Managed)",
		"decision=auto_commit",
		"<!-- STATE:END zone_id=state_change_log -->",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("artifact missing %q", want)
		}
	}
}

func TestProjectIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.ingest.Ingest(ctx, validObs(), IngestOpts{}); err != nil {
		t.Fatalf("seed ingest: %v", err)
	}

	proj := newProjection(env)
	if _, err := proj.Project(ctx); err != nil {
		t.Fatalf("first Project: %v", err)
	}
	first, _ := os.ReadFile(env.artifact())
	auditBefore, _ := env.audit.Tail(100)

	res, err := proj.Project(ctx)
	if err != nil {
		t.Fatalf("second Project: %v", err)
	}
	if res.Changed {
		t.Fatal("second projection over unchanged state must be a no-op")
	}
	if len(res.Drift) != 0 {
		t.Fatalf("drift = %v, want none", res.Drift)
	}

	second, _ := os.ReadFile(env.artifact())
	if string(first) != string(second) {
		t.Fatal("projection output is not byte-stable")
	}
	auditAfter, _ := env.audit.Tail(100)
	if len(auditAfter) != len(auditBefore) {
		t.Fatalf("idempotent projection appended audit lines: %d -> %d", len(auditBefore), len(auditAfter))
	}
}

func TestProjectPreservesHumanText(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	human := "# My Notes\n\nSome prose the engine must never touch.\n"
	if err := os.WriteFile(env.artifact(), []byte(human), 0o644); err != nil {
		t.Fatalf("seed artifact: %v", err)
	}

	if _, err := env.ingest.Ingest(ctx, validObs(), IngestOpts{}); err != nil {
		t.Fatalf("seed ingest: %v", err)
	}
	proj := newProjection(env)
	if _, err := proj.Project(ctx); err != nil {
		t.Fatalf("Project: %v", err)
	}

	data, _ := os.ReadFile(env.artifact())
	content := string(data)
	if !strings.Contains(content, "Some prose the engine must never touch.") {
		t.Fatal("human prose lost")
	}
	if !strings.HasPrefix(content, "# My Notes") {
		t.Fatal("human prose must stay above the machine zones")
	}
}

func TestProjectDetectsDrift(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.ingest.Ingest(ctx, validObs(), IngestOpts{}); err != nil {
		t.Fatalf("seed ingest: %v", err)
	}
	proj := newProjection(env)
	if _, err := proj.Project(ctx); err != nil {
		t.Fatalf("first Project: %v", err)
	}

	// Hand-edit inside the canonical zone.
	data, _ := os.ReadFile(env.artifact())
	edited := strings.Replace(string(data), "= Tahoe", "= Mars", 1)
	if err := os.WriteFile(env.artifact(), []byte(edited), 0o644); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	res, err := proj.Project(ctx)
	if err != nil {
		t.Fatalf("second Project: %v", err)
	}
	if len(res.Drift) != 1 || res.Drift[0] != "Canonical State (Machine Managed)" {
		t.Fatalf("drift = %v", res.Drift)
	}

	// The zone is reconciled back to canonical and the drift is logged.
	data, _ = os.ReadFile(env.artifact())
	if strings.Contains(string(data), "= Mars") {
		t.Fatal("drifted value survived reconciliation")
	}
	if !strings.Contains(string(data), "drift_detected | section=Canonical State (Machine Managed)") {
		t.Fatal("drift audit line missing from change log")
	}
}

func TestProjectLegacyModeWritesBackup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// The bootstrap document starts in legacy_string mode.
	human := "# Notes\n"
	if err := os.WriteFile(env.artifact(), []byte(human), 0o644); err != nil {
		t.Fatalf("seed artifact: %v", err)
	}
	if _, err := env.ingest.Ingest(ctx, validObs(), IngestOpts{}); err != nil {
		t.Fatalf("seed ingest: %v", err)
	}

	proj := newProjection(env)
	if _, err := proj.Project(ctx); err != nil {
		t.Fatalf("Project: %v", err)
	}

	backup, err := os.ReadFile(env.artifact() + ".bak")
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if string(backup) != human {
		t.Fatalf("backup = %q, want pre-write content", backup)
	}
}
