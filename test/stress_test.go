package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"orderflow/approval"
	"orderflow/config"
	"orderflow/handoff"
	"orderflow/order"
	"orderflow/settlement"
	"orderflow/test/actors"
	"orderflow/test/chaos"
	"orderflow/test/infra"
	"orderflow/test/oracles"
	"orderflow/wallet"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent actors")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

func seedRNG(seed int64) { rand.Seed(seed) }

func TestOrderLifecycleConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	seedRNG(seed)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("ORDERFLOW_TEST_PG_DSN") != "":
		dsn = os.Getenv("ORDERFLOW_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Fatalf("init local database: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	harness := buildHarness(pool)

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for i := 0; i < *flConcurrency; i++ {
		g.Go(func() error { return actors.LifecycleRunner(ctx2, harness, stop) })
	}
	g.Go(func() error { return actors.DoubleVerifier(ctx2, harness, stop) })
	g.Go(func() error { return actors.StaleCodeProber(ctx2, harness, stop) })
	g.Go(func() error { return actors.AdminDecider(ctx2, harness, stop) })
	g.Go(func() error { return actors.PlatformFunder(ctx2, harness, stop) })
	go chaos.TerminateRandomBackend(ctx2, pool, stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}
}

func buildHarness(pool *pgxpool.Pool) *actors.Harness {
	cfg := config.Config{
		SellerPickupCodeTTL:  30 * time.Minute,
		BuyerDeliveryCodeTTL: time.Hour,
		SiteHandoffCodeTTL:   30 * time.Minute,
		Rates: config.Rates{
			SellerShare:           0.85,
			FastDeliveryRate:      0.15,
			PickupDeliveryRate:    0.10,
			PickupSiteRate:        0.05,
			PlatformMarginRate:    0.21,
			ReferralShareOfMargin: 0.15,
		},
	}

	orderRepo := order.NewRepository(pool)
	engine := settlement.NewEngine(cfg.Rates, orderRepo, nil)
	orders := order.NewService(pool, orderRepo, engine, nil, nil, nil)
	handoffs := handoff.NewService(pool, handoff.NewCodeStore(), orders, orderRepo, nil, cfg, nil)
	wallets := wallet.NewRepository(pool)
	approvals := approval.NewService(pool, approval.NewRepository(pool), orderRepo, wallets, nil, nil, nil)

	return &actors.Harness{
		Pool:      pool,
		Orders:    orders,
		Handoffs:  handoffs,
		Approvals: approvals,
		Wallets:   wallets,
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"order_status_history", `SELECT id, order_id, old_status, new_status, changed_by, created_at FROM order_status_history ORDER BY id DESC LIMIT 50`},
		{"confirmation_codes", `SELECT id, order_id, stage, status, used_by, expires_at FROM confirmation_codes ORDER BY created_at DESC LIMIT 50`},
		{"payout_requests", `SELECT id, order_id, approval_type, amount, status, decided_by FROM payout_requests ORDER BY created_at DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, attempts, published_at, created_at FROM outbox ORDER BY id DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
