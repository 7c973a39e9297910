package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/permitchain/permit-backend/config"
	"github.com/permitchain/permit-backend/internal/bootstrap"
	"github.com/permitchain/permit-backend/internal/db"
	"github.com/permitchain/permit-backend/internal/ledger"
	userdomain "github.com/permitchain/permit-backend/internal/users/domain"
	userrepo "github.com/permitchain/permit-backend/internal/users/repository"
)

const usage = "usage: worker migrate | register-user <wallet> <userType> <name> <email> | reconcile [contractAddress] | drain | dead"

func main() {
	if len(os.Args) < 2 {
		log.Fatal(usage)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "migrate":
		d, err := db.Open(ctx, cfg.Database)
		if err != nil {
			log.Fatalf("db: %v", err)
		}
		defer d.Close()
		if err := db.Migrate(ctx, d.Pool); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return

	case "register-user":
		registerUser(ctx, cfg, os.Args[2:])
		return
	}

	app, err := bootstrap.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer app.Close()

	switch os.Args[1] {
	case "reconcile":
		if len(os.Args) > 2 {
			reconcileOne(ctx, app, os.Args[2])
			return
		}
		n, err := app.Reconciler.EnqueueAll(ctx, cfg.Reconcile.BatchSize)
		if err != nil {
			log.Fatalf("enqueue: %v", err)
		}
		log.Printf("[worker] enqueued %d tasks", n)
		drain(ctx, app)

	case "drain":
		drain(ctx, app)

	case "dead":
		tasks, err := app.Queue.Dead(ctx)
		if err != nil {
			log.Fatalf("dead letters: %v", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(tasks); err != nil {
			log.Fatalf("encode: %v", err)
		}

	default:
		log.Fatalf("unknown command: %s\n%s", os.Args[1], usage)
	}
}

func reconcileOne(ctx context.Context, app *bootstrap.App, raw string) {
	contract, err := ledger.ParseAddress(raw)
	if err != nil {
		log.Fatalf("contract address: %v", err)
	}
	rep, err := app.Reconciler.ReconcileProject(ctx, contract)
	if err != nil {
		log.Fatalf("reconcile %s: %v", contract.Hex(), err)
	}
	log.Printf("[worker] reconciled contract=%s added=%d removed=%d skipped=%d advanced=%t",
		contract.Hex(), len(rep.Added), len(rep.Removed), len(rep.Skipped), rep.StateAdvanced)
}

func drain(ctx context.Context, app *bootstrap.App) {
	recovered, err := app.Queue.Recover(ctx)
	if err != nil {
		log.Fatalf("recover: %v", err)
	}
	n, err := app.Reconciler.RunOnce(ctx, 0)
	if err != nil {
		log.Fatalf("drain: %v", err)
	}
	log.Printf("[worker] processed %d tasks (recovered %d in-flight)", n, recovered)
}

// registerUser needs only the database, so it skips the full bootstrap.
func registerUser(ctx context.Context, cfg *config.Config, args []string) {
	if len(args) != 4 {
		log.Fatal(usage)
	}
	wallet, err := ledger.ParseAddress(args[0])
	if err != nil {
		log.Fatalf("wallet address: %v", err)
	}
	userType, err := userdomain.ParseUserType(args[1])
	if err != nil {
		log.Fatalf("user type: %v", err)
	}

	d, err := db.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer d.Close()

	u, err := userrepo.NewUserRepository(d.SQL).Create(ctx, userdomain.User{
		WalletAddress: wallet,
		UserType:      userType,
		Name:          args[2],
		Email:         args[3],
	})
	if err != nil {
		log.Fatalf("register user: %v", err)
	}
	log.Printf("[worker] registered user id=%s wallet=%s type=%s", u.ID, u.WalletAddress.Hex(), u.UserType)
}
