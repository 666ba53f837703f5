// Command seed fills a store with demo accounts, agreements and work units.
// It reads the same environment as the server.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/jobsettle/internal/config"
	"github.com/mmynk/jobsettle/internal/models"
	"github.com/mmynk/jobsettle/internal/storage"
	"github.com/mmynk/jobsettle/internal/storage/postgres"
	"github.com/mmynk/jobsettle/internal/storage/sqlite"
	"github.com/mmynk/jobsettle/pkg/logging"
)

type seedStore interface {
	storage.Seeder
	io.Closer
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()
	store, err := open(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := seed(ctx, store); err != nil {
		slog.Error("Seeding failed", "error", err)
		os.Exit(1)
	}
}

func open(ctx context.Context, cfg *config.Config) (seedStore, error) {
	if cfg.StoreDriver == config.DriverPostgres {
		return postgres.New(ctx, cfg.DatabaseURL)
	}
	return sqlite.New(cfg.DBPath)
}

type accountSeed struct {
	first, last, profession string
	kind                    models.AccountKind
	balance                 string
}

type workUnitSeed struct {
	description string
	price       string
	paid        bool
}

type agreementSeed struct {
	terms           string
	paying, earning int
	status          models.AgreementStatus
	units           []workUnitSeed
}

var accounts = []accountSeed{
	{"Harry", "Potter", "Wizard", models.AccountKindClient, "1150"},
	{"Mr", "Robot", "Hacker", models.AccountKindClient, "231.11"},
	{"John", "Snow", "Knows nothing", models.AccountKindClient, "451.3"},
	{"Ash", "Kethcum", "Pokemon master", models.AccountKindClient, "1.3"},
	{"John", "Lenon", "Musician", models.AccountKindContractor, "64"},
	{"Linus", "Torvalds", "Programmer", models.AccountKindContractor, "1214"},
	{"Alan", "Turing", "Programmer", models.AccountKindContractor, "22"},
	{"Aragorn", "II Elessar Telcontarvalds", "Fighter", models.AccountKindContractor, "314"},
}

var agreements = []agreementSeed{
	{"bla bla bla", 0, 4, models.AgreementTerminated, []workUnitSeed{{"work", "200", false}}},
	{"bla bla bla", 0, 5, models.AgreementActive, []workUnitSeed{{"work", "201", false}, {"work", "2020", true}}},
	{"bla bla bla", 1, 5, models.AgreementActive, []workUnitSeed{{"work", "202", false}, {"work", "200", true}}},
	{"bla bla bla", 1, 6, models.AgreementActive, []workUnitSeed{{"work", "200", true}}},
	{"bla bla bla", 2, 7, models.AgreementActive, []workUnitSeed{{"work", "21", true}, {"work", "121", true}}},
	{"bla bla bla", 3, 7, models.AgreementActive, []workUnitSeed{{"work", "121", true}}},
}

func seed(ctx context.Context, store storage.Seeder) error {
	created := make([]*models.Account, len(accounts))
	for i, a := range accounts {
		account := &models.Account{
			FirstName:  a.first,
			LastName:   a.last,
			Profession: a.profession,
			Kind:       a.kind,
			Balance:    decimal.RequireFromString(a.balance),
		}
		if err := store.CreateAccount(ctx, account); err != nil {
			return fmt.Errorf("create account %s: %w", account.DisplayName(), err)
		}
		created[i] = account
		slog.Info("Account created", "id", account.ID, "name", account.DisplayName(), "kind", account.Kind)
	}

	now := time.Now().Truncate(time.Millisecond)
	for _, ag := range agreements {
		agreement := &models.Agreement{
			Terms:            ag.terms,
			PayingAccountID:  created[ag.paying].ID,
			EarningAccountID: created[ag.earning].ID,
			Status:           ag.status,
		}
		if err := store.CreateAgreement(ctx, agreement); err != nil {
			return fmt.Errorf("create agreement: %w", err)
		}

		for _, u := range ag.units {
			wu := &models.WorkUnit{
				AgreementID: agreement.ID,
				Description: u.description,
				Price:       decimal.RequireFromString(u.price),
				Paid:        u.paid,
			}
			if u.paid {
				wu.PaidAt = &now
			}
			if err := store.CreateWorkUnit(ctx, wu); err != nil {
				return fmt.Errorf("create work unit: %w", err)
			}
			slog.Info("Work unit created", "id", wu.ID, "agreement_id", agreement.ID,
				"paying_account_id", agreement.PayingAccountID, "price", wu.Price.StringFixed(2), "paid", wu.Paid)
		}
	}
	return nil
}
