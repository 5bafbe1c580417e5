// Seeding tool that registers the demo companies and a few open positions.
// Usage (env overrides):
//
//	SEED_POSITIONS=false  companies only
//
// Reads DATABASE_URL and other core config via debtloop/pkg/config
package main

import (
	"context"
	stderrors "errors"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"debtloop/internal/repository/postgres"
	"debtloop/pkg/config"
	"debtloop/pkg/domain"
	"debtloop/pkg/errors"
	"debtloop/pkg/logger"
)

type seedCompany struct {
	name        string
	anonymousID string
	tokens      int64
}

var demoCompanies = []seedCompany{
	{"Acme Corp", "ANX-2847", domain.DefaultTokenBalance},
	{"Beta Industries", "BTA-5791", 1800},
	{"Gamma Solutions", "GMA-9234", 3200},
	{"Delta Corp", "DLT-1567", 2100},
	{"Echo Enterprises", "ECH-8902", 2800},
}

// demoDebts form a triangle and a square sharing Beta Industries.
var demoDebts = []struct {
	debtor, creditor string
	amount           int64
}{
	{"ANX-2847", "BTA-5791", 12000},
	{"BTA-5791", "GMA-9234", 9000},
	{"GMA-9234", "ANX-2847", 15000},
	{"BTA-5791", "DLT-1567", 4000},
	{"DLT-1567", "ECH-8902", 3500},
	{"ECH-8902", "ANX-2847", 5000},
	{"ANX-2847", "BTA-5791", 2000},
}

func main() {
	_ = godotenv.Load()
	log := logger.New("seed-netting")

	cfg := config.Load()
	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	defer db.Close()

	companyRepo := postgres.NewCompanyRepository(db)
	positionRepo := postgres.NewPositionRepository(db)
	ctx := context.Background()

	created := 0
	for _, c := range demoCompanies {
		if ensureCompany(ctx, companyRepo, log, c) {
			created++
		}
	}

	if os.Getenv("SEED_POSITIONS") == "false" {
		log.Info("Seed complete", map[string]interface{}{"companies_created": created})
		return
	}
	if created == 0 {
		log.Info("Companies already present, skipping positions", nil)
		return
	}

	currency := domain.Currency(cfg.Netting.DefaultCurrency)
	now := time.Now()
	for i, d := range demoDebts {
		p := &domain.Position{
			ID:             uuid.New(),
			OwnerID:        d.debtor,
			CounterpartyID: d.creditor,
			Role:           domain.PositionRoleDebt,
			Amount:         decimal.NewFromInt(d.amount),
			Currency:       currency,
			DueDate:        now.AddDate(0, 0, 30),
			CreatedAt:      now.Add(time.Duration(i) * time.Second),
			UpdatedAt:      now,
		}
		if err := positionRepo.Create(ctx, p); err != nil {
			log.Fatal("Failed to create position", map[string]interface{}{
				"debtor":   d.debtor,
				"creditor": d.creditor,
				"error":    err.Error(),
			})
		}
	}

	log.Info("Seed complete", map[string]interface{}{
		"companies_created": created,
		"positions_created": len(demoDebts),
	})
}

func ensureCompany(ctx context.Context, repo *postgres.CompanyRepository, log logger.Logger, c seedCompany) bool {
	now := time.Now()
	handle := "acct-" + c.anonymousID
	err := repo.Create(ctx, &domain.Company{
		ID:            uuid.New(),
		Name:          c.name,
		AnonymousID:   c.anonymousID,
		TokenBalance:  c.tokens,
		PaymentHandle: &handle,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	switch {
	case err == nil:
		log.Info("Company created", map[string]interface{}{"anonymous_id": c.anonymousID})
		return true
	case stderrors.Is(err, errors.ErrCompanyAlreadyExists):
		return false
	default:
		log.Fatal("Failed to create company", map[string]interface{}{
			"anonymous_id": c.anonymousID,
			"error":        err.Error(),
		})
		return false
	}
}
