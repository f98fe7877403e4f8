package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/formsight/formsight/internal/auth"
	"github.com/formsight/formsight/internal/config"
	"github.com/formsight/formsight/internal/database"
	"github.com/formsight/formsight/internal/quota"
)

// seedaccounts provisions an account_quota row for local development and
// prints an access token for it.
func main() {
	var (
		pkgName   = flag.String("package", "starter", "package tier: starter, standard, premium, custom")
		agencyArg = flag.String("agency", "", "agency id (generated when empty)")
		payg      = flag.Int64("payg", 0, "initial pay-as-you-go token balance")
	)
	flag.Parse()

	cfg, err := config.Load(config.Options{})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	agencyID := uuid.New()
	if *agencyArg != "" {
		agencyID, err = uuid.Parse(*agencyArg)
		if err != nil {
			log.Fatalf("parse agency id: %v", err)
		}
	}

	pkg := quota.Package(*pkgName)
	limits := quota.LimitsFromConfig(cfg.Quota)
	accountID := uuid.New()
	resetDate := time.Now().UTC().AddDate(0, 1, 0)

	const insert = `
		INSERT INTO account_quota (
			account_id, agency_id, package, package_limit, tokens_used_monthly,
			pay_as_you_go_tokens, tokens_reset_date, subscription_start_date,
			subscription_status
		) VALUES ($1, $2, $3, $4, 0, $5, $6, now(), $7)
	`
	_, err = pool.Exec(ctx, insert,
		accountID, agencyID, string(pkg), limits.ForPackage(pkg), *payg, resetDate, string(quota.StatusActive))
	if err != nil {
		log.Fatalf("insert account: %v", err)
	}

	tm, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTTL, cfg.Auth.Issuer)
	if err != nil {
		log.Fatalf("init token manager: %v", err)
	}
	token, exp, err := tm.Generate(accountID, agencyID)
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}

	log.Printf("account %s (agency %s, package %s)", accountID, agencyID, pkg)
	log.Printf("access token (expires %s): %s", exp.Format(time.RFC3339), token)
}
