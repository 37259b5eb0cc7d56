// aftersales-ops is the operator CLI for the after-sales backend.
//
// Usage (same DB_*/REDIS_ADDRESS/PUBSUB_* env as the server):
//
//	go run ./cmd/aftersales-ops resolve --tracking SF123
//	go run ./cmd/aftersales-ops resolve --order <order-id> --preview
//	go run ./cmd/aftersales-ops sweep-sla
//	go run ./cmd/aftersales-ops migrate
//	go run ./cmd/aftersales-ops token --user <user-id> --role buyer
//	go run ./cmd/aftersales-ops history --case <case-id>
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/aftersales_backend/aftersales"
	"bitbucket.org/mmdatafocus/aftersales_backend/config"
	"bitbucket.org/mmdatafocus/aftersales_backend/models"
	"bitbucket.org/mmdatafocus/aftersales_backend/utils"
	"bitbucket.org/mmdatafocus/aftersales_backend/workflow"
	"github.com/alecthomas/kong"
	"github.com/sirupsen/logrus"
)

type CLI struct {
	Timeout time.Duration `help:"Overall deadline for the command." default:"2m"`

	Resolve  ResolveCmd  `cmd:"" help:"Resolve provenance for a tracking number or an order."`
	SweepSLA SweepSLACmd `cmd:"" name:"sweep-sla" help:"Run one SLA breach sweep now."`
	Migrate  MigrateCmd  `cmd:"" help:"Run AutoMigrate and create the notification topic."`
	Token    TokenCmd    `cmd:"" help:"Mint a bearer token for a user."`
	History  HistoryCmd  `cmd:"" help:"Print the audit history of a case."`
}

// opsEnv is bound into every Run method.
type opsEnv struct {
	ctx    context.Context
	out    io.Writer
	logger *logrus.Logger
}

type ResolveCmd struct {
	Tracking string `help:"Tracking number to resolve." xor:"key" required:""`
	Order    string `help:"Order id to resolve." xor:"key" required:""`
	Preview  bool   `help:"Also show the assignment a new case would get."`
}

func (c *ResolveCmd) Run(env *opsEnv) error {
	svc, err := connectService(env.logger)
	if err != nil {
		return err
	}

	var res aftersales.ProvenanceResult
	if c.Tracking != "" {
		res, err = svc.ResolveByTrackingNumber(env.ctx, c.Tracking)
	} else {
		res, err = svc.ResolveByOrder(env.ctx, c.Order)
	}
	if err != nil {
		return err
	}
	out := map[string]any{"provenance": res}
	if c.Preview {
		_, decision := svc.PreviewAssignment(env.ctx, c.Tracking, c.Order)
		out["assignment"] = decision
	}
	return printJSON(env.out, out)
}

type SweepSLACmd struct {
	BatchSize int `help:"Maximum overdue cases to notify in this run." default:"200"`
}

func (c *SweepSLACmd) Run(env *opsEnv) error {
	svc, err := connectService(env.logger)
	if err != nil {
		return err
	}
	sweeper := workflow.NewSLASweeper(svc, config.GetRedisLock(), env.logger)
	sweeper.BatchSize = c.BatchSize
	notified, err := sweeper.SweepOnce(env.ctx)
	svc.WaitForSideEffects()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(env.out, "notified %d overdue case(s)\n", notified)
	return err
}

type MigrateCmd struct {
	SkipTopic bool `help:"Do not create the Pub/Sub notification topic."`
}

func (c *MigrateCmd) Run(env *opsEnv) error {
	config.ConnectDatabaseWithRetry()
	models.MigrateTable()
	fmt.Fprintln(env.out, "migrations applied")

	if c.SkipTopic {
		return nil
	}
	client, err := config.GetClient(env.ctx)
	if err != nil {
		return fmt.Errorf("pubsub client: %w", err)
	}
	defer client.Close()
	topic, err := config.CreateTopicIfNotExists(client, config.NotificationTopic())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(env.out, "notification topic %s ready\n", topic.ID())
	return err
}

type TokenCmd struct {
	User string `help:"User id to put in the token." required:""`
	Role string `help:"admin, buyer or supplier." required:"" enum:"admin,buyer,supplier"`
}

func (c *TokenCmd) Run(env *opsEnv) error {
	tok, err := utils.JwtGenerate(c.User, c.Role)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(env.out, tok)
	return err
}

type HistoryCmd struct {
	Case string `help:"Case id." required:""`
}

func (c *HistoryCmd) Run(env *opsEnv) error {
	config.ConnectDatabaseWithRetry()
	histories, err := models.GetHistories(env.ctx, "after_sales_case", c.Case)
	if err != nil {
		return err
	}
	return printJSON(env.out, histories)
}

// connectService builds the engine without blob storage; the ops commands never touch attachments.
func connectService(logger *logrus.Logger) (*aftersales.Service, error) {
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database not initialized; set DB_* env vars")
	}
	policy, err := config.LoadSLAPolicy()
	if err != nil {
		return nil, err
	}
	return aftersales.NewService(aftersales.Deps{
		Cases:       models.NewCaseRepository(db),
		Attachments: models.NewAttachmentRepository(db),
		Lookup:      models.NewProvenanceLookup(db),
		Users:       models.NewUserDirectory(db),
		Numbers:     models.NewCaseNumberGenerator(db, logger),
		Notifier:    workflow.NewPubSubNotifier(logger),
		Audit:       models.NewHistoryRecorder(db),
		Logger:      logger,
	}, aftersales.WithSLAPolicy(policy), aftersales.WithPhoneRegion(config.PhoneRegion())), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("aftersales-ops"),
		kong.Description("Operator tooling for after-sales cases."),
		kong.UsageOnError(),
	)

	ctx, cancel := context.WithTimeout(context.Background(), cli.Timeout)
	defer cancel()

	env := &opsEnv{ctx: ctx, out: os.Stdout, logger: config.GetLogger()}
	if err := kctx.Run(env); err != nil {
		fmt.Fprintf(os.Stderr, "aftersales-ops: %v\n", err)
		os.Exit(1)
	}
}
