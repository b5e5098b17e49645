// Command audit ejecuta la auditoría de saldos contra el ledger desde la línea de comandos.
//
//	audit --company=<id> [--product=<id>] [--location=<id>] [--pdf=reporte.pdf]
//	audit --all [--concurrency=4]
//
// Sale con código 2 si encontró diferencias, para usarlo en cron o CI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/jhoicas/stock-ledger/internal/application/audit"
	"github.com/jhoicas/stock-ledger/internal/application/dto"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	infrapdf "github.com/jhoicas/stock-ledger/internal/infrastructure/pdf"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/postgres"
	"github.com/jhoicas/stock-ledger/internal/worker"
	"github.com/jhoicas/stock-ledger/pkg/config"
	"github.com/jhoicas/stock-ledger/pkg/logger"
)

const (
	exitOK         = 0
	exitError      = 1
	exitMismatches = 2
)

type options struct {
	companyID   string
	productID   string
	locationID  string
	all         bool
	concurrency int
	pdfPath     string
	timeout     time.Duration
	migrate     bool
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var opts options
	fs := pflag.NewFlagSet("audit", pflag.ContinueOnError)
	fs.StringVar(&opts.companyID, "company", "", "empresa a auditar")
	fs.StringVar(&opts.productID, "product", "", "limitar a un producto")
	fs.StringVar(&opts.locationID, "location", "", "limitar a una ubicación")
	fs.BoolVar(&opts.all, "all", false, "auditar todas las empresas")
	fs.IntVar(&opts.concurrency, "concurrency", 4, "empresas auditadas en paralelo con --all")
	fs.StringVar(&opts.pdfPath, "pdf", "", "escribir el reporte PDF en esta ruta (solo con --company)")
	fs.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "tiempo máximo de la ejecución")
	fs.BoolVar(&opts.migrate, "migrate", false, "aplicar migraciones antes de auditar")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if opts.all == (opts.companyID != "") {
		fmt.Fprintln(os.Stderr, "indique --company o --all (uno de los dos)")
		fs.PrintDefaults()
		return exitError
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "cargar configuración:", err)
		return exitError
	}
	log := logger.New(logger.Config{
		Env:     cfg.App.Env,
		Level:   cfg.Observability.LogLevel,
		Service: "stock-ledger-audit",
		Out:     os.Stderr, // stdout queda para el resultado JSON
	})

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Error().Err(err).Msg("conexión a PostgreSQL")
		return exitError
	}
	defer pool.Close()
	if opts.migrate {
		if _, err := postgres.Migrate(ctx, pool); err != nil {
			log.Error().Err(err).Msg("migraciones")
			return exitError
		}
	}

	uc := audit.NewAuditUseCase(postgres.NewAuditRepository(pool), infrapdf.NewMarotoAuditReport(), log)

	var runs []*entity.AuditRun
	if opts.all {
		job := worker.NewAuditJob(cliAuditor{uc}, nil, 0, opts.concurrency, log)
		runs, err = job.RunOnce(ctx)
	} else {
		var r *entity.AuditRun
		r, err = uc.Run(ctx, entity.AuditScope{
			CompanyID:  opts.companyID,
			ProductID:  opts.productID,
			LocationID: opts.locationID,
		}, entity.AuditTriggerCLI)
		if r != nil {
			runs = append(runs, r)
		}
	}
	if err != nil {
		log.Error().Err(err).Msg("auditoría")
	}

	if opts.pdfPath != "" && len(runs) == 1 {
		if perr := writePDF(ctx, uc, runs[0], opts.pdfPath); perr != nil {
			log.Error().Err(perr).Msg("reporte PDF")
			return exitError
		}
	}

	out := make([]dto.AuditRunResponse, 0, len(runs))
	mismatches := 0
	for _, r := range runs {
		out = append(out, dto.FromAuditRun(r))
		mismatches += r.Drift()
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)

	switch {
	case err != nil:
		return exitError
	case mismatches > 0:
		return exitMismatches
	}
	return exitOK
}

func writePDF(ctx context.Context, uc *audit.AuditUseCase, run *entity.AuditRun, path string) error {
	pdf, err := uc.RenderPDF(ctx, run.CompanyID, run.ID)
	if err != nil {
		return err
	}
	return os.WriteFile(path, pdf, 0o644)
}

// cliAuditor marca las ejecuciones de --all como disparadas por CLI.
type cliAuditor struct {
	uc *audit.AuditUseCase
}

func (a cliAuditor) Run(ctx context.Context, scope entity.AuditScope, _ string) (*entity.AuditRun, error) {
	return a.uc.Run(ctx, scope, entity.AuditTriggerCLI)
}

func (a cliAuditor) CompanyIDs(ctx context.Context) ([]string, error) {
	return a.uc.CompanyIDs(ctx)
}
