package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/pkg/logger"
)

const auditLockName = "ledger-audit"

// Locker lock distribuido para que una sola instancia ejecute el job.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// Auditor subconjunto de audit.AuditUseCase que usa el job.
type Auditor interface {
	Run(ctx context.Context, scope entity.AuditScope, trigger string) (*entity.AuditRun, error)
	CompanyIDs(ctx context.Context) ([]string, error)
}

// AuditJob ejecuta la auditoría de saldos de todas las empresas cada Interval.
type AuditJob struct {
	auditor     Auditor
	locker      Locker // nil = sin coordinación (una sola instancia)
	interval    time.Duration
	concurrency int
	log         *logger.Logger
}

// NewAuditJob construye el job.
func NewAuditJob(auditor Auditor, locker Locker, interval time.Duration, concurrency int, log *logger.Logger) *AuditJob {
	if concurrency <= 0 {
		concurrency = 4
	}
	if log == nil {
		log = logger.Nop()
	}
	return &AuditJob{
		auditor:     auditor,
		locker:      locker,
		interval:    interval,
		concurrency: concurrency,
		log:         log.Component("audit-job"),
	}
}

// Start bloquea hasta que ctx se cancela.
func (j *AuditJob) Start(ctx context.Context) {
	if j.interval <= 0 {
		j.log.Info().Msg("auditoría periódica deshabilitada")
		return
	}
	j.log.Info().Dur("interval", j.interval).Msg("iniciando auditoría periódica")
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info().Msg("auditoría periódica detenida")
			return
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil {
				j.log.Error().Err(err).Msg("auditoría periódica con errores")
			}
		}
	}
}

// RunOnce audita todas las empresas con concurrencia acotada. Devuelve las ejecuciones terminadas;
// si otra instancia tiene el lock no hace nada.
func (j *AuditJob) RunOnce(ctx context.Context) ([]*entity.AuditRun, error) {
	if j.locker != nil {
		ttl := j.interval
		if ttl <= 0 {
			ttl = time.Minute
		}
		release, ok, err := j.locker.TryLock(ctx, auditLockName, ttl)
		if err != nil {
			return nil, fmt.Errorf("tomar lock de auditoría: %w", err)
		}
		if !ok {
			j.log.Debug().Msg("otra instancia está auditando")
			return nil, nil
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				j.log.Warn().Err(err).Msg("no se pudo liberar el lock de auditoría")
			}
		}()
	}

	companies, err := j.auditor.CompanyIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listar empresas: %w", err)
	}

	runs := make([]*entity.AuditRun, len(companies))
	p := pool.New().WithMaxGoroutines(j.concurrency).WithContext(ctx)
	for i, companyID := range companies {
		p.Go(func(ctx context.Context) error {
			run, err := j.auditor.Run(ctx, entity.AuditScope{CompanyID: companyID}, entity.AuditTriggerScheduled)
			if err != nil {
				return fmt.Errorf("empresa %s: %w", companyID, err)
			}
			runs[i] = run
			return nil
		})
	}
	err = p.Wait()

	done := make([]*entity.AuditRun, 0, len(runs))
	for _, r := range runs {
		if r != nil {
			done = append(done, r)
		}
	}
	return done, err
}
