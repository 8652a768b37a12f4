package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inhdata/sunat-validador/internal/application/dispatcher"
	"github.com/inhdata/sunat-validador/internal/domain/repository"
)

var _ dispatcher.TxRunner = (*TxRunner)(nil)

// TxRunner ejecuta callbacks dentro de una transacción PostgreSQL.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner construye el runner con el pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunValidacion inicia una transacción, ejecuta fn con los repos de
// histórico, snapshot y cola atados a la tx, y hace Commit o Rollback.
// Es el límite de atomicidad del commit de un resultado de validación.
func (r *TxRunner) RunValidacion(ctx context.Context, fn func(
	valRepo repository.ValidationRepository,
	snapRepo repository.SnapshotRepository,
	queueRepo repository.QueueRepository,
) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("iniciar transacción: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	valRepo := NewValidationRepository(tx)
	snapRepo := NewSnapshotRepository(tx)
	queueRepo := NewQueueRepository(tx)

	if err := fn(valRepo, snapRepo, queueRepo); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit de transacción: %w", err)
	}
	return nil
}
