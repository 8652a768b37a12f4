package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/inhdata/sunat-validador/internal/domain/entity"
	"github.com/inhdata/sunat-validador/internal/domain/repository"
)

var _ repository.QueueRepository = (*QueueRepo)(nil)

// QueueRepo implementación de QueueRepository sobre inh.api_sunat_queue
// (usable con pool o tx).
type QueueRepo struct {
	q Querier
}

// NewQueueRepository construye el adaptador. Pasar pool o tx (Querier).
func NewQueueRepository(q Querier) *QueueRepo {
	return &QueueRepo{q: q}
}

const columnasQueue = `id_queue, id_factura, ruc_emisor, ruc_receptor, tipo_documento, serie, numero,
	fecha_emision, importe_total, enqueued_at, status, attempts, last_error, next_attempt_at, updated_at`

// Enqueue inserta un item en estado queued. El índice parcial único sobre
// id_factura (status queued/processing) convierte el duplicado en
// entity.ErrFacturaPendiente.
func (r *QueueRepo) Enqueue(ctx context.Context, item *entity.QueueItem) error {
	query := `
		INSERT INTO inh.api_sunat_queue
			(id_factura, ruc_emisor, ruc_receptor, tipo_documento, serie, numero,
			 fecha_emision, importe_total, enqueued_at, status, attempts, next_attempt_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), 'queued', 0, now(), now())
		RETURNING id_queue, enqueued_at, status, attempts, next_attempt_at, updated_at`
	err := r.q.QueryRow(ctx, query,
		item.IdFactura, item.RUCEmisor, nullIfEmpty(item.RUCReceptor), item.TipoDocumento,
		item.Serie, item.Numero, item.FechaEmision, item.ImporteTotal,
	).Scan(&item.IdQueue, &item.EnqueuedAt, &item.Status, &item.Attempts, &item.NextAttemptAt, &item.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return entity.ErrFacturaPendiente
		}
		return fmt.Errorf("insertar en cola: %w", err)
	}
	return nil
}

// Claim reclama atómicamente hasta batchSize items: queued con backoff
// vencido, o processing estancado (updated_at más viejo que el timeout de
// visibilidad). FOR UPDATE SKIP LOCKED garantiza que dos workers nunca
// toman la misma fila; attempts se incrementa al reclamar.
func (r *QueueRepo) Claim(ctx context.Context, batchSize int, visibilityTimeout time.Duration) ([]*entity.QueueItem, error) {
	query := `
		UPDATE inh.api_sunat_queue q
		SET status = 'processing', attempts = q.attempts + 1, updated_at = now()
		WHERE q.id_queue IN (
			SELECT id_queue FROM inh.api_sunat_queue
			WHERE (status = 'queued' AND next_attempt_at <= now())
			   OR (status = 'processing' AND updated_at < now() - ($2::float8 * interval '1 second'))
			ORDER BY enqueued_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + columnasQueue
	rows, err := r.q.Query(ctx, query, batchSize, visibilityTimeout.Seconds())
	if err != nil {
		return nil, fmt.Errorf("reclamar items: %w", err)
	}
	defer rows.Close()

	var items []*entity.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkDone transición terminal processing -> done. Si la fila ya no está en
// processing (otro worker la reclamó y resolvió), retorna ErrItemNoEnProceso
// para que el caller aborte su transacción.
func (r *QueueRepo) MarkDone(ctx context.Context, idQueue int64) error {
	query := `
		UPDATE inh.api_sunat_queue
		SET status = 'done', last_error = NULL, updated_at = now()
		WHERE id_queue = $1 AND status = 'processing'`
	tag, err := r.q.Exec(ctx, query, idQueue)
	if err != nil {
		return fmt.Errorf("marcar done: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entity.ErrItemNoEnProceso
	}
	return nil
}

// MarkError transición terminal processing -> error con el detalle.
func (r *QueueRepo) MarkError(ctx context.Context, idQueue int64, lastError string) error {
	query := `
		UPDATE inh.api_sunat_queue
		SET status = 'error', last_error = $2, updated_at = now()
		WHERE id_queue = $1 AND status = 'processing'`
	tag, err := r.q.Exec(ctx, query, idQueue, lastError)
	if err != nil {
		return fmt.Errorf("marcar error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entity.ErrItemNoEnProceso
	}
	return nil
}

// Requeue devuelve el item a queued con la hora mínima del próximo intento.
func (r *QueueRepo) Requeue(ctx context.Context, idQueue int64, lastError string, nextAttemptAt time.Time) error {
	query := `
		UPDATE inh.api_sunat_queue
		SET status = 'queued', last_error = $2, next_attempt_at = $3, updated_at = now()
		WHERE id_queue = $1 AND status = 'processing'`
	tag, err := r.q.Exec(ctx, query, idQueue, lastError, nextAttemptAt)
	if err != nil {
		return fmt.Errorf("reencolar: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entity.ErrItemNoEnProceso
	}
	return nil
}

// CountByStatus conteo de items por status.
func (r *QueueRepo) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := r.q.Query(ctx, `SELECT status, count(*) FROM inh.api_sunat_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("contar cola: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan conteo: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// scanQueueItem lee una fila con el orden de columnasQueue.
func scanQueueItem(row interface{ Scan(...any) error }) (*entity.QueueItem, error) {
	var item entity.QueueItem
	var rucReceptor, lastError *string
	err := row.Scan(
		&item.IdQueue, &item.IdFactura, &item.RUCEmisor, &rucReceptor, &item.TipoDocumento,
		&item.Serie, &item.Numero, &item.FechaEmision, &item.ImporteTotal,
		&item.EnqueuedAt, &item.Status, &item.Attempts, &lastError,
		&item.NextAttemptAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan item de cola: %w", err)
	}
	item.RUCReceptor = derefStr(rucReceptor)
	item.LastError = derefStr(lastError)
	return &item, nil
}
