package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/inhdata/sunat-validador/internal/domain/entity"
	"github.com/inhdata/sunat-validador/internal/domain/repository"
	"github.com/inhdata/sunat-validador/internal/infrastructure/sunat"
	"github.com/inhdata/sunat-validador/pkg/logger"
)

const (
	defaultBackoffBase = 30 * time.Second
	defaultBackoffMax  = 15 * time.Minute

	// maxLenError tope del texto persistido en last_error.
	maxLenError = 3900
)

// Config parámetros del despachador.
type Config struct {
	BatchSize         int
	Workers           int
	MaxAttempts       int
	PollInterval      time.Duration
	VisibilityTimeout time.Duration
	BackoffBase       time.Duration // espera tras el primer fallo de transporte
	BackoffMax        time.Duration
}

// Dispatcher drena la cola: reclama lotes, consulta SUNAT por item y
// commitea el resultado en una transacción sobre los tres stores.
// Pueden correr varias instancias contra la misma cola; Claim garantiza
// que cada item lo gana una sola.
type Dispatcher struct {
	queue     repository.QueueRepository
	tx        TxRunner
	validador Validador
	destino   DestinoSyncer // nil = sin sincronización de tabla destino
	cfg       Config
	log       zerolog.Logger
	now       func() time.Time
}

// New construye el despachador. destino puede ser nil.
func New(queue repository.QueueRepository, tx TxRunner, validador Validador, destino DestinoSyncer, cfg Config, log *logger.Logger) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 300
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 10 * time.Minute
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = defaultBackoffMax
	}
	workerID := uuid.New().String()[:8]
	return &Dispatcher{
		queue:     queue,
		tx:        tx,
		validador: validador,
		destino:   destino,
		cfg:       cfg,
		log:       log.With().Str("worker_id", workerID).Logger(),
		now:       time.Now,
	}
}

// Run sondea la cola hasta que se cancele el contexto. Un item ya reclamado
// al momento del shutdown queda en processing y lo retoma otra instancia
// cuando vence el timeout de visibilidad.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info().
		Int("batch", d.cfg.BatchSize).
		Int("workers", d.cfg.Workers).
		Int("retry_max", d.cfg.MaxAttempts).
		Msg("worker de validación iniciado")

	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("worker detenido")
			return nil
		default:
		}

		n, err := d.ProcessBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				d.log.Info().Msg("worker detenido")
				return nil
			}
			d.log.Error().Err(err).Msg("lote fallido")
		}
		if n > 0 && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			d.log.Info().Msg("worker detenido")
			return nil
		case <-time.After(d.cfg.PollInterval):
		}
	}
}

// ProcessBatch reclama y procesa un lote. Devuelve cuántos items reclamó.
func (d *Dispatcher) ProcessBatch(ctx context.Context) (int, error) {
	items, err := d.queue.Claim(ctx, d.cfg.BatchSize, d.cfg.VisibilityTimeout)
	if err != nil {
		return 0, fmt.Errorf("reclamar lote: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	var okCnt, errCnt atomic.Int64
	sem := make(chan struct{}, d.cfg.Workers)
	var wg sync.WaitGroup
	for _, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(it *entity.QueueItem) {
			defer wg.Done()
			defer func() { <-sem }()
			if d.procesarItem(ctx, it) {
				okCnt.Add(1)
			} else {
				errCnt.Add(1)
			}
		}(item)
	}
	wg.Wait()

	d.log.Info().
		Int("total", len(items)).
		Int64("ok", okCnt.Load()).
		Int64("err", errCnt.Load()).
		Msg("lote procesado")

	if d.destino != nil {
		if n, err := d.destino.SyncDesdeSnapshot(ctx); err != nil {
			d.log.Error().Err(err).Msg("sincronizar tabla destino")
		} else if n > 0 {
			d.log.Info().Int64("filas", n).Msg("columnas SUNAT actualizadas en tabla destino")
		}
	}
	return len(items), nil
}

// procesarItem consulta SUNAT y resuelve el destino del item. Devuelve true
// solo cuando la consulta fue aceptada (2xx).
func (d *Dispatcher) procesarItem(ctx context.Context, item *entity.QueueItem) bool {
	res, err := d.validador.Validar(ctx, item.Comprobante())
	if err == nil {
		return d.commit(ctx, item, res, entity.StatusDone, "") == nil
	}

	var apiErr *sunat.ApiError
	if errors.As(err, &apiErr) {
		// Rechazo de negocio: se persiste histórico y snapshot igual que un
		// 2xx, pero el item queda en error y no se reintenta — repetir la
		// consulta no cambiaría una respuesta autoritativa.
		_ = d.commit(ctx, item, apiErr.Resultado, entity.StatusError, truncar(err.Error()))
		return false
	}

	// Transporte o autenticación: sin payload no hay nada que persistir.
	d.reintentar(ctx, item, err)
	return false
}

// commit escribe histórico + snapshot + transición de cola en una transacción.
func (d *Dispatcher) commit(ctx context.Context, item *entity.QueueItem, res *sunat.Resultado, statusFinal, lastError string) error {
	ahora := d.now().UTC()
	err := d.tx.RunValidacion(ctx, func(
		valRepo repository.ValidationRepository,
		snapRepo repository.SnapshotRepository,
		queueRepo repository.QueueRepository,
	) error {
		rec := &entity.ValidationRecord{
			IdFactura:       item.IdFactura,
			RUCEmisor:       item.RUCEmisor,
			RUCReceptor:     item.RUCReceptor,
			TipoDocumento:   item.TipoDocumento,
			Serie:           item.Serie,
			Numero:          item.Numero,
			FechaEmision:    item.FechaEmision,
			ImporteTotal:    item.ImporteTotal,
			EstadoSUNAT:     res.Estado,
			CodigoRespuesta: res.CodigoRespuesta,
			Mensaje:         res.Mensaje,
			FechaConsulta:   ahora,
			TokenExpiraUTC:  res.TokenExpira,
			RawJSON:         res.RawJSON,
		}
		if err := valRepo.Insert(ctx, rec); err != nil {
			return err
		}
		if _, err := Reconciliar(ctx, snapRepo, item, res, ahora); err != nil {
			return err
		}
		if statusFinal == entity.StatusDone {
			return queueRepo.MarkDone(ctx, item.IdQueue)
		}
		return queueRepo.MarkError(ctx, item.IdQueue, lastError)
	})
	if err != nil {
		if errors.Is(err, entity.ErrItemNoEnProceso) {
			// Otro worker reclamó el item tras vencer la visibilidad y
			// resolvió primero; este resultado se descarta entero con la tx.
			d.log.Warn().
				Int64("id_queue", item.IdQueue).
				Int64("id_factura", item.IdFactura).
				Msg("item resuelto por otro worker, resultado descartado")
			return err
		}
		// El item queda en processing; lo reclamará otro worker al vencer
		// el timeout de visibilidad.
		d.log.Error().Err(err).
			Int64("id_queue", item.IdQueue).
			Int64("id_factura", item.IdFactura).
			Msg("commit de resultado fallido")
		return err
	}
	d.log.Debug().
		Int64("id_factura", item.IdFactura).
		Str("estado", res.Estado).
		Str("status", statusFinal).
		Msg("resultado commiteado")
	return nil
}

// reintentar devuelve el item a la cola con backoff, o lo marca terminal
// si agotó los intentos (attempts ya viene incrementado por Claim).
func (d *Dispatcher) reintentar(ctx context.Context, item *entity.QueueItem, causa error) {
	if item.Attempts >= d.cfg.MaxAttempts {
		msg := truncar("reintentos agotados: " + causa.Error())
		if err := d.queue.MarkError(ctx, item.IdQueue, msg); err != nil {
			if errors.Is(err, entity.ErrItemNoEnProceso) {
				d.log.Warn().Int64("id_queue", item.IdQueue).Msg("item resuelto por otro worker")
				return
			}
			d.log.Error().Err(err).Int64("id_queue", item.IdQueue).Msg("marcar error terminal")
			return
		}
		d.log.Warn().
			Int64("id_queue", item.IdQueue).
			Int("attempts", item.Attempts).
			Msg("item agotó reintentos")
		return
	}

	espera := backoffEspera(d.cfg.BackoffBase, d.cfg.BackoffMax, item.Attempts)
	if err := d.queue.Requeue(ctx, item.IdQueue, truncar(causa.Error()), d.now().UTC().Add(espera)); err != nil {
		if errors.Is(err, entity.ErrItemNoEnProceso) {
			d.log.Warn().Int64("id_queue", item.IdQueue).Msg("item resuelto por otro worker")
			return
		}
		d.log.Error().Err(err).Int64("id_queue", item.IdQueue).Msg("reencolar item")
		return
	}
	d.log.Warn().Err(causa).
		Int64("id_queue", item.IdQueue).
		Int("attempts", item.Attempts).
		Dur("espera", espera).
		Msg("fallo de transporte, item reencolado")
}

// backoffEspera calcula base·2^(attempts-1) con tope; attempts es el
// contador persistido en la fila.
func backoffEspera(base, max time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 20 {
		return max
	}
	espera := base << (attempts - 1)
	if espera > max || espera <= 0 {
		return max
	}
	return espera
}

func truncar(s string) string {
	if len(s) > maxLenError {
		return s[:maxLenError]
	}
	return s
}
