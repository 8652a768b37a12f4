package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inhdata/sunat-validador/internal/domain/entity"
	"github.com/inhdata/sunat-validador/internal/domain/repository"
	"github.com/inhdata/sunat-validador/internal/infrastructure/sunat"
	"github.com/inhdata/sunat-validador/pkg/logger"
)

// ──────────────────────────────────────────────────────────────────────────────
// Fakes
// ──────────────────────────────────────────────────────────────────────────────

// fakeQueueRepo cola en memoria. Claim replica la semántica real: entrega
// cada item una sola vez, lo pasa a processing e incrementa attempts.
type fakeQueueRepo struct {
	mu         sync.Mutex
	pendientes []*entity.QueueItem
	done       []int64
	errores    map[int64]string
	requeues   map[int64]time.Time

	// transicionErr simula una transición perdida (fila ya no en processing).
	transicionErr error
}

func nuevaColaFake(items ...*entity.QueueItem) *fakeQueueRepo {
	return &fakeQueueRepo{
		pendientes: items,
		errores:    make(map[int64]string),
		requeues:   make(map[int64]time.Time),
	}
}

func (f *fakeQueueRepo) Enqueue(_ context.Context, item *entity.QueueItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendientes = append(f.pendientes, item)
	return nil
}

func (f *fakeQueueRepo) Claim(_ context.Context, batchSize int, _ time.Duration) ([]*entity.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := batchSize
	if n > len(f.pendientes) {
		n = len(f.pendientes)
	}
	lote := f.pendientes[:n]
	f.pendientes = f.pendientes[n:]
	for _, it := range lote {
		it.Status = entity.StatusProcessing
		it.Attempts++
	}
	return lote, nil
}

func (f *fakeQueueRepo) MarkDone(_ context.Context, idQueue int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transicionErr != nil {
		return f.transicionErr
	}
	f.done = append(f.done, idQueue)
	return nil
}

func (f *fakeQueueRepo) MarkError(_ context.Context, idQueue int64, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transicionErr != nil {
		return f.transicionErr
	}
	f.errores[idQueue] = lastError
	return nil
}

func (f *fakeQueueRepo) Requeue(_ context.Context, idQueue int64, lastError string, nextAttemptAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transicionErr != nil {
		return f.transicionErr
	}
	f.requeues[idQueue] = nextAttemptAt
	return nil
}

func (f *fakeQueueRepo) CountByStatus(context.Context) (map[string]int64, error) {
	return map[string]int64{}, nil
}

// fakeValidationRepo histórico en memoria.
type fakeValidationRepo struct {
	mu        sync.Mutex
	registros []*entity.ValidationRecord
}

func (f *fakeValidationRepo) Insert(_ context.Context, rec *entity.ValidationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registros = append(f.registros, rec)
	return nil
}

func (f *fakeValidationRepo) ListByFactura(_ context.Context, idFactura int64, limit int) ([]*entity.ValidationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entity.ValidationRecord
	for _, r := range f.registros {
		if r.IdFactura == idFactura && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

// fakeSnapshots snapshot multi-factura en memoria.
type fakeSnapshots struct {
	estados map[int64]*entity.CurrentState
}

func (f *fakeSnapshots) GetByFactura(_ context.Context, idFactura int64) (*entity.CurrentState, error) {
	e, ok := f.estados[idFactura]
	if !ok {
		return nil, nil
	}
	copia := *e
	return &copia, nil
}

func (f *fakeSnapshots) Insert(_ context.Context, estado *entity.CurrentState) error {
	f.estados[estado.IdFactura] = estado
	return nil
}

func (f *fakeSnapshots) Update(_ context.Context, estado *entity.CurrentState) error {
	f.estados[estado.IdFactura] = estado
	return nil
}

// fakeTxRunner serializa los commits con un mutex, como lo haría la DB.
type fakeTxRunner struct {
	mu    sync.Mutex
	val   *fakeValidationRepo
	snap  *fakeSnapshots
	queue repository.QueueRepository
	fallo error
}

func (f *fakeTxRunner) RunValidacion(ctx context.Context, fn func(
	valRepo repository.ValidationRepository,
	snapRepo repository.SnapshotRepository,
	queueRepo repository.QueueRepository,
) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fallo != nil {
		return f.fallo
	}
	// Rollback: si fn falla se restauran histórico y snapshot.
	valAntes := len(f.val.registros)
	snapAntes := make(map[int64]*entity.CurrentState, len(f.snap.estados))
	for k, v := range f.snap.estados {
		snapAntes[k] = v
	}
	if err := fn(f.val, f.snap, f.queue); err != nil {
		f.val.registros = f.val.registros[:valAntes]
		f.snap.estados = snapAntes
		return err
	}
	return nil
}

// fakeValidador registra cada comprobante consultado y delega en fn.
type fakeValidador struct {
	mu     sync.Mutex
	vistos []entity.Comprobante
	fn     func(cp entity.Comprobante) (*sunat.Resultado, error)
}

func (f *fakeValidador) Validar(_ context.Context, cp entity.Comprobante) (*sunat.Resultado, error) {
	f.mu.Lock()
	f.vistos = append(f.vistos, cp)
	f.mu.Unlock()
	return f.fn(cp)
}

func itemCola(idQueue, idFactura int64) *entity.QueueItem {
	return &entity.QueueItem{
		IdQueue:       idQueue,
		IdFactura:     idFactura,
		RUCEmisor:     "20123456789",
		TipoDocumento: "01",
		Serie:         "F001",
		Numero:        strconv.FormatInt(idFactura, 10),
		Status:        entity.StatusQueued,
	}
}

var horaFija = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func nuevoDispatcherDePrueba(queue *fakeQueueRepo, val *fakeValidador, cfg Config) (*Dispatcher, *fakeTxRunner) {
	tx := &fakeTxRunner{
		val:   &fakeValidationRepo{},
		snap:  &fakeSnapshots{estados: make(map[int64]*entity.CurrentState)},
		queue: queue,
	}
	log := logger.New(logger.Config{Env: "test", Level: "error"})
	d := New(queue, tx, val, nil, cfg, log)
	d.now = func() time.Time { return horaFija }
	return d, tx
}

// ──────────────────────────────────────────────────────────────────────────────
// ProcessBatch
// ──────────────────────────────────────────────────────────────────────────────

// Consulta aceptada: exactamente un registro de histórico, snapshot creado
// y el item termina en done.
func TestProcessBatch_ConsultaExitosa(t *testing.T) {
	queue := nuevaColaFake(itemCola(1, 42))
	val := &fakeValidador{fn: func(entity.Comprobante) (*sunat.Resultado, error) {
		return resultado("1"), nil
	}}
	d, tx := nuevoDispatcherDePrueba(queue, val, Config{})

	n, err := d.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, tx.val.registros, 1, "una consulta, un registro de histórico")
	assert.Equal(t, "ACEPTADO", tx.val.registros[0].EstadoSUNAT)
	assert.Equal(t, int64(42), tx.val.registros[0].IdFactura)

	require.Contains(t, tx.snap.estados, int64(42))
	assert.Equal(t, "ACEPTADO", tx.snap.estados[42].EstadoActual)

	assert.Equal(t, []int64{1}, queue.done)
	assert.Empty(t, queue.errores)
	assert.Empty(t, queue.requeues)
}

// Fallo de transporte: nada se persiste y el item vuelve a la cola con el
// primer escalón de backoff.
func TestProcessBatch_FalloDeTransporte_Reencola(t *testing.T) {
	queue := nuevaColaFake(itemCola(1, 42))
	val := &fakeValidador{fn: func(entity.Comprobante) (*sunat.Resultado, error) {
		return nil, &sunat.TransportError{Err: errors.New("connection reset")}
	}}
	d, tx := nuevoDispatcherDePrueba(queue, val, Config{})

	_, err := d.ProcessBatch(context.Background())
	require.NoError(t, err)

	assert.Empty(t, tx.val.registros, "sin payload no se escribe histórico")
	assert.Empty(t, tx.snap.estados)
	assert.Empty(t, queue.done)
	assert.Empty(t, queue.errores)

	require.Contains(t, queue.requeues, int64(1))
	assert.Equal(t, horaFija.Add(30*time.Second), queue.requeues[1],
		"primer reintento tras el backoff base")
}

// El intento que agota el máximo marca el item error terminal.
func TestProcessBatch_ReintentosAgotados(t *testing.T) {
	item := itemCola(1, 42)
	item.Attempts = 2 // el claim lo sube a 3 = máximo
	queue := nuevaColaFake(item)
	val := &fakeValidador{fn: func(entity.Comprobante) (*sunat.Resultado, error) {
		return nil, &sunat.TransportError{Err: errors.New("timeout")}
	}}
	d, tx := nuevoDispatcherDePrueba(queue, val, Config{MaxAttempts: 3})

	_, err := d.ProcessBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, item.Attempts)
	assert.Empty(t, queue.requeues)
	require.Contains(t, queue.errores, int64(1))
	assert.Contains(t, queue.errores[1], "reintentos agotados")
	assert.Empty(t, tx.val.registros)
}

// Rechazo de negocio (no-2xx interpretable): se persisten histórico y
// snapshot como en un 2xx, pero el item queda error y no se reintenta.
func TestProcessBatch_RechazoDeNegocio(t *testing.T) {
	queue := nuevaColaFake(itemCola(1, 42))
	res := resultado("")
	res.HTTPStatus = 422
	res.Mensaje = "comprobante no válido"
	val := &fakeValidador{fn: func(entity.Comprobante) (*sunat.Resultado, error) {
		return nil, &sunat.ApiError{Resultado: res}
	}}
	d, tx := nuevoDispatcherDePrueba(queue, val, Config{})

	_, err := d.ProcessBatch(context.Background())
	require.NoError(t, err)

	require.Len(t, tx.val.registros, 1, "el rechazo también deja rastro en el histórico")
	assert.Equal(t, "comprobante no válido", tx.val.registros[0].Mensaje)
	require.Contains(t, tx.snap.estados, int64(42))

	assert.Empty(t, queue.done)
	assert.Empty(t, queue.requeues, "una respuesta autoritativa no se reintenta")
	require.Contains(t, queue.errores, int64(1))
	assert.Contains(t, queue.errores[1], "HTTP 422")
}

// Commit fallido: el item no transiciona; queda en processing para que lo
// retome otro worker al vencer la visibilidad.
func TestProcessBatch_CommitFallido(t *testing.T) {
	item := itemCola(1, 42)
	queue := nuevaColaFake(item)
	val := &fakeValidador{fn: func(entity.Comprobante) (*sunat.Resultado, error) {
		return resultado("1"), nil
	}}
	d, tx := nuevoDispatcherDePrueba(queue, val, Config{})
	tx.fallo = errors.New("deadlock detected")

	_, err := d.ProcessBatch(context.Background())
	require.NoError(t, err)

	assert.Empty(t, queue.done)
	assert.Empty(t, queue.errores)
	assert.Empty(t, queue.requeues)
	assert.Equal(t, entity.StatusProcessing, item.Status)
}

// Commit tardío tras un reclaim por visibilidad: la transición de cola falla
// con ErrItemNoEnProceso y la transacción entera se descarta, sin registro
// de histórico ni snapshot duplicados del perdedor.
func TestProcessBatch_ItemResueltoPorOtroWorker(t *testing.T) {
	queue := nuevaColaFake(itemCola(1, 42))
	queue.transicionErr = entity.ErrItemNoEnProceso
	val := &fakeValidador{fn: func(entity.Comprobante) (*sunat.Resultado, error) {
		return resultado("1"), nil
	}}
	d, tx := nuevoDispatcherDePrueba(queue, val, Config{})

	_, err := d.ProcessBatch(context.Background())
	require.NoError(t, err)

	assert.Empty(t, tx.val.registros, "el perdedor no deja histórico")
	assert.Empty(t, tx.snap.estados, "el perdedor no toca el snapshot")
	assert.Empty(t, queue.done)
	assert.Empty(t, queue.errores)
}

// Claims concurrentes nunca devuelven el mismo item dos veces.
func TestClaim_ConcurrenteSinDuplicados(t *testing.T) {
	const total = 200
	const workers = 10
	items := make([]*entity.QueueItem, 0, total)
	for i := 1; i <= total; i++ {
		items = append(items, itemCola(int64(i), int64(1000+i)))
	}
	queue := nuevaColaFake(items...)

	var mu sync.Mutex
	vistos := make(map[int64]int, total)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				lote, err := queue.Claim(context.Background(), 7, time.Minute)
				assert.NoError(t, err)
				if len(lote) == 0 {
					return
				}
				mu.Lock()
				for _, it := range lote {
					vistos[it.IdQueue]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, vistos, total, "todos los items deben reclamarse")
	for id, n := range vistos {
		assert.Equal(t, 1, n, "item %d reclamado %d veces", id, n)
	}
}

// Con varios workers, cada item del lote se consulta exactamente una vez.
func TestProcessBatch_ConcurrenciaSinDuplicados(t *testing.T) {
	const total = 50
	items := make([]*entity.QueueItem, 0, total)
	for i := 1; i <= total; i++ {
		items = append(items, itemCola(int64(i), int64(1000+i)))
	}
	queue := nuevaColaFake(items...)
	val := &fakeValidador{fn: func(entity.Comprobante) (*sunat.Resultado, error) {
		return resultado("1"), nil
	}}
	d, tx := nuevoDispatcherDePrueba(queue, val, Config{BatchSize: total, Workers: 8})

	n, err := d.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, total, n)

	require.Len(t, val.vistos, total)
	unicos := make(map[string]bool, total)
	for _, cp := range val.vistos {
		clave := fmt.Sprintf("%s-%s-%s", cp.TipoDocumento, cp.Serie, cp.Numero)
		assert.False(t, unicos[clave], "comprobante %s consultado dos veces", clave)
		unicos[clave] = true
	}

	assert.Len(t, queue.done, total)
	assert.Len(t, tx.val.registros, total)
}

// Cola vacía: ProcessBatch devuelve 0 sin tocar nada.
func TestProcessBatch_ColaVacia(t *testing.T) {
	queue := nuevaColaFake()
	val := &fakeValidador{fn: func(entity.Comprobante) (*sunat.Resultado, error) {
		t.Fatal("no debe consultarse nada con la cola vacía")
		return nil, nil
	}}
	d, _ := nuevoDispatcherDePrueba(queue, val, Config{})

	n, err := d.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

// ──────────────────────────────────────────────────────────────────────────────
// Backoff
// ──────────────────────────────────────────────────────────────────────────────

func TestBackoffEspera(t *testing.T) {
	base := 30 * time.Second
	max := 15 * time.Minute
	casos := []struct {
		attempts int
		esperado time.Duration
	}{
		{0, 30 * time.Second}, // se normaliza a 1
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{5, 8 * time.Minute},
		{6, 15 * time.Minute}, // 16m supera el tope
		{30, 15 * time.Minute},
	}
	for _, c := range casos {
		assert.Equal(t, c.esperado, backoffEspera(base, max, c.attempts), "attempts=%d", c.attempts)
	}
}

func TestTruncar(t *testing.T) {
	corto := "error breve"
	assert.Equal(t, corto, truncar(corto))

	largo := strings.Repeat("x", maxLenError+100)
	assert.Len(t, truncar(largo), maxLenError)
}
