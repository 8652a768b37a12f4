package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inhdata/sunat-validador/internal/domain/entity"
	"github.com/inhdata/sunat-validador/internal/infrastructure/sunat"
)

// fakeSnapshotRepo snapshot en memoria de una sola factura.
type fakeSnapshotRepo struct {
	estado *entity.CurrentState
}

func (f *fakeSnapshotRepo) GetByFactura(_ context.Context, idFactura int64) (*entity.CurrentState, error) {
	if f.estado == nil || f.estado.IdFactura != idFactura {
		return nil, nil
	}
	copia := *f.estado
	return &copia, nil
}

func (f *fakeSnapshotRepo) Insert(_ context.Context, estado *entity.CurrentState) error {
	f.estado = estado
	return nil
}

func (f *fakeSnapshotRepo) Update(_ context.Context, estado *entity.CurrentState) error {
	f.estado = estado
	return nil
}

func itemDePrueba() *entity.QueueItem {
	return &entity.QueueItem{
		IdQueue:       1,
		IdFactura:     42,
		RUCEmisor:     "20123456789",
		TipoDocumento: "01",
		Serie:         "F001",
		Numero:        "123",
	}
}

func resultado(codigo string) *sunat.Resultado {
	nombre, desc := sunat.MapEstado(codigo)
	return &sunat.Resultado{
		Estado:            nombre,
		EstadoDescripcion: desc,
		CodigoRespuesta:   codigo,
		HTTPStatus:        200,
	}
}

// Primera consulta → inserta con cambio; misma respuesta → sin cambio;
// respuesta distinta → cambio otra vez. fecha_primera_consulta nunca se mueve.
func TestReconciliar_SecuenciaDeEstados(t *testing.T) {
	ctx := context.Background()
	repo := &fakeSnapshotRepo{}
	item := itemDePrueba()

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	t2 := t0.Add(2 * time.Hour)

	// ACEPTADO por primera vez
	cambio, err := Reconciliar(ctx, repo, item, resultado("1"), t0)
	require.NoError(t, err)
	assert.True(t, cambio, "la primera consulta con estado es un cambio")
	require.NotNil(t, repo.estado)
	assert.Equal(t, "ACEPTADO", repo.estado.EstadoActual)
	assert.Equal(t, t0, repo.estado.FechaPrimeraConsulta)
	assert.Equal(t, t0, repo.estado.FechaUltimoCambio)

	// ACEPTADO de nuevo: avanza la última consulta, nada más
	cambio, err = Reconciliar(ctx, repo, item, resultado("1"), t1)
	require.NoError(t, err)
	assert.False(t, cambio)
	assert.Equal(t, t0, repo.estado.FechaPrimeraConsulta, "fecha_primera_consulta no se toca")
	assert.Equal(t, t1, repo.estado.FechaUltimaConsulta)
	assert.Equal(t, t0, repo.estado.FechaUltimoCambio, "sin cambio no se mueve fecha_ultimo_cambio")
	assert.False(t, repo.estado.CambioEstado)

	// Pasa a NO AUTORIZADO
	cambio, err = Reconciliar(ctx, repo, item, resultado("4"), t2)
	require.NoError(t, err)
	assert.True(t, cambio)
	assert.Equal(t, "NO AUTORIZADO", repo.estado.EstadoActual)
	assert.Equal(t, t0, repo.estado.FechaPrimeraConsulta)
	assert.Equal(t, t2, repo.estado.FechaUltimoCambio)
	assert.True(t, repo.estado.CambioEstado)
}

// Respuesta sin estadoCp en la primera consulta: se crea la fila pero no
// cuenta como cambio de estado.
func TestReconciliar_PrimeraConsultaSinEstado(t *testing.T) {
	repo := &fakeSnapshotRepo{}
	ahora := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	cambio, err := Reconciliar(context.Background(), repo, itemDePrueba(), resultado(""), ahora)
	require.NoError(t, err)
	assert.False(t, cambio, "una respuesta sin estado no es un estado nuevo")
	require.NotNil(t, repo.estado)
	assert.Empty(t, repo.estado.EstadoActual)
}

// Mismo estado pero descripción distinta también es cambio (el catálogo
// puede reasignar descripciones a un mismo nombre).
func TestReconciliar_CambioSoloDescripcion(t *testing.T) {
	ctx := context.Background()
	repo := &fakeSnapshotRepo{}
	item := itemDePrueba()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	_, err := Reconciliar(ctx, repo, item, resultado("1"), t0)
	require.NoError(t, err)

	res := resultado("1")
	res.EstadoDescripcion = "ACEPTADO (1) - observado"
	cambio, err := Reconciliar(ctx, repo, item, res, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, cambio)
	assert.Equal(t, "ACEPTADO (1) - observado", repo.estado.EstadoDescripcion)
}
