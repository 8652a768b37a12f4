package http_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inhdata/sunat-validador/internal/domain/entity"
	apphttp "github.com/inhdata/sunat-validador/internal/interfaces/http"
	pkgjwt "github.com/inhdata/sunat-validador/pkg/jwt"
	"github.com/inhdata/sunat-validador/pkg/logger"
)

// ──────────────────────────────────────────────────────────────────────────────
// Helpers de test
// ──────────────────────────────────────────────────────────────────────────────

const (
	testJWTSecret = "test-secret-key-for-unit-tests"
	testSubject   = "erp-compras"
	testIssuer    = "sunat-validador-test"
	testExpMin    = 60
)

// buildTestApp construye una app Fiber mínima con AuthMiddleware y un
// handler dummy que refleja subject y role.
func buildTestApp() *fiber.App {
	app := fiber.New()
	app.Get("/protected", apphttp.AuthMiddleware(testJWTSecret), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"subject": apphttp.GetSubject(c),
			"role":    apphttp.GetRole(c),
		})
	})
	return app
}

// tokenForRole genera un JWT con el rol indicado.
func tokenForRole(t *testing.T, role string) string {
	t.Helper()
	tok, err := pkgjwt.Generate(testJWTSecret, testSubject, role, testIssuer, testExpMin)
	require.NoError(t, err, "debe generarse un token JWT válido")
	return "Bearer " + tok
}

// doRequest lanza una petición GET /protected y devuelve la respuesta.
func doRequest(t *testing.T, app *fiber.App, authHeader string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

// ──────────────────────────────────────────────────────────────────────────────
// Tests AuthMiddleware
// ──────────────────────────────────────────────────────────────────────────────

// Token válido: pasa el middleware y los claims quedan en locals.
func TestAuthMiddleware_TokenValido(t *testing.T) {
	app := buildTestApp()
	resp := doRequest(t, app, tokenForRole(t, "producer"))
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, testSubject, body["subject"])
	assert.Equal(t, "producer", body["role"])
}

// Sin header Authorization → 401 MISSING_TOKEN.
func TestAuthMiddleware_SinHeader_Retorna401(t *testing.T) {
	app := buildTestApp()
	resp := doRequest(t, app, "")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "MISSING_TOKEN")
}

// Header sin el esquema Bearer → 401 INVALID_TOKEN.
func TestAuthMiddleware_EsquemaInvalido_Retorna401(t *testing.T) {
	app := buildTestApp()
	resp := doRequest(t, app, "Basic dXNlcjpwYXNz")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// Token malformado → 401 INVALID_TOKEN.
func TestAuthMiddleware_TokenInvalido_Retorna401(t *testing.T) {
	app := buildTestApp()
	resp := doRequest(t, app, "Bearer token.invalido.aqui")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "INVALID_TOKEN")
}

// Token firmado con otro secret → 401.
func TestAuthMiddleware_SecretIncorrecto_Retorna401(t *testing.T) {
	app := buildTestApp()
	tok, err := pkgjwt.Generate("otro-secret-completamente-distinto", testSubject, "producer", testIssuer, testExpMin)
	require.NoError(t, err)

	resp := doRequest(t, app, "Bearer "+tok)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// ──────────────────────────────────────────────────────────────────────────────
// Tests ColaHandler — autorización por rol
// ──────────────────────────────────────────────────────────────────────────────

// colaFake implementa lo mínimo de QueueRepository para el handler.
type colaFake struct {
	encolados []*entity.QueueItem
}

func (f *colaFake) Enqueue(_ context.Context, item *entity.QueueItem) error {
	item.IdQueue = int64(len(f.encolados) + 1)
	item.Status = entity.StatusQueued
	item.EnqueuedAt = time.Now().UTC()
	f.encolados = append(f.encolados, item)
	return nil
}

func (f *colaFake) Claim(context.Context, int, time.Duration) ([]*entity.QueueItem, error) {
	return nil, nil
}
func (f *colaFake) MarkDone(context.Context, int64) error          { return nil }
func (f *colaFake) MarkError(context.Context, int64, string) error { return nil }
func (f *colaFake) Requeue(context.Context, int64, string, time.Time) error {
	return nil
}
func (f *colaFake) CountByStatus(context.Context) (map[string]int64, error) {
	return map[string]int64{}, nil
}

func buildColaApp(cola *colaFake) *fiber.App {
	log := logger.New(logger.Config{Env: "test", Level: "error"})
	app := fiber.New()
	handler := apphttp.NewColaHandler(cola, log)
	app.Post("/cola", apphttp.AuthMiddleware(testJWTSecret), handler.Encolar)
	return app
}

func postCola(t *testing.T, app *fiber.App, authHeader, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/cola", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", authHeader)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

const bodyValido = `{"id_factura":42,"ruc_emisor":"20123456789","tipo_documento":"01","serie":"F001","numero":"123"}`

// El productor puede encolar → 201.
func TestEncolar_ProducerAutorizado(t *testing.T) {
	cola := &colaFake{}
	app := buildColaApp(cola)

	resp := postCola(t, app, tokenForRole(t, "producer"), bodyValido)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Len(t, cola.encolados, 1)
	assert.Equal(t, int64(42), cola.encolados[0].IdFactura)
}

// Un lector no puede encolar → 403 FORBIDDEN.
func TestEncolar_ReaderBloqueado(t *testing.T) {
	cola := &colaFake{}
	app := buildColaApp(cola)

	resp := postCola(t, app, tokenForRole(t, "reader"), bodyValido)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, cola.encolados)

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "FORBIDDEN")
}

// Campos obligatorios ausentes → 400.
func TestEncolar_CamposFaltantes(t *testing.T) {
	app := buildColaApp(&colaFake{})
	resp := postCola(t, app, tokenForRole(t, "producer"), `{"id_factura":42}`)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// ──────────────────────────────────────────────────────────────────────────────
// Tests JWT pkg
// ──────────────────────────────────────────────────────────────────────────────

func TestJWT_GenerateAndParse_ConRole(t *testing.T) {
	tok, err := pkgjwt.Generate(testJWTSecret, testSubject, "reader", testIssuer, testExpMin)
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	subject, role, err := pkgjwt.Parse(testJWTSecret, tok)
	require.NoError(t, err)

	assert.Equal(t, testSubject, subject)
	assert.Equal(t, "reader", role)
}

func TestJWT_TokenExpirado_RetornaError(t *testing.T) {
	tok, err := pkgjwt.Generate(testJWTSecret, testSubject, "producer", testIssuer, -1)
	require.NoError(t, err)

	_, _, err = pkgjwt.Parse(testJWTSecret, tok)
	assert.Error(t, err, "token expirado debe retornar error")
}
