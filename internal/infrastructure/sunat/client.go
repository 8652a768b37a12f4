package sunat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/inhdata/sunat-validador/internal/domain/entity"
	"github.com/inhdata/sunat-validador/pkg/logger"
)

const (
	defaultBaseURL      = "https://api.sunat.gob.pe"
	defaultTokenBaseURL = "https://api-seguridad.sunat.gob.pe"

	// scopeComodin: fallback cuando el emisor rechaza el scope configurado.
	scopeComodin = "https://api.sunat.gob.pe/v1/contribuyente/*"

	// margenRenovacion: se renueva el token cuando le queda menos que esto.
	margenRenovacion = 60 * time.Second

	// maxRespuesta limita la lectura del body (payloads raw van a la DB).
	maxRespuesta = 1 << 20
)

// Config credenciales y endpoints del cliente.
type Config struct {
	ClientID     string
	ClientSecret string
	RUC          string // RUC del contribuyente receptor, va en la URL de consulta
	BaseURL      string
	TokenBaseURL string
	Scope        string
	Timeout      time.Duration
}

// Client consulta el servicio validarcomprobante de SUNAT con token OAuth2
// client_credentials cacheado. Sin estado más allá del cache de token.
type Client struct {
	cfg        Config
	httpClient *http.Client
	tokens     TokenCache
	log        *logger.Logger
}

// NewClient construye el cliente. tokens decide si el token se comparte
// entre instancias (Redis) o vive en el proceso (memoria).
func NewClient(cfg Config, tokens TokenCache, log *logger.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.TokenBaseURL == "" {
		cfg.TokenBaseURL = defaultTokenBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 25 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		tokens:     tokens,
		log:        log,
	}
}

// ── Token ─────────────────────────────────────────────────────────────────────

// Token devuelve un bearer token vigente, renovándolo si queda menos de un
// minuto. La renovación se serializa vía el TokenCache para que una sola
// instancia la haga.
func (c *Client) Token(ctx context.Context) (string, time.Time, error) {
	if tok, exp, ok := c.tokens.Get(ctx); ok && time.Until(exp) > margenRenovacion {
		return tok, exp, nil
	}

	var tok string
	var exp time.Time
	err := c.tokens.ConLock(ctx, func() error {
		// Releer: otra instancia pudo renovar mientras esperábamos el lock.
		if t, e, ok := c.tokens.Get(ctx); ok && time.Until(e) > margenRenovacion {
			tok, exp = t, e
			return nil
		}
		t, e, err := c.obtenerToken(ctx)
		if err != nil {
			return err
		}
		c.tokens.Set(ctx, t, e)
		tok, exp = t, e
		return nil
	})
	if err != nil {
		return "", time.Time{}, err
	}
	if tok == "" {
		// ConLock cedió la renovación a otra instancia: releer el cache.
		if t, e, ok := c.tokens.Get(ctx); ok {
			return t, e, nil
		}
		return "", time.Time{}, &AuthError{Detalle: "no se obtuvo token"}
	}
	return tok, exp, nil
}

// obtenerToken pide un token nuevo reintentando fallos transitorios con
// backoff exponencial. Un rechazo de credenciales corta de inmediato.
func (c *Client) obtenerToken(ctx context.Context) (string, time.Time, error) {
	var tok string
	var exp time.Time
	op := func() error {
		t, e, err := c.probarEndpoints(ctx)
		if err != nil {
			var authErr *AuthError
			if errors.As(err, &authErr) {
				return backoff.Permanent(err)
			}
			return err
		}
		tok, exp = t, e
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return "", time.Time{}, err
	}
	return tok, exp, nil
}

// probarEndpoints recorre la matriz endpoint × modo de autenticación × scope
// que acepta SUNAT (clientessol/clientesextranet, credenciales en basic o
// body, scope configurado/comodín/sin scope) y se queda con el primer 200.
func (c *Client) probarEndpoints(ctx context.Context) (string, time.Time, error) {
	cid := strings.TrimSpace(c.cfg.ClientID)
	sec := strings.TrimSpace(c.cfg.ClientSecret)
	if cid == "" || sec == "" {
		return "", time.Time{}, &AuthError{Detalle: "faltan SUNAT_CLIENT_ID o SUNAT_CLIENT_SECRET"}
	}

	base := strings.TrimRight(c.cfg.TokenBaseURL, "/")
	endpoints := []string{
		fmt.Sprintf("%s/v1/clientessol/%s/oauth2/token/", base, cid),
		fmt.Sprintf("%s/v1/clientesextranet/%s/oauth2/token/", base, cid),
	}
	scopes := c.scopes()

	var lastStatus int
	var lastDetalle string
	var lastTransport error
	for _, ep := range endpoints {
		for _, modo := range []string{"basic", "body"} {
			for _, scope := range scopes {
				status, tok, exp, detalle, err := c.pedirToken(ctx, ep, modo, scope, cid, sec)
				if err != nil {
					lastTransport = err
					c.log.Warn().Str("endpoint", ep).Str("modo", modo).Str("scope", scope).Err(err).Msg("token SUNAT: fallo de transporte")
					continue
				}
				if status == http.StatusOK {
					c.log.Info().Str("endpoint", ep).Str("modo", modo).Str("scope", scope).Time("expira", exp).Msg("token SUNAT renovado")
					return tok, exp, nil
				}
				lastStatus, lastDetalle = status, detalle
				c.log.Warn().Str("endpoint", ep).Str("modo", modo).Str("scope", scope).Int("status", status).Msg("token SUNAT rechazado")
			}
		}
	}

	if lastStatus >= 400 && lastStatus < 500 {
		return "", time.Time{}, &AuthError{Detalle: fmt.Sprintf("HTTP %d: %s", lastStatus, lastDetalle)}
	}
	if lastTransport != nil {
		return "", time.Time{}, &TransportError{Err: lastTransport}
	}
	return "", time.Time{}, &TransportError{Err: fmt.Errorf("token HTTP %d: %s", lastStatus, lastDetalle)}
}

// scopes devuelve los scopes a probar en orden: el configurado, el comodín
// de contribuyente y sin scope, sin repetidos.
func (c *Client) scopes() []string {
	candidatos := []string{c.cfg.Scope, scopeComodin, ""}
	out := make([]string, 0, len(candidatos))
	for _, sc := range candidatos {
		repetido := false
		for _, v := range out {
			if v == sc {
				repetido = true
				break
			}
		}
		if !repetido {
			out = append(out, sc)
		}
	}
	return out
}

// pedirToken hace un intento contra un endpoint con un modo de autenticación
// y un scope (vacío = sin scope).
func (c *Client) pedirToken(ctx context.Context, endpoint, modo, scope, cid, sec string) (status int, token string, expira time.Time, detalle string, err error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	if scope != "" {
		form.Set("scope", scope)
	}
	if modo == "body" {
		form.Set("client_id", cid)
		form.Set("client_secret", sec)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, "", time.Time{}, "", fmt.Errorf("crear request de token: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if modo == "basic" {
		req.SetBasicAuth(cid, sec)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", time.Time{}, "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRespuesta))
	if err != nil {
		return 0, "", time.Time{}, "", fmt.Errorf("leer respuesta de token: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, "", time.Time{}, resumen(raw), nil
	}

	var rt respuestaToken
	if err := json.Unmarshal(raw, &rt); err != nil || rt.AccessToken == "" {
		return resp.StatusCode, "", time.Time{}, "", fmt.Errorf("respuesta de token no interpretable: %s", resumen(raw))
	}
	return http.StatusOK, rt.AccessToken, time.Now().UTC().Add(time.Duration(rt.ExpiresIn) * time.Second), "", nil
}

// ── Validar ───────────────────────────────────────────────────────────────────

// Validar consulta el estado de un comprobante.
//
// Devuelve el Resultado en 2xx; en no-2xx con cuerpo interpretable devuelve
// *ApiError (resultado de negocio terminal, no se reintenta); en fallos de
// red o respuestas ilegibles devuelve *TransportError; un 401/403 invalida
// el token cacheado y devuelve *AuthError.
func (c *Client) Validar(ctx context.Context, cp entity.Comprobante) (*Resultado, error) {
	tok, exp, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(c.cuerpo(cp))
	if err != nil {
		return nil, fmt.Errorf("serializar cuerpo: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/contribuyente/contribuyentes/%s/validarcomprobante",
		strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.RUC)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("crear request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &TransportError{Err: ctx.Err()}
		}
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRespuesta))
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("leer respuesta: %w", err)}
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.tokens.Invalidate(ctx)
		return nil, &AuthError{Detalle: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, resumen(raw))}
	}

	res, parseable := parsearResultado(raw, resp.StatusCode, exp)
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if !parseable {
			return nil, &TransportError{Err: fmt.Errorf("respuesta 2xx no interpretable: %s", resumen(raw))}
		}
		return res, nil
	case parseable:
		return nil, &ApiError{Resultado: res}
	default:
		return nil, &TransportError{Err: fmt.Errorf("HTTP %d sin cuerpo interpretable: %s", resp.StatusCode, resumen(raw))}
	}
}

// cuerpo arma el body del POST con el formato que espera SUNAT
// (fecha dd/mm/aaaa, monto con dos decimales).
func (c *Client) cuerpo(cp entity.Comprobante) cuerpoValidar {
	monto := "0.00"
	if cp.ImporteTotal != nil {
		monto = cp.ImporteTotal.Round(2).StringFixed(2)
	}
	fecha := ""
	if cp.FechaEmision != nil {
		fecha = cp.FechaEmision.Format("02/01/2006")
	}
	return cuerpoValidar{
		NumRuc:       cp.RUCEmisor,
		CodComp:      cp.TipoDocumento,
		NumeroSerie:  cp.Serie,
		Numero:       cp.Numero,
		FechaEmision: fecha,
		Monto:        monto,
	}
}

// parsearResultado interpreta el body. ok=false si no es un objeto JSON.
func parsearResultado(raw []byte, status int, tokenExpira time.Time) (*Resultado, bool) {
	var rv respuestaValidar
	if err := json.Unmarshal(raw, &rv); err != nil {
		return nil, false
	}
	codigo := ""
	if rv.Data != nil {
		codigo = normalizarCodigo(rv.Data.EstadoCp)
	}
	nombre, desc := MapEstado(codigo)
	mensaje := rv.Message
	if mensaje == "" {
		mensaje = rv.Mensaje
	}
	if mensaje == "" {
		mensaje = rv.Observacion
	}
	return &Resultado{
		Estado:            nombre,
		EstadoDescripcion: desc,
		CodigoRespuesta:   codigo,
		Mensaje:           mensaje,
		HTTPStatus:        status,
		TokenExpira:       tokenExpira,
		RawJSON:           raw,
	}, true
}

func resumen(raw []byte) string {
	s := string(raw)
	if len(s) > 300 {
		return s[:300]
	}
	return s
}
