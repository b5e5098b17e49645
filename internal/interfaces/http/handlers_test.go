package http_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/stock-ledger/internal/application/audit"
	"github.com/jhoicas/stock-ledger/internal/application/dto"
	"github.com/jhoicas/stock-ledger/internal/application/ledger"
	"github.com/jhoicas/stock-ledger/internal/application/usecase"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/memory"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/pdf"
	apphttp "github.com/jhoicas/stock-ledger/internal/interfaces/http"
	pkgjwt "github.com/jhoicas/stock-ledger/pkg/jwt"
)

// ──── Helpers de test ────

type apiFixture struct {
	app       *fiber.App
	admin     string
	productID string
	whID      string
	storeID   string
}

// newAPI arma la app completa sobre el store en memoria y crea catálogo por HTTP.
func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	store, err := memory.NewStore()
	require.NoError(t, err)

	rec := ledger.NewReconciler(ledger.ReconcilerConfig{RetryBackoff: time.Millisecond},
		memory.NewTxRunner(store), store.Movements(), store.Balances(), store.Products(), nil, nil)
	ledgerUC := ledger.NewLedgerUseCase(ledger.Config{}, store.Movements(), store.Balances(), store.Products(),
		store.Locations(), rec, store.Idempotency(), nil)

	app := apphttp.NewApp(apphttp.RouterDeps{
		AppName:    "stock-ledger-test",
		LedgerUC:   ledgerUC,
		ProductUC:  usecase.NewProductUseCase(store.Products()),
		LocationUC: usecase.NewLocationUseCase(store.Locations()),
		AuditUC:    audit.NewAuditUseCase(store.Audits(), pdf.NewMarotoAuditReport(), nil),
		JWTSecret:  testJWTSecret,
	})

	f := &apiFixture{app: app, admin: tokenForRole(t, pkgjwt.RoleAdmin)}

	var product dto.ProductResponse
	resp := f.do(t, http.MethodPost, "/api/products", f.admin, dto.CreateProductRequest{SKU: "TOR-1", Name: "Tornillo"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	decode(t, resp, &product)
	f.productID = product.ID

	for _, name := range []string{"Bodega", "Tienda"} {
		var loc dto.LocationResponse
		resp := f.do(t, http.MethodPost, "/api/locations", f.admin, dto.CreateLocationRequest{Name: name}, nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		decode(t, resp, &loc)
		if f.whID == "" {
			f.whID = loc.ID
		} else {
			f.storeID = loc.ID
		}
	}
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, auth string, body any, headers map[string]string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func (f *apiFixture) submit(t *testing.T, in dto.SubmitMovementRequest, headers map[string]string) *http.Response {
	t.Helper()
	if in.ProductID == "" {
		in.ProductID = f.productID
	}
	return f.do(t, http.MethodPost, "/api/stock-movements", f.admin, in, headers)
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

// ──── Movimientos ────

func TestMovementAPI_TransferActualizaSaldos(t *testing.T) {
	f := newAPI(t)

	resp := f.submit(t, dto.SubmitMovementRequest{Type: "receive", Quantity: 10, ToLocationID: f.whID}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	var out dto.SubmitMovementResponse
	resp = f.submit(t, dto.SubmitMovementRequest{Type: "transfer", Quantity: 4, FromLocationID: f.whID, ToLocationID: f.storeID}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	decode(t, resp, &out)
	assert.Equal(t, "completed", out.Movement.Status)
	require.Len(t, out.Balances, 2)

	var bal dto.BalanceResponse
	resp = f.do(t, http.MethodGet, "/api/locations/"+f.whID+"/balance?productId="+f.productID, f.admin, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &bal)
	assert.Equal(t, int64(6), bal.Quantity)

	resp = f.do(t, http.MethodGet, "/api/locations/"+f.storeID+"/balance?productId="+f.productID, f.admin, nil, nil)
	decode(t, resp, &bal)
	assert.Equal(t, int64(4), bal.Quantity)
}

// Caso: stock insuficiente → 422 con el movimiento failed en el cuerpo.
func TestMovementAPI_StockInsuficienteRetorna422ConMovimiento(t *testing.T) {
	f := newAPI(t)
	resp := f.submit(t, dto.SubmitMovementRequest{Type: "receive", Quantity: 3, ToLocationID: f.whID}, nil)
	resp.Body.Close()

	var out dto.MovementErrorResponse
	resp = f.submit(t, dto.SubmitMovementRequest{Type: "adjustment", Quantity: 5, FromLocationID: f.whID}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	decode(t, resp, &out)
	assert.Equal(t, "INSUFFICIENT_STOCK", out.Code)
	require.NotNil(t, out.Movement)
	assert.Equal(t, "failed", out.Movement.Status)

	var bal dto.BalanceResponse
	resp = f.do(t, http.MethodGet, "/api/locations/"+f.whID+"/balance?productId="+f.productID, f.admin, nil, nil)
	decode(t, resp, &bal)
	assert.Equal(t, int64(3), bal.Quantity)
}

func TestMovementAPI_Validaciones(t *testing.T) {
	f := newAPI(t)

	// Caso: origen y destino iguales
	resp := f.submit(t, dto.SubmitMovementRequest{Type: "transfer", Quantity: 1, FromLocationID: f.whID, ToLocationID: f.whID}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// Caso: ubicación inexistente
	resp = f.submit(t, dto.SubmitMovementRequest{Type: "receive", Quantity: 1, ToLocationID: "no-existe"}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	// Caso: cuerpo inválido
	req := httptest.NewRequest(http.MethodPost, "/api/stock-movements", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", f.admin)
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// Caso: misma Idempotency-Key → 200 con el mismo movimiento y un solo efecto.
func TestMovementAPI_IdempotencyKeyRepite(t *testing.T) {
	f := newAPI(t)
	headers := map[string]string{apphttp.HeaderIdempotencyKey: "recepcion-001"}
	in := dto.SubmitMovementRequest{Type: "receive", Quantity: 7, ToLocationID: f.whID}

	var first, second dto.SubmitMovementResponse
	resp := f.submit(t, in, headers)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	decode(t, resp, &first)

	resp = f.submit(t, in, headers)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &second)
	assert.Equal(t, first.Movement.ID, second.Movement.ID)
	assert.True(t, second.Replayed)

	var bal dto.BalanceResponse
	resp = f.do(t, http.MethodGet, "/api/locations/"+f.whID+"/balance?productId="+f.productID, f.admin, nil, nil)
	decode(t, resp, &bal)
	assert.Equal(t, int64(7), bal.Quantity)
}

// Caso: misma Idempotency-Key con otra cantidad -> 409 CONFLICT, no se crea otro movimiento.
func TestMovementAPI_IdempotencyKeyConOtroCuerpoRetorna409(t *testing.T) {
	f := newAPI(t)
	headers := map[string]string{apphttp.HeaderIdempotencyKey: "recepcion-002"}
	in := dto.SubmitMovementRequest{Type: "receive", Quantity: 7, ToLocationID: f.whID}

	resp := f.submit(t, in, headers)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	in.Quantity = 70
	resp = f.submit(t, in, headers)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var body dto.ErrorResponse
	decode(t, resp, &body)
	assert.Equal(t, "CONFLICT", body.Code)

	var bal dto.BalanceResponse
	resp = f.do(t, http.MethodGet, "/api/locations/"+f.whID+"/balance?productId="+f.productID, f.admin, nil, nil)
	decode(t, resp, &bal)
	assert.Equal(t, int64(7), bal.Quantity)
}

func TestMovementAPI_CancelarCompletadoRetorna409(t *testing.T) {
	f := newAPI(t)
	var out dto.SubmitMovementResponse
	resp := f.submit(t, dto.SubmitMovementRequest{Type: "receive", Quantity: 1, ToLocationID: f.whID}, nil)
	decode(t, resp, &out)

	var errBody dto.ErrorResponse
	resp = f.do(t, http.MethodPost, "/api/stock-movements/"+out.Movement.ID+"/cancel", f.admin, nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	decode(t, resp, &errBody)
	assert.Equal(t, "INVALID_STATE", errBody.Code)

	// Caso: retry de un completado no cambia nada
	resp = f.do(t, http.MethodPost, "/api/stock-movements/"+out.Movement.ID+"/retry", f.admin, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestMovementAPI_ListFiltraPorUbicacion(t *testing.T) {
	f := newAPI(t)
	for _, in := range []dto.SubmitMovementRequest{
		{Type: "receive", Quantity: 5, ToLocationID: f.whID},
		{Type: "receive", Quantity: 2, ToLocationID: f.storeID},
		{Type: "transfer", Quantity: 1, FromLocationID: f.whID, ToLocationID: f.storeID},
	} {
		resp := f.submit(t, in, nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}

	var list dto.MovementListResponse
	resp := f.do(t, http.MethodGet, "/api/stock-movements?locationId="+f.storeID, f.admin, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &list)
	assert.Equal(t, 2, list.Page.Total)
	assert.Len(t, list.Items, 2)

	resp = f.do(t, http.MethodGet, "/api/stock-movements?status=otro", f.admin, nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

// Caso: auditor lee pero no escribe; otra empresa no ve los movimientos.
func TestMovementAPI_PermisosYAislamientoPorEmpresa(t *testing.T) {
	f := newAPI(t)
	var out dto.SubmitMovementResponse
	resp := f.submit(t, dto.SubmitMovementRequest{Type: "receive", Quantity: 1, ToLocationID: f.whID}, nil)
	decode(t, resp, &out)

	auditor := tokenForRole(t, pkgjwt.RoleAuditor)
	resp = f.do(t, http.MethodGet, "/api/stock-movements/"+out.Movement.ID, auditor, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = f.do(t, http.MethodPost, "/api/stock-movements", auditor,
		dto.SubmitMovementRequest{ProductID: f.productID, Type: "receive", Quantity: 1, ToLocationID: f.whID}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	other := tokenFor(t, "otra-empresa", pkgjwt.RoleAdmin, time.Hour)
	resp = f.do(t, http.MethodGet, "/api/stock-movements/"+out.Movement.ID, other, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

// ──── Auditoría ────

func TestAuditAPI_RunYPDF(t *testing.T) {
	f := newAPI(t)
	resp := f.submit(t, dto.SubmitMovementRequest{Type: "receive", Quantity: 4, ToLocationID: f.whID}, nil)
	resp.Body.Close()

	var run dto.AuditRunResponse
	resp = f.do(t, http.MethodPost, "/api/audit/runs", f.admin, nil, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	decode(t, resp, &run)
	assert.True(t, run.Clean)
	assert.Equal(t, 1, run.PairsChecked)
	assert.Equal(t, "manual", run.Trigger)

	resp = f.do(t, http.MethodGet, "/api/audit/runs/"+run.ID+"/pdf", f.admin, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte("%PDF")))

	// Caso: bodeguero no puede lanzar auditorías
	resp = f.do(t, http.MethodPost, "/api/audit/runs", tokenForRole(t, pkgjwt.RoleBodeguero), nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestHealth_SinToken(t *testing.T) {
	f := newAPI(t)
	resp := f.do(t, http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
