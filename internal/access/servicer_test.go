package access

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hedgehog/pluto/internal/component"
	"github.com/hedgehog/pluto/internal/eventbus"
)

type fakeComponent struct {
	component.Base
	Counter int
	Health  string
}

func newFakeComponent(name string, bus *eventbus.Bus) *fakeComponent {
	return &fakeComponent{Base: component.NewBase(name, bus), Health: "ok"}
}

func (f *fakeComponent) Describe() ([]string, []string) {
	return []string{"Increment"}, []string{"Counter", "Health"}
}

func (f *fakeComponent) Increment(by int) int {
	f.Counter += by
	return f.Counter
}

func (f *fakeComponent) Stop() {}

func newTestServicer(t *testing.T) (*Servicer, *component.Registry) {
	t.Helper()
	bus := eventbus.New(nil, nil)
	reg := component.NewRegistry(bus)
	require.NoError(t, reg.Register(newFakeComponent("widget", bus)))
	return New(reg, bus), reg
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestListComponentsReturnsRegisteredNames(t *testing.T) {
	s, _ := newTestServicer(t)
	req := httptest.NewRequest(http.MethodGet, "/components", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)
	assert.Contains(t, resp.Data, "widget")
}

func TestListMethodsUnknownComponentReturns404(t *testing.T) {
	s, _ := newTestServicer(t)
	req := httptest.NewRequest(http.MethodGet, "/components/missing/methods", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeResponse(t, rec)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
}

func TestCallMethodInvokesComponentAndReturnsResult(t *testing.T) {
	s, _ := newTestServicer(t)
	body, _ := json.Marshal(callRequest{Args: []any{float64(4)}})
	req := httptest.NewRequest(http.MethodPost, "/components/widget/call/Increment", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, float64(4), resp.Data)
}

func TestCallMethodUndeclaredMethodReturns404(t *testing.T) {
	s, _ := newTestServicer(t)
	req := httptest.NewRequest(http.MethodPost, "/components/widget/call/Stop", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetAndSetVariableRoundTrip(t *testing.T) {
	s, reg := newTestServicer(t)

	body, _ := json.Marshal(variableRequest{Value: "degraded"})
	putReq := httptest.NewRequest(http.MethodPut, "/components/widget/variables/Health", bytes.NewReader(body))
	putRec := httptest.NewRecorder()
	s.Router().ServeHTTP(putRec, putReq)
	require.Equal(t, http.StatusOK, putRec.Code)

	value, err := reg.GetVariable("widget", "Health")
	require.NoError(t, err)
	assert.Equal(t, "degraded", value)

	getReq := httptest.NewRequest(http.MethodGet, "/components/widget/variables/Health", nil)
	getRec := httptest.NewRecorder()
	s.Router().ServeHTTP(getRec, getReq)
	resp := decodeResponse(t, getRec)
	assert.Equal(t, "degraded", resp.Data)
}

func TestSetVariableBadParametersReturns400(t *testing.T) {
	s, _ := newTestServicer(t)
	body, _ := json.Marshal(variableRequest{Value: []int{1, 2}})
	req := httptest.NewRequest(http.MethodPut, "/components/widget/variables/Counter", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListVariablesReturnsDeclaredVariables(t *testing.T) {
	s, _ := newTestServicer(t)
	req := httptest.NewRequest(http.MethodGet, "/components/widget/variables", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Contains(t, resp.Data, "Counter")
	assert.Contains(t, resp.Data, "Health")
}
