package update

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"updater-controlplane/pkg/middleware"
	"updater-controlplane/services/license"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(f *serviceFixture) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Error())
	RegisterRoutes(r, NewHandler(f.svc))
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any, headers ...string) (int, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w.Code, out
}

func TestHandlerStartAndStatus(t *testing.T) {
	f := newServiceFixture(t)
	r := newTestRouter(f)

	code, body := doJSON(t, r, http.MethodPost, "/api/updates/start",
		map[string]string{"version": "1.3.0", "downloadUrl": "https://example.com/r.tar.gz"},
		OperatorHeader, "ops@example.com",
	)
	require.Equal(t, http.StatusAccepted, code)
	data := body["data"].(map[string]any)
	id := data["updateId"].(string)
	require.NotEmpty(t, id)

	f.wait(t)

	code, body = doJSON(t, r, http.MethodGet, "/api/updates/status/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	data = body["data"].(map[string]any)
	require.Equal(t, string(StatusCompleted), data["status"])
	require.EqualValues(t, 100, data["progress"])

	code, body = doJSON(t, r, http.MethodGet, "/api/updates/history?limit=5", nil)
	require.Equal(t, http.StatusOK, code)
	history := body["data"].([]any)
	require.Len(t, history, 1)
	require.Equal(t, "ops@example.com", history[0].(map[string]any)["performedBy"])
	meta := body["meta"].(map[string]any)
	require.EqualValues(t, 1, meta["total"])
	require.EqualValues(t, 5, meta["limit"])

	code, body = doJSON(t, r, http.MethodPost, "/api/updates/rollback/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["data"].(map[string]any)["success"])

	code, _ = doJSON(t, r, http.MethodPost, "/api/updates/rollback/"+id, nil)
	require.Equal(t, http.StatusConflict, code)
}

func TestHandlerStartValidation(t *testing.T) {
	f := newServiceFixture(t)
	r := newTestRouter(f)

	code, body := doJSON(t, r, http.MethodPost, "/api/updates/start", map[string]string{"version": "1.3.0", "downloadUrl": "not a url"})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "bad_request", body["error"].(map[string]any)["code"])
}

func TestHandlerStartForbidden(t *testing.T) {
	f := newServiceFixture(t)
	f.license.validateForUpdateFn = func(context.Context, string) (*license.ValidationResult, error) {
		return &license.ValidationResult{Message: "license expired"}, nil
	}
	r := newTestRouter(f)

	code, body := doJSON(t, r, http.MethodPost, "/api/updates/start", map[string]string{"version": "1.3.0", "downloadUrl": "https://example.com/r.tar.gz"})
	require.Equal(t, http.StatusForbidden, code)
	require.Contains(t, body["error"].(map[string]any)["message"], "license expired")
}

func TestHandlerStatusNotFound(t *testing.T) {
	f := newServiceFixture(t)
	r := newTestRouter(f)

	code, _ := doJSON(t, r, http.MethodGet, "/api/updates/status/unknown", nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestHandlerCheck(t *testing.T) {
	f := newServiceFixture(t)
	f.releases.checkLatestFn = func(context.Context, string) (*Release, error) {
		return &Release{Version: "1.3.0", DownloadURL: "https://example.com/r.tar.gz"}, nil
	}
	r := newTestRouter(f)

	code, body := doJSON(t, r, http.MethodGet, "/api/updates/check", nil)
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]any)
	require.Equal(t, true, data["available"])
	require.Equal(t, true, data["licenseAllowed"])
	require.Equal(t, "1.3.0", data["update"].(map[string]any)["version"])
}

func TestHandlerInfo(t *testing.T) {
	f := newServiceFixture(t)
	r := newTestRouter(f)

	code, body := doJSON(t, r, http.MethodGet, "/api/updates/info", nil)
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]any)
	require.Equal(t, "1.2.0", data["system"].(map[string]any)["currentVersion"])
	require.NotNil(t, data["license"])
}

func TestHandlerSaveLicense(t *testing.T) {
	f := newServiceFixture(t)
	r := newTestRouter(f)

	code, _ := doJSON(t, r, http.MethodPost, "/api/updates/license", map[string]string{"licenseKey": "short"})
	require.Equal(t, http.StatusBadRequest, code)

	code, body := doJSON(t, r, http.MethodPost, "/api/updates/license", map[string]string{"licenseKey": "SUPPORIT-PRO-20271231-UPD-4948AA38"})
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]any)
	require.Equal(t, true, data["success"])
	require.Equal(t, "PRO", data["license"].(map[string]any)["tier"])

	f.license.saveLicenseKeyFn = func(context.Context, string) (*license.ValidationResult, error) {
		return &license.ValidationResult{Valid: false, Message: "license key rejected"}, nil
	}
	code, body = doJSON(t, r, http.MethodPost, "/api/updates/license", map[string]string{"licenseKey": "SUPPORIT-PRO-20271231-UPD-00000000"})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "license key rejected", body["error"].(map[string]any)["message"])

	code, body = doJSON(t, r, http.MethodGet, "/api/updates/license", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["data"].(map[string]any)["isValid"])
}
