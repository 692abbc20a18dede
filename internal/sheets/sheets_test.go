package sheets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type appendCall struct {
	path  string
	query map[string]string
	body  map[string]any
}

func newSheetsServer(t *testing.T, status int) (*httptest.Server, *[]appendCall) {
	t.Helper()
	var calls []appendCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		calls = append(calls, appendCall{
			path: r.URL.Path,
			query: map[string]string{
				"valueInputOption": r.URL.Query().Get("valueInputOption"),
				"insertDataOption": r.URL.Query().Get("insertDataOption"),
			},
			body: body,
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			w.Write([]byte(`{"spreadsheetId":"sheet-1","updates":{"updatedRange":"Sheet1!A2:F2","updatedRows":1}}`))
			return
		}
		w.Write([]byte(`{"error":{"code":400,"message":"Unable to parse range"}}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestAppender(t *testing.T, srv *httptest.Server, opts ...Option) *Appender {
	t.Helper()
	opts = append([]Option{
		WithSpreadsheetID("sheet-1"),
		WithClientOptions(option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication(), option.WithHTTPClient(srv.Client())),
	}, opts...)
	a, err := NewAppender(context.Background(), opts...)
	require.NoError(t, err)
	return a
}

func TestAppendRecord(t *testing.T) {
	srv, calls := newSheetsServer(t, http.StatusOK)
	a := newTestAppender(t, srv)

	row := []string{"51999888777", "Ana", "Firu", "perro", "chequeo anual", "2026-03-14T14:26:53.589Z"}
	require.NoError(t, a.AppendRecord(context.Background(), row))

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.True(t, strings.HasSuffix(call.path, "/spreadsheets/sheet-1/values/Sheet1:append"), call.path)
	assert.Equal(t, "RAW", call.query["valueInputOption"])
	assert.Equal(t, "INSERT_ROWS", call.query["insertDataOption"])

	values, ok := call.body["values"].([]any)
	require.True(t, ok)
	require.Len(t, values, 1)
	assert.Equal(t, []any{"51999888777", "Ana", "Firu", "perro", "chequeo anual", "2026-03-14T14:26:53.589Z"}, values[0])
}

func TestAppendRecordCustomRange(t *testing.T) {
	srv, calls := newSheetsServer(t, http.StatusOK)
	a := newTestAppender(t, srv, WithRange("Citas"))

	require.NoError(t, a.AppendRecord(context.Background(), []string{"1"}))
	require.Len(t, *calls, 1)
	assert.True(t, strings.HasSuffix((*calls)[0].path, "/values/Citas:append"))
}

func TestAppendRecordAPIError(t *testing.T) {
	srv, _ := newSheetsServer(t, http.StatusBadRequest)
	a := newTestAppender(t, srv)

	err := a.AppendRecord(context.Background(), []string{"1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sheet-1")
}

func TestAppendRecordEmpty(t *testing.T) {
	srv, calls := newSheetsServer(t, http.StatusOK)
	a := newTestAppender(t, srv)

	assert.ErrorIs(t, a.AppendRecord(context.Background(), nil), ErrEmptyRecord)
	assert.Empty(t, *calls)
}

func TestNewAppenderRequiresSpreadsheetID(t *testing.T) {
	_, err := NewAppender(context.Background())
	assert.ErrorIs(t, err, ErrSpreadsheetIDNotSet)
}
