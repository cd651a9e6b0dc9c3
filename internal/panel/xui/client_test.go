package xui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestAddClientsPostsClientEntries(t *testing.T) {
	var got ClientRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/xyz/login", func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: CookieName, Value: "tok", Path: "/"})
		_, _ = w.Write([]byte(`{"success":true,"msg":"","obj":null}`))
	})
	mux.HandleFunc("/xyz/panel/api/inbounds/addClient", func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie(CookieName); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"msg":"ok","obj":null}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL+"/xyz/", "admin", "pw")
	require.NoError(t, err)
	require.NoError(t, client.Login(context.Background()))

	entry := ClientEntry{ID: "uuid-1", Flow: "xtls-rprx-vision", Email: "u7_abcd1234", ExpiryTime: 1772366400000, Enable: true, SubID: "uuid-1"}
	require.NoError(t, client.AddClients(context.Background(), 5, []ClientEntry{entry}))

	assert.Equal(t, int64(5), got.ID)
	clients := gjson.Get(got.Settings, "clients")
	require.True(t, clients.IsArray())
	assert.Equal(t, "uuid-1", clients.Get("0.id").String())
	assert.Equal(t, "u7_abcd1234", clients.Get("0.email").String())
	assert.Equal(t, int64(1772366400000), clients.Get("0.expiryTime").Int())
	assert.False(t, clients.Get("0.password").Exists(), "empty password is omitted")

	require.NoError(t, client.AddClients(context.Background(), 5, entry))
	assert.True(t, gjson.Get(got.Settings, "clients").IsObject())
}
