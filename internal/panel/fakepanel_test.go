package panel

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/creamcroissant/xprovision/internal/panel/xui"
	"github.com/creamcroissant/xprovision/internal/repository"
)

const (
	fakeSecret   = "secret"
	fakeUser     = "admin"
	fakePassword = "hunter2"
)

// fakePanel is an in-memory 3x-ui speaking the subset of the API the
// adapters use.
type fakePanel struct {
	t      *testing.T
	server *httptest.Server

	mu           sync.Mutex
	inbounds     map[int64]*xui.Inbound
	logins       int
	token        string
	cookieName   string
	rejectObject bool
	rejectList   bool
	addBodies    []xui.ClientRequest
	deleted      []string
}

func newFakePanel(t *testing.T) *fakePanel {
	t.Helper()
	p := &fakePanel{
		t:          t,
		inbounds:   make(map[int64]*xui.Inbound),
		cookieName: xui.CookieName,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /"+fakeSecret+"/login", p.login)
	mux.HandleFunc("GET /"+fakeSecret+"/panel/api/inbounds/list", p.authed(p.list))
	mux.HandleFunc("GET /"+fakeSecret+"/panel/api/inbounds/get/{id}", p.authed(p.get))
	mux.HandleFunc("POST /"+fakeSecret+"/panel/api/inbounds/addClient", p.authed(p.addClient))
	mux.HandleFunc("POST /"+fakeSecret+"/panel/api/inbounds/{id}/delClient/{ref}", p.authed(p.delClient))
	p.server = httptest.NewTLSServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

// Server returns a registry row pointing at the fake panel.
func (p *fakePanel) Server(id int64, protocol Protocol, inboundID int64) *repository.Server {
	host, port, err := net.SplitHostPort(p.server.Listener.Addr().String())
	require.NoError(p.t, err)
	portNum, err := strconv.Atoi(port)
	require.NoError(p.t, err)
	return &repository.Server{
		ID:            id,
		Name:          "fake-" + strconv.FormatInt(id, 10),
		Address:       host,
		Port:          portNum,
		SecretPath:    fakeSecret,
		PanelUsername: fakeUser,
		PanelPassword: fakePassword,
		Protocol:      string(protocol),
		InboundID:     inboundID,
		Enabled:       true,
	}
}

func (p *fakePanel) HTTPClient() *http.Client {
	return p.server.Client()
}

func (p *fakePanel) AddInbound(in xui.Inbound) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inbounds[in.ID] = &in
}

// RejectShapes makes addClient refuse the given settings shapes.
func (p *fakePanel) RejectShapes(object, list bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejectObject = object
	p.rejectList = list
}

// UseLegacyCookie issues the pre-rename "session" cookie.
func (p *fakePanel) UseLegacyCookie() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookieName = xui.LegacyCookieName
}

// ExpireSessions makes every issued cookie invalid.
func (p *fakePanel) ExpireSessions() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = ""
}

func (p *fakePanel) Logins() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logins
}

func (p *fakePanel) AddBodies() []xui.ClientRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]xui.ClientRequest(nil), p.addBodies...)
}

func (p *fakePanel) Deleted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.deleted...)
}

func (p *fakePanel) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || r.PostForm.Get("username") != fakeUser || r.PostForm.Get("password") != fakePassword {
		writeEnvelope(w, false, "wrong credentials", nil)
		return
	}
	p.mu.Lock()
	p.logins++
	p.token = "tok-" + strconv.Itoa(p.logins)
	token, name := p.token, p.cookieName
	p.mu.Unlock()
	http.SetCookie(w, &http.Cookie{Name: name, Value: token, Path: "/"})
	writeEnvelope(w, true, "", nil)
}

func (p *fakePanel) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		cookie, err := r.Cookie(p.cookieName)
		valid := err == nil && p.token != "" && cookie.Value == p.token
		p.mu.Unlock()
		if !valid {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (p *fakePanel) list(w http.ResponseWriter, _ *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]xui.Inbound, 0, len(p.inbounds))
	for _, in := range p.inbounds {
		out = append(out, *in)
	}
	writeEnvelope(w, true, "", out)
}

func (p *fakePanel) get(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	p.mu.Lock()
	defer p.mu.Unlock()
	in, ok := p.inbounds[id]
	if !ok {
		writeEnvelope(w, false, "record not found", nil)
		return
	}
	writeEnvelope(w, true, "", in)
}

func (p *fakePanel) addClient(w http.ResponseWriter, r *http.Request) {
	var req xui.ClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, false, "bad body", nil)
		return
	}
	clients := gjson.Get(req.Settings, "clients")
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addBodies = append(p.addBodies, req)
	if (clients.IsObject() && p.rejectObject) || (clients.IsArray() && p.rejectList) {
		writeEnvelope(w, false, "unexpected settings shape", nil)
		return
	}
	writeEnvelope(w, true, "", nil)
}

func (p *fakePanel) delClient(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, r.PathValue("ref"))
	writeEnvelope(w, true, "", nil)
}

func writeEnvelope(w http.ResponseWriter, success bool, msg string, obj any) {
	raw, _ := json.Marshal(obj)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(xui.Response{Success: success, Msg: msg, Obj: raw})
}

const realityStream = `{"network":"tcp","security":"reality","realitySettings":{"serverNames":["www.example.com"],"shortIds":["ab12"],"settings":{"publicKey":"PUBKEY","fingerprint":"chrome"}}}`
