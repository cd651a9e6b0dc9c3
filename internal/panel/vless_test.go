package panel

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/creamcroissant/xprovision/internal/panel/xui"
)

func newVlessFixture(t *testing.T) (*fakePanel, *VlessRealityAdapter, Session) {
	t.Helper()
	fake := newFakePanel(t)
	fake.AddInbound(xui.Inbound{ID: 5, Port: 8443, Protocol: "vless", Settings: `{"clients":[]}`, StreamSettings: realityStream})
	adapter := NewVlessRealityAdapter(VlessOptions{HTTPClient: fake.HTTPClient()})
	session, err := adapter.Login(context.Background(), fake.Server(1, ProtocolVlessReality, 5))
	require.NoError(t, err)
	return fake, adapter, session
}

func TestVlessCreateClientUsesFirstAcceptedShape(t *testing.T) {
	fake, adapter, session := newVlessFixture(t)
	identity := NewIdentity(7)
	expiry := time.Now().Add(24 * time.Hour)

	remote, err := adapter.CreateClient(context.Background(), session, 5, identity, expiry)
	require.NoError(t, err)
	assert.Equal(t, "object", remote.Strategy)

	bodies := fake.AddBodies()
	require.Len(t, bodies, 1)
	client := gjson.Get(bodies[0].Settings, "clients")
	assert.True(t, client.IsObject())
	assert.Equal(t, identity.ID, client.Get("id").String())
	assert.Equal(t, identity.Label, client.Get("email").String())
	assert.Equal(t, RealityFlow, client.Get("flow").String())
	assert.Equal(t, expiry.UnixMilli(), client.Get("expiryTime").Int())
}

func TestVlessCreateClientFallsBackToListShape(t *testing.T) {
	fake, adapter, session := newVlessFixture(t)
	fake.RejectShapes(true, false)

	remote, err := adapter.CreateClient(context.Background(), session, 5, NewIdentity(7), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "list", remote.Strategy)

	bodies := fake.AddBodies()
	require.Len(t, bodies, 2)
	assert.True(t, gjson.Get(bodies[1].Settings, "clients").IsArray())
}

func TestVlessCreateClientFailsWhenEveryShapeIsRefused(t *testing.T) {
	fake, adapter, session := newVlessFixture(t)
	fake.RejectShapes(true, true)

	_, err := adapter.CreateClient(context.Background(), session, 5, NewIdentity(7), time.Now().Add(time.Hour))
	require.ErrorIs(t, err, ErrProvisioningFailed)
	assert.Len(t, fake.AddBodies(), 2)
}

func TestVlessCreateClientHonoursConfiguredOrder(t *testing.T) {
	fake := newFakePanel(t)
	fake.AddInbound(xui.Inbound{ID: 5, Port: 8443, StreamSettings: realityStream})
	strategies, err := StrategiesByName([]string{"list"})
	require.NoError(t, err)
	adapter := NewVlessRealityAdapter(VlessOptions{HTTPClient: fake.HTTPClient(), Strategies: strategies})
	session, err := adapter.Login(context.Background(), fake.Server(1, ProtocolVlessReality, 5))
	require.NoError(t, err)

	remote, err := adapter.CreateClient(context.Background(), session, 5, NewIdentity(1), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "list", remote.Strategy)
	assert.Len(t, fake.AddBodies(), 1)

	_, err = StrategiesByName([]string{"tuple"})
	assert.Error(t, err)
}

func TestVlessCreateClientUnknownInbound(t *testing.T) {
	fake, adapter, session := newVlessFixture(t)

	_, err := adapter.CreateClient(context.Background(), session, 99, NewIdentity(7), time.Now())
	require.ErrorIs(t, err, ErrInboundNotFound)
	assert.Empty(t, fake.AddBodies())
}

func TestVlessCreateClientRejectsIncompleteReality(t *testing.T) {
	fake, adapter, session := newVlessFixture(t)
	fake.AddInbound(xui.Inbound{ID: 6, Port: 443, StreamSettings: `{"security":"reality","realitySettings":{"serverNames":["a.example"],"shortIds":[""]}}`})

	_, err := adapter.CreateClient(context.Background(), session, 6, NewIdentity(7), time.Now())
	require.ErrorIs(t, err, ErrProvisioningFailed)
	assert.Empty(t, fake.AddBodies(), "nothing may be created when the uri cannot be built")
}

func TestVlessCreateClientReportsRejectedSession(t *testing.T) {
	fake, adapter, session := newVlessFixture(t)
	fake.ExpireSessions()

	_, err := adapter.CreateClient(context.Background(), session, 5, NewIdentity(7), time.Now())
	require.ErrorIs(t, err, ErrSessionRejected)
}

func TestVlessBuildURI(t *testing.T) {
	adapter := NewVlessRealityAdapter(VlessOptions{})
	identity := ClientIdentity{ID: "3f1c2b9e-0000-4000-8000-000000000001", Label: "u7_deadbeef", Prefix: "u7_"}
	remote := &RemoteClient{
		Inbound:  &Inbound{ID: 5, Port: 8443, StreamSettings: realityStream},
		Identity: identity,
	}

	uri, err := adapter.BuildURI("edge.example.net", remote)
	require.NoError(t, err)

	u, err := url.Parse(uri)
	require.NoError(t, err)
	assert.Equal(t, "vless", u.Scheme)
	assert.Equal(t, identity.ID, u.User.Username())
	assert.Equal(t, "edge.example.net:8443", u.Host)
	assert.Equal(t, identity.Label, u.Fragment)
	q := u.Query()
	assert.Equal(t, "tcp", q.Get("type"))
	assert.Equal(t, "reality", q.Get("security"))
	assert.Equal(t, "PUBKEY", q.Get("pbk"))
	assert.Equal(t, "chrome", q.Get("fp"))
	assert.Equal(t, "www.example.com", q.Get("sni"))
	assert.Equal(t, "ab12", q.Get("sid"))
	assert.Equal(t, "/", q.Get("spx"))
	assert.Equal(t, RealityFlow, q.Get("flow"))

	ref, err := adapter.ClientRef(uri)
	require.NoError(t, err)
	assert.Equal(t, identity.ID, ref)
}

func TestVlessDeleteClientByUUID(t *testing.T) {
	fake, adapter, session := newVlessFixture(t)

	removed, err := adapter.DeleteClient(context.Background(), session, 5, "3f1c2b9e-0000-4000-8000-000000000001")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, []string{"3f1c2b9e-0000-4000-8000-000000000001"}, fake.Deleted())
}

func TestVlessLoginWrongCredentials(t *testing.T) {
	fake := newFakePanel(t)
	adapter := NewVlessRealityAdapter(VlessOptions{HTTPClient: fake.HTTPClient()})
	server := fake.Server(1, ProtocolVlessReality, 5)
	server.PanelPassword = "wrong"

	_, err := adapter.Login(context.Background(), server)
	require.ErrorIs(t, err, ErrAuth)
}
