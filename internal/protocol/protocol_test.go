package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRecognizedTypes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want Event
	}{
		{
			name: "config",
			raw: `{"ID":"c1","Type":"PayloadConfig","Payload":{"WorkerUserIDs":["@alice:hs1","@bob:hs2"],
				"Config":{"Homeservers":[{"Domain":"hs1","BaseURL":"http://hs1"},{"Domain":"hs2"}],
				"Test":{"FederationDelayMs":500,"NumUsers":2}}}}`,
			want: &ConfigPayload{
				WorkerUserIDs: []string{"@alice:hs1", "@bob:hs2"},
				Config: ChaosConfig{
					Homeservers: []HomeserverConfig{{Domain: "hs1", BaseURL: "http://hs1"}, {Domain: "hs2"}},
					Test:        TestConfig{FederationDelayMs: 500, NumUsers: 2},
				},
			},
		},
		{
			name: "worker action",
			raw:  `{"ID":"a","Type":"PayloadWorkerAction","Payload":{"UserID":"@alice:hs1","RoomID":"!r","Action":"send","Body":"green apple"}}`,
			want: &WorkerActionPayload{UserID: "@alice:hs1", RoomID: "!r", Action: "send", Body: "green apple"},
		},
		{
			name: "tick",
			raw:  `{"ID":"t","Type":"PayloadTickGeneration","Payload":{"Number":4,"Joins":1,"Sends":2,"Leaves":3}}`,
			want: &TickGenerationPayload{Number: 4, Joins: 1, Sends: 2, Leaves: 3},
		},
		{
			name: "convergence",
			raw:  `{"ID":"v","Type":"PayloadConvergence","Payload":{"State":"failure","Error":"diverged"}}`,
			want: &ConvergencePayload{State: "failure", Error: "diverged"},
		},
		{
			name: "netsplit",
			raw:  `{"ID":"n","Type":"PayloadNetsplit","Payload":{"Started":true}}`,
			want: &NetsplitPayload{Started: true},
		},
		{
			name: "restart",
			raw:  `{"ID":"r","Type":"PayloadRestart","Payload":{"Domain":"hs1","Finished":false}}`,
			want: &RestartPayload{Domain: "hs1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Kind(), got.Kind())
		})
	}
}

func TestDecodeFederationRequestAdoptsEnvelopeID(t *testing.T) {
	t.Parallel()

	raw := `{"ID":"r1","Type":"PayloadFederationRequest","Payload":{"ID":"ignored","Method":"PUT","URL":"https://hs2/request","Body":{"pdus":[]},"Blocked":false}}`
	ev, err := Decode([]byte(raw))
	require.NoError(t, err)

	req, ok := ev.(*FederationRequestPayload)
	require.True(t, ok)
	assert.Equal(t, "r1", req.ID)
	assert.Equal(t, "PUT", req.Method)
	assert.Equal(t, "https://hs2/request", req.URL)
	assert.JSONEq(t, `{"pdus":[]}`, string(req.Body))
	assert.False(t, req.Blocked)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"not json":               `{"ID":`,
		"payload not object":     `{"ID":"x","Type":"PayloadTickGeneration","Payload":[1,2]}`,
		"missing payload":        `{"ID":"x","Type":"PayloadNetsplit"}`,
		"null payload":           `{"ID":"x","Type":"PayloadNetsplit","Payload":null}`,
		"wrong field type":       `{"ID":"x","Type":"PayloadTickGeneration","Payload":{"Number":"four"}}`,
		"action without user":    `{"ID":"x","Type":"PayloadWorkerAction","Payload":{"Action":"join"}}`,
		"request without id":     `{"Type":"PayloadFederationRequest","Payload":{"Method":"GET","URL":"u"}}`,
		"restart without domain": `{"ID":"x","Type":"PayloadRestart","Payload":{"Finished":true}}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			ev, err := Decode([]byte(raw))
			require.ErrorIs(t, err, ErrMalformed)
			assert.Nil(t, ev)
		})
	}
}

func TestDecodeUnknownType(t *testing.T) {
	t.Parallel()

	ev, err := Decode([]byte(`{"ID":"x","Type":"PayloadSnapshot","Payload":{}}`))
	require.ErrorIs(t, err, ErrUnknownType)
	assert.Nil(t, ev)
}

func TestCommandEncoding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cmd  Command
		name string
		want string
	}{
		{Begin(), "begin", `{"Begin":true}`},
		{CheckConvergence(), "check_convergence", `{"CheckConvergence":true}`},
		{SetNetsplit(true), "netsplit", `{"Netsplit":true}`},
		{SetNetsplit(false), "netsplit", `{"Netsplit":false}`},
		{RestartServer("hs1"), "restart", `{"RestartServers":["hs1"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			b, err := tt.cmd.Encode()
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(b))
			assert.Equal(t, tt.name, tt.cmd.Name())
		})
	}
}

func TestEventStrings(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Tick 3: (Joins=1, Sends=2, Leaves=0)",
		(&TickGenerationPayload{Number: 3, Joins: 1, Sends: 2}).String())
	assert.Equal(t, "BLOCKED: PUT https://hs2/send",
		(&FederationRequestPayload{Method: "PUT", URL: "https://hs2/send", Blocked: true}).String())
	assert.Equal(t, "========== NETSPLIT! =========", (&NetsplitPayload{Started: true}).String())
	assert.Equal(t, "Restarting server 'hs1'", (&RestartPayload{Domain: "hs1"}).String())
	assert.Equal(t, "PayloadRestart", KindRestart.String())
	assert.Equal(t, "Kind(99)", Kind(99).String())
}

func TestChaosConfigJSONFieldNames(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(ChaosConfig{Homeservers: []HomeserverConfig{{Domain: "hs1"}}})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"Homeservers":[{"BaseURL":"","Domain":"hs1"}]`)
	assert.Equal(t, []string{"hs1"}, ChaosConfig{Homeservers: []HomeserverConfig{{Domain: "hs1"}}}.Domains())
}
