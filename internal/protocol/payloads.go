package protocol

import (
	"encoding/json"
	"fmt"
)

// Wire type names carried in Envelope.Type.
const (
	TypeConfig            = "PayloadConfig"
	TypeWorkerAction      = "PayloadWorkerAction"
	TypeTickGeneration    = "PayloadTickGeneration"
	TypeConvergence       = "PayloadConvergence"
	TypeNetsplit          = "PayloadNetsplit"
	TypeFederationRequest = "PayloadFederationRequest"
	TypeRestart           = "PayloadRestart"
)

// Kind identifies one member of the closed Event union.
type Kind int

const (
	KindConfig Kind = iota + 1
	KindWorkerAction
	KindTickGeneration
	KindConvergence
	KindNetsplit
	KindFederationRequest
	KindRestart
)

var kindTypes = map[Kind]string{
	KindConfig:            TypeConfig,
	KindWorkerAction:      TypeWorkerAction,
	KindTickGeneration:    TypeTickGeneration,
	KindConvergence:       TypeConvergence,
	KindNetsplit:          TypeNetsplit,
	KindFederationRequest: TypeFederationRequest,
	KindRestart:           TypeRestart,
}

// String returns the wire type name for k.
func (k Kind) String() string {
	if t, ok := kindTypes[k]; ok {
		return t
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Event is a decoded inbound payload. The set of implementations is closed:
// only the payload types in this package satisfy it.
type Event interface {
	Kind() Kind
	fmt.Stringer
	isEvent()
}

// HomeserverConfig is the subset of a harness homeserver entry the console reads.
type HomeserverConfig struct {
	BaseURL string `yaml:"url"`
	Domain  string `yaml:"domain"`
}

// TestConfig is the subset of the harness test section the console reads.
// Zero values mean "not set" on the wire.
type TestConfig struct {
	Seed              int64  `yaml:"seed"`
	NumUsers          int    `yaml:"num_users"`
	NumRooms          int    `yaml:"num_rooms"`
	OpsPerTick        int    `yaml:"ops_per_tick"`
	RoomVersion       string `yaml:"room_version"`
	FederationDelayMs int    `yaml:"federation_delay_ms"`
	Netsplits         struct {
		DurationSecs int `yaml:"duration_secs"`
		FreeSecs     int `yaml:"free_secs"`
	} `yaml:"netsplits"`
	Restarts struct {
		IntervalSecs int      `yaml:"interval_secs"`
		RoundRobin   []string `yaml:"round_robin"`
	} `yaml:"restarts"`
	Convergence struct {
		Enabled            bool `yaml:"enabled"`
		IntervalSecs       int  `yaml:"interval_secs"`
		CheckEveryNTicks   int  `yaml:"check_every_n_ticks"`
		BufferDurationSecs int  `yaml:"buffer_secs"`
	} `yaml:"convergence"`
}

// ChaosConfig mirrors the harness configuration. The JSON field names are
// the Go field names because the harness marshals its config untagged.
type ChaosConfig struct {
	Verbose     bool               `yaml:"verbose"`
	WSPort      int                `yaml:"ws_port"`
	Homeservers []HomeserverConfig `yaml:"homeservers"`
	Test        TestConfig         `yaml:"test"`
}

// Domains lists the homeserver domains in config order.
func (c ChaosConfig) Domains() []string {
	out := make([]string, 0, len(c.Homeservers))
	for _, hs := range c.Homeservers {
		out = append(out, hs.Domain)
	}
	return out
}

// ConfigPayload is sent once by the harness to every new connection.
type ConfigPayload struct {
	WorkerUserIDs []string
	Config        ChaosConfig
}

func (*ConfigPayload) Kind() Kind { return KindConfig }
func (*ConfigPayload) isEvent()   {}

func (p *ConfigPayload) String() string {
	return fmt.Sprintf("Config: %d homeservers, %d workers, federation delay %dms",
		len(p.Config.Homeservers), len(p.WorkerUserIDs), p.Config.Test.FederationDelayMs)
}

// WorkerActionPayload reports the latest action a worker performed in a room.
type WorkerActionPayload struct {
	UserID string
	RoomID string
	Action string
	Body   string
}

func (*WorkerActionPayload) Kind() Kind { return KindWorkerAction }
func (*WorkerActionPayload) isEvent()   {}

func (p *WorkerActionPayload) String() string {
	return fmt.Sprintf("WorkerAction: %s %s %s %s", p.UserID, p.Action, p.RoomID, p.Body)
}

// TickGenerationPayload summarizes one tick of generated joins, sends and leaves.
type TickGenerationPayload struct {
	Number int
	Joins  int
	Sends  int
	Leaves int
}

func (*TickGenerationPayload) Kind() Kind { return KindTickGeneration }
func (*TickGenerationPayload) isEvent()   {}

func (p *TickGenerationPayload) String() string {
	return fmt.Sprintf("Tick %d: (Joins=%d, Sends=%d, Leaves=%d)", p.Number, p.Joins, p.Sends, p.Leaves)
}

// ConvergencePayload reports a convergence check state, with Error set on failure.
type ConvergencePayload struct {
	State string
	Error string
}

func (*ConvergencePayload) Kind() Kind { return KindConvergence }
func (*ConvergencePayload) isEvent()   {}

func (p *ConvergencePayload) String() string {
	return fmt.Sprintf("Convergence[%s]: err=%v", p.State, p.Error)
}

// NetsplitPayload reports whether federation is currently partitioned.
type NetsplitPayload struct {
	Started bool
}

func (*NetsplitPayload) Kind() Kind { return KindNetsplit }
func (*NetsplitPayload) isEvent()   {}

func (p *NetsplitPayload) String() string {
	if p.Started {
		return "========== NETSPLIT! ========="
	}
	return "========== NETSPLIT RESOLVED! ========="
}

// FederationRequestPayload describes one intercepted server-server request.
// ID is not part of the payload on the wire; the decoder copies the
// envelope ID into it.
type FederationRequestPayload struct {
	ID      string `json:"-"`
	Method  string
	URL     string
	Body    json.RawMessage
	Blocked bool
}

func (*FederationRequestPayload) Kind() Kind { return KindFederationRequest }
func (*FederationRequestPayload) isEvent()   {}

func (p *FederationRequestPayload) String() string {
	if p.Blocked {
		return fmt.Sprintf("BLOCKED: %s %s", p.Method, p.URL)
	}
	return fmt.Sprintf("%s %s", p.Method, p.URL)
}

// RestartPayload reports a homeserver restart starting or finishing.
type RestartPayload struct {
	Domain   string
	Finished bool
}

func (*RestartPayload) Kind() Kind { return KindRestart }
func (*RestartPayload) isEvent()   {}

func (p *RestartPayload) String() string {
	if p.Finished {
		return fmt.Sprintf("Restarted server '%s'", p.Domain)
	}
	return fmt.Sprintf("Restarting server '%s'", p.Domain)
}

// Describe returns the log line for ev, or "" when ev is nil.
func Describe(ev Event) string {
	if ev == nil {
		return ""
	}
	return ev.String()
}
