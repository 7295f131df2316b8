package card

import "sync"

// Event is everything a session reports to its host. Events are delivered
// one at a time on the session worker.
type Event interface {
	isEvent()
}

// Sink receives session events.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

type (
	// ErrorEvent terminates a session in error.
	ErrorEvent struct{ Err error }

	// StateInfoEvent carries what can be read without a PIN.
	StateInfoEvent struct {
		State   CardState
		GUID    string
		Issuer  Issuer
		Version string
	}

	// SignedEvent carries one hex signature per input item, in input order.
	SignedEvent struct{ Signatures []string }

	// ProgressEvent reports completion between 0 and 1.
	ProgressEvent struct{ Value float64 }

	// PrivateKeyEvent carries the one-time exported key.
	PrivateKeyEvent struct {
		PrivateKey string
		Issuer     Issuer
	}

	// PublicInfoEvent aggregates the info group.
	PublicInfoEvent struct{ Info PublicInfo }

	// InvoiceEvent carries the fields a terminal displays.
	InvoiceEvent struct{ Invoice Invoice }

	// IncorrectPINEvent precedes the error of a rejected unlock.
	IncorrectPINEvent struct {
		Remaining int
		Max       int
	}

	// PINChangedEvent confirms a PIN change.
	PINChangedEvent struct{}

	// ProvisionedEvent confirms activation of a fresh card.
	ProvisionedEvent struct {
		Info PublicInfo
		PIN  string
	}

	// MessageEvent is free text for the host UI.
	MessageEvent struct{ Text string }
)

func (ErrorEvent) isEvent()        {}
func (StateInfoEvent) isEvent()    {}
func (SignedEvent) isEvent()       {}
func (ProgressEvent) isEvent()     {}
func (PrivateKeyEvent) isEvent()   {}
func (PublicInfoEvent) isEvent()   {}
func (InvoiceEvent) isEvent()      {}
func (IncorrectPINEvent) isEvent() {}
func (PINChangedEvent) isEvent()   {}
func (ProvisionedEvent) isEvent()  {}
func (MessageEvent) isEvent()      {}

// PublicInfo is the public identity of an unlocked card.
type PublicInfo struct {
	GUID           string
	PublicKey      string
	Issuer         Issuer
	PINRetries     int
	EdDSAPublicKey string
	State          CardState
	Version        string
}

// Invoice is what a terminal device reports.
type Invoice struct {
	Amount        string `json:"amount"`
	Address       string `json:"address"`
	AssetID       string `json:"assetID"`
	TransactionID string `json:"transactionID"`
}

// Recorder is a Sink that keeps every event. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
