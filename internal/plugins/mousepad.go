package plugins

import (
	"encoding/json"

	"github.com/deep-gaurav/rusty-connect/internal/protocol"
)

const capMousepadRequest = "kdeconnect.mousepad.request"

// SpecialKey enumerates the non-printable keys the mousepad payload
// can carry, matching the original plugin's fixed code table.
type SpecialKey uint32

const (
	SpecialKeyBackspace  SpecialKey = 1
	SpecialKeyTab        SpecialKey = 2
	SpecialKeyLeftArrow  SpecialKey = 4
	SpecialKeyUpArrow    SpecialKey = 5
	SpecialKeyRightArrow SpecialKey = 6
	SpecialKeyDownArrow  SpecialKey = 7
	SpecialKeyPageUp     SpecialKey = 8
	SpecialKeyPageDown   SpecialKey = 9
	SpecialKeyHome       SpecialKey = 10
	SpecialKeyEnd        SpecialKey = 11
	SpecialKeyReturn     SpecialKey = 12
	SpecialKeyDelete     SpecialKey = 13
	SpecialKeyEscape     SpecialKey = 14
	SpecialKeyF1         SpecialKey = 21
	SpecialKeyF12        SpecialKey = 32
)

// MousepadPayload is the body of a kdeconnect.mousepad.request
// envelope: a union of a relative mouse move/click/scroll event and a
// keyboard key-sequence event.
type MousepadPayload struct {
	DX          *float32    `json:"dx,omitempty"`
	DY          *float32    `json:"dy,omitempty"`
	SingleClick *bool       `json:"singleclick,omitempty"`
	SingleHold  *bool       `json:"singlehold,omitempty"`
	DoubleClick *bool       `json:"doubleclick,omitempty"`
	MiddleClick *bool       `json:"middleclick,omitempty"`
	RightClick  *bool       `json:"rightclick,omitempty"`
	Scroll      *bool       `json:"scroll,omitempty"`
	Key         *string     `json:"key,omitempty"`
	SpecialKey  *SpecialKey `json:"specialKey,omitempty"`
	Shift       *bool       `json:"shift,omitempty"`
	Ctrl        *bool       `json:"ctrl,omitempty"`
	Alt         *bool       `json:"alt,omitempty"`
}

// MousepadState is the in-memory plugin_states shape: whether each
// half of the plugin is allowed to act.
type MousepadState struct {
	HandleMouseEvents    bool `json:"handleMouseEvents"`
	HandleKeyboardEvents bool `json:"handleKeyboardEvents"`
}

func defaultMousepadState() MousepadState {
	return MousepadState{HandleMouseEvents: true, HandleKeyboardEvents: true}
}

// InputInjector is the side-effecting seam mousepad's update_state
// drives. The production daemon wires a no-op stub (real OS input
// injection is out of scope for this core); tests substitute a
// recorder.
type InputInjector interface {
	MouseMove(dx, dy float32)
	MouseScroll(dx, dy float32)
	MouseClick(button MouseButton)
	MouseHold(button MouseButton)
	KeyTap(modifiers []Modifier, special *SpecialKey, text string)
}

// MouseButton identifies which button a click/hold event targets.
type MouseButton int

const (
	MouseButtonLeft MouseButton = iota
	MouseButtonRight
	MouseButtonMiddle
)

// Modifier identifies a keyboard modifier held during a key event.
type Modifier int

const (
	ModifierShift Modifier = iota
	ModifierCtrl
	ModifierAlt
)

// NoopInjector discards every event. It is the production default
// until a concrete OS-level injector is wired by the desktop
// integration layer this core hands off to.
type NoopInjector struct{}

func (NoopInjector) MouseMove(float32, float32)             {}
func (NoopInjector) MouseScroll(float32, float32)           {}
func (NoopInjector) MouseClick(MouseButton)                 {}
func (NoopInjector) MouseHold(MouseButton)                  {}
func (NoopInjector) KeyTap([]Modifier, *SpecialKey, string) {}

// Mousepad forwards relative mouse and keyboard events to an injected
// InputInjector, gated per-device by MousepadState (spec §9 open
// question, SPEC_FULL §12).
type Mousepad struct {
	injector InputInjector
}

func NewMousepad(injector InputInjector) *Mousepad {
	if injector == nil {
		injector = NoopInjector{}
	}
	return &Mousepad{injector: injector}
}

func (m *Mousepad) Name() string                  { return "mousepad" }
func (m *Mousepad) IncomingCapabilities() []string { return []string{capMousepadRequest} }
func (m *Mousepad) OutgoingCapabilities() []string { return nil }

func (m *Mousepad) IsEnabled(config json.RawMessage) bool {
	if len(config) == 0 {
		return true
	}
	var cfg struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.Unmarshal(config, &cfg); err != nil {
		return true
	}
	return cfg.Enabled
}

func (m *Mousepad) Parse(env *protocol.Envelope, _ string) (interface{}, bool) {
	if env.Type != capMousepadRequest {
		return nil, false
	}
	var payload MousepadPayload
	if err := json.Unmarshal(env.Body, &payload); err != nil {
		return nil, false
	}
	return payload, true
}

func (m *Mousepad) ShouldSend(_ json.RawMessage, state json.RawMessage, _ interface{}) (json.RawMessage, bool) {
	return state, false
}

// UpdateState drives the injector according to the payload and the
// per-device enable flags, then returns the flags it acted on: the
// stored ones, or the all-enabled defaults when none are stored or
// they fail to decode. The payload itself never changes the flags.
func (m *Mousepad) UpdateState(payload interface{}, state json.RawMessage) (json.RawMessage, error) {
	mp, ok := payload.(MousepadPayload)
	if !ok {
		return state, nil
	}

	st := defaultMousepadState()
	if len(state) > 0 {
		if err := json.Unmarshal(state, &st); err != nil {
			st = defaultMousepadState()
		}
	}

	if st.HandleMouseEvents {
		m.driveMouse(mp)
	}
	if st.HandleKeyboardEvents {
		m.driveKeyboard(mp)
	}

	next, err := json.Marshal(st)
	if err != nil {
		return state, err
	}
	return next, nil
}

func (m *Mousepad) driveMouse(p MousepadPayload) {
	if boolVal(p.SingleClick) {
		m.injector.MouseClick(MouseButtonLeft)
	}
	if boolVal(p.RightClick) {
		m.injector.MouseClick(MouseButtonRight)
	}
	if boolVal(p.MiddleClick) {
		m.injector.MouseClick(MouseButtonMiddle)
	}
	if boolVal(p.DoubleClick) {
		m.injector.MouseClick(MouseButtonLeft)
		m.injector.MouseClick(MouseButtonLeft)
	}
	if boolVal(p.SingleHold) {
		m.injector.MouseHold(MouseButtonLeft)
	}
	if p.DX != nil && p.DY != nil {
		if boolVal(p.Scroll) {
			m.injector.MouseScroll(*p.DX, *p.DY)
		} else {
			m.injector.MouseMove(*p.DX, *p.DY)
		}
	}
}

func (m *Mousepad) driveKeyboard(p MousepadPayload) {
	if p.Key == nil && p.SpecialKey == nil {
		return
	}
	var modifiers []Modifier
	if boolVal(p.Alt) {
		modifiers = append(modifiers, ModifierAlt)
	}
	if boolVal(p.Shift) {
		modifiers = append(modifiers, ModifierShift)
	}
	if boolVal(p.Ctrl) {
		modifiers = append(modifiers, ModifierCtrl)
	}
	text := ""
	if p.Key != nil {
		text = *p.Key
	}
	m.injector.KeyTap(modifiers, p.SpecialKey, text)
}

func boolVal(b *bool) bool { return b != nil && *b }
