package plugins

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingInjector struct {
	moves   [][2]float32
	clicks  []MouseButton
	keyTaps []string
}

func (r *recordingInjector) MouseMove(dx, dy float32)    { r.moves = append(r.moves, [2]float32{dx, dy}) }
func (r *recordingInjector) MouseScroll(dx, dy float32)  {}
func (r *recordingInjector) MouseClick(b MouseButton)    { r.clicks = append(r.clicks, b) }
func (r *recordingInjector) MouseHold(b MouseButton)     {}
func (r *recordingInjector) KeyTap(mods []Modifier, special *SpecialKey, text string) {
	r.keyTaps = append(r.keyTaps, text)
}

func TestMousepadUpdateStateDrivesInjectorWhenEnabled(t *testing.T) {
	rec := &recordingInjector{}
	m := NewMousepad(rec)

	dx, dy := float32(1.5), float32(-2.0)
	payload := MousepadPayload{DX: &dx, DY: &dy}
	state, err := m.UpdateState(payload, nil)
	require.NoError(t, err)
	require.Len(t, rec.moves, 1)

	var st MousepadState
	require.NoError(t, json.Unmarshal(state, &st))
	require.True(t, st.HandleMouseEvents)
}

func TestMousepadUpdateStateRespectsDisabledFlags(t *testing.T) {
	rec := &recordingInjector{}
	m := NewMousepad(rec)

	disabled, err := json.Marshal(MousepadState{HandleMouseEvents: false, HandleKeyboardEvents: false})
	require.NoError(t, err)

	single := true
	payload := MousepadPayload{SingleClick: &single}
	_, err = m.UpdateState(payload, disabled)
	require.NoError(t, err)
	require.Empty(t, rec.clicks, "injector should not be driven while disabled")
}

func TestMousepadIsEnabledDefaultsTrue(t *testing.T) {
	m := NewMousepad(nil)
	require.True(t, m.IsEnabled(nil))
}
