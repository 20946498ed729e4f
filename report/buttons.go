package report

// ButtonState is the raw 24-bit button mask from a standard input report,
// kept in wire order: byte 0 right-side buttons, byte 1 shared buttons,
// byte 2 left-side buttons.
type ButtonState [3]byte

// Button addresses one button: the high byte selects the ButtonState byte
// (0x000, 0x100 or 0x200) and the low byte is the bit within it.
type Button int16

// Byte 0: right-side buttons.
const (
	ButtonY Button = 0x000 + (1 << iota)
	ButtonX
	ButtonB
	ButtonA
	ButtonRightSR
	ButtonRightSL
	ButtonR
	ButtonZR
)

// Byte 1: shared buttons.
const (
	ButtonMinus Button = 0x100 + (1 << iota)
	ButtonPlus
	ButtonRightStick
	ButtonLeftStick
	ButtonHome
	ButtonCapture
	buttonUnused
	ButtonChargingGrip
)

// Byte 2: left-side buttons.
const (
	ButtonDown Button = 0x200 + (1 << iota)
	ButtonUp
	ButtonRight
	ButtonLeft
	ButtonLeftSR
	ButtonLeftSL
	ButtonL
	ButtonZL
)

var buttonNames = map[Button]string{
	ButtonY:            "Y",
	ButtonX:            "X",
	ButtonB:            "B",
	ButtonA:            "A",
	ButtonRightSR:      "R-SR",
	ButtonRightSL:      "R-SL",
	ButtonR:            "R",
	ButtonZR:           "ZR",
	ButtonMinus:        "-",
	ButtonPlus:         "+",
	ButtonRightStick:   "RStick",
	ButtonLeftStick:    "LStick",
	ButtonHome:         "Home",
	ButtonCapture:      "Capture",
	ButtonChargingGrip: "ChargingGrip",
	ButtonDown:         "Down",
	ButtonUp:           "Up",
	ButtonRight:        "Right",
	ButtonLeft:         "Left",
	ButtonLeftSR:       "L-SR",
	ButtonLeftSL:       "L-SL",
	ButtonL:            "L",
	ButtonZL:           "ZL",
}

func (b Button) String() string { return buttonNames[b] }

// Buttons lists every addressable button in wire order.
var Buttons = []Button{
	ButtonY, ButtonX, ButtonB, ButtonA,
	ButtonRightSR, ButtonRightSL, ButtonR, ButtonZR,
	ButtonMinus, ButtonPlus, ButtonRightStick, ButtonLeftStick,
	ButtonHome, ButtonCapture, ButtonChargingGrip,
	ButtonDown, ButtonUp, ButtonRight, ButtonLeft,
	ButtonLeftSR, ButtonLeftSL, ButtonL, ButtonZL,
}

// ButtonsFromSlice copies three button bytes from a standard input report.
func ButtonsFromSlice(b []byte) ButtonState {
	return ButtonState{b[0], b[1], b[2]}
}

// Get reports whether the given button is held.
func (s ButtonState) Get(b Button) bool {
	return s[(b&0x0300)>>8]&byte(b&0xFF) != 0
}

// Set returns a copy of s with the given button forced to state.
func (s ButtonState) Set(b Button, state bool) ButtonState {
	s[(b&0x0300)>>8] &^= byte(b & 0xFF)
	if state {
		s[(b&0x0300)>>8] |= byte(b & 0xFF)
	}
	return s
}

// Union returns all positions held in either state.
func (s ButtonState) Union(other ButtonState) ButtonState {
	return ButtonState{s[0] | other[0], s[1] | other[1], s[2] | other[2]}
}

// Intersect returns the positions held in both states.
func (s ButtonState) Intersect(other ButtonState) ButtonState {
	return ButtonState{s[0] & other[0], s[1] & other[1], s[2] & other[2]}
}

// DiffMask has a bit set everywhere s differs from other.
func (s ButtonState) DiffMask(other ButtonState) ButtonState {
	return ButtonState{s[0] ^ other[0], s[1] ^ other[1], s[2] ^ other[2]}
}

// Any reports whether any button is held.
func (s ButtonState) Any() bool {
	return s[0] != 0 || s[1] != 0 || s[2] != 0
}

// Held lists the buttons currently held, in wire order.
func (s ButtonState) Held() []Button {
	var out []Button
	for _, b := range Buttons {
		if s.Get(b) {
			out = append(out, b)
		}
	}
	return out
}

func (s ButtonState) String() string {
	held := s.Held()
	if len(held) == 0 {
		return "none"
	}
	out := held[0].String()
	for _, b := range held[1:] {
		out += "+" + b.String()
	}
	return out
}
