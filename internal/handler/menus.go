package handler

import (
	"strings"

	"github.com/motorctl/motor-bot/internal/model"
)

// Callback data carried by inline buttons.
const (
	cbSignUp           = "SIGN_UP"
	cbStartSingle      = "START_SINGLE"
	cbStartInfinite    = "START_INFINITE"
	cbStopInfinite     = "STOP_INFINITE"
	cbSetSingleSpeed   = "SET_SINGLE_SPEED"
	cbSetInfiniteSpeed = "SET_INFINITE_SPEED"
	cbBackToMain       = "BACK_TO_MAIN"
	cbDevices          = "DEVICES"
	cbAddDevice        = "ADD_DEVICE"
	cbProfile          = "PROFILE"
	cbConfirmAdd       = "CONFIRM_ADD"
	cbCancelAdd        = "CANCEL_ADD"

	cbIncPrefix    = "INC_"
	cbDecPrefix    = "DEC_"
	cbSelectPrefix = "SELECT:"
	cbRemovePrefix = "REMOVE:"
)

// Button is one inline keyboard button.
type Button struct {
	Text string
	Data string
}

// Keyboard is an inline keyboard, one slice per row.
type Keyboard [][]Button

func mainMenu() Keyboard {
	return Keyboard{
		{{Text: "Start Single", Data: cbStartSingle}},
		{{Text: "Start Infinite", Data: cbStartInfinite}},
		{{Text: "Stop Infinite", Data: cbStopInfinite}},
		{{Text: "Set Single Speed", Data: cbSetSingleSpeed}},
		{{Text: "Set Infinite Speed", Data: cbSetInfiniteSpeed}},
		{{Text: "My Devices", Data: cbDevices}, {Text: "Add Device", Data: cbAddDevice}},
		{{Text: "Profile", Data: cbProfile}},
	}
}

// speedLabel turns SINGLE_SPEED into "Single".
func speedLabel(kind model.SpeedKind) string {
	word := strings.SplitN(string(kind), "_", 2)[0]
	return word[:1] + strings.ToLower(word[1:])
}

func speedMenu(kind model.SpeedKind) Keyboard {
	label := speedLabel(kind)
	return Keyboard{
		{{Text: "Increase", Data: cbIncPrefix + label}},
		{{Text: "Decrease", Data: cbDecPrefix + label}},
		{{Text: "Back", Data: cbBackToMain}},
	}
}

func signUpMenu() Keyboard {
	return Keyboard{{{Text: "Sign Up", Data: cbSignUp}}}
}

func confirmAddMenu() Keyboard {
	return Keyboard{{
		{Text: "Confirm", Data: cbConfirmAdd},
		{Text: "Cancel", Data: cbCancelAdd},
	}}
}

func devicesMenu(devices []model.Device, selected string) Keyboard {
	kb := make(Keyboard, 0, len(devices)+1)
	for _, d := range devices {
		name := d.Name
		if d.SerialNumber == selected {
			name = "* " + name
		}
		kb = append(kb, []Button{
			{Text: name, Data: cbSelectPrefix + d.SerialNumber},
			{Text: "Remove", Data: cbRemovePrefix + d.SerialNumber},
		})
	}
	kb = append(kb, []Button{{Text: "Back", Data: cbBackToMain}})
	return kb
}
