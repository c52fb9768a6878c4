package model

type SubscriptionTier int

const (
	SubscriptionFree    SubscriptionTier = 0
	SubscriptionPremium SubscriptionTier = 1
)

// SpeedKind selects which of a motor's two speed presets a command targets.
type SpeedKind string

const (
	SpeedSingle   SpeedKind = "SINGLE_SPEED"
	SpeedInfinite SpeedKind = "INFINITE_SPEED"
)

func (k SpeedKind) Valid() bool {
	return k == SpeedSingle || k == SpeedInfinite
}

// StartType is the run mode sent on "<serial>/start/<type>".
type StartType string

const (
	StartSingle   StartType = "single"
	StartInfinite StartType = "infinite"
)

func (t StartType) Valid() bool {
	return t == StartSingle || t == StartInfinite
}

// Setting names accepted on "<serial>/set/<setting>".
type Setting string

const (
	SettingSingleSpeed   Setting = "single_speed"
	SettingInfiniteSpeed Setting = "infinite_speed"
)

func (s Setting) Valid() bool {
	return s == SettingSingleSpeed || s == SettingInfiniteSpeed
}

// SettingFor maps a speed preset to the device setting that stores it.
func SettingFor(k SpeedKind) Setting {
	if k == SpeedInfinite {
		return SettingInfiniteSpeed
	}
	return SettingSingleSpeed
}

// Direction names accepted on "<serial>/cmd/<direction>".
type Direction string

const (
	DirectionForward  Direction = "forward"
	DirectionBackward Direction = "backward"
	DirectionUpdate   Direction = "update"
)

func (d Direction) Valid() bool {
	return d == DirectionForward || d == DirectionBackward || d == DirectionUpdate
}
