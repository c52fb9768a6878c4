package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"

	"github.com/motorctl/motor-bot/internal/bus"
	"github.com/motorctl/motor-bot/internal/config"
	apperrors "github.com/motorctl/motor-bot/internal/errors"
	"github.com/motorctl/motor-bot/internal/model"
	"github.com/motorctl/motor-bot/internal/pairing"
)

const qrLabelSize = 256

// Sender delivers presenter output to a chat.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string, kb Keyboard) error
	SendPhoto(ctx context.Context, chatID int64, png []byte, caption string) error
}

type UserService interface {
	Register(ctx context.Context, telegramID int64, name string) (*model.User, bool, error)
	Get(ctx context.Context, telegramID int64) (*model.User, error)
}

type DeviceService interface {
	Exists(ctx context.Context, serial string) (bool, error)
	ListByOwner(ctx context.Context, telegramID int64) ([]model.Device, error)
	Owned(ctx context.Context, telegramID int64, serial string) (*model.Device, error)
	RemoveOwned(ctx context.Context, telegramID int64, serial string) error
	Start(ctx context.Context, serial string, startType model.StartType, speed int) error
	Stop(ctx context.Context, serial string) error
	Set(ctx context.Context, serial string, setting model.Setting, value int) error
}

type Pairer interface {
	PairDevice(ctx context.Context, serial string, userID int64) pairing.Result
}

type PairingLimiter interface {
	AllowPairing(ctx context.Context, telegramID int64, perMinute int) (bool, time.Time)
}

type PresenterConfig struct {
	BotUsername            string
	PairingRateLimitPerMin int
	SessionTTL             time.Duration
}

// From identifies who sent an update. In private chats ChatID equals the
// user id.
type From struct {
	UserID int64
	ChatID int64
	Name   string
}

// Presenter turns chat commands and button presses into service calls and
// replies. Handle* methods may block for a whole pairing wait, so callers run
// each update on its own goroutine.
type Presenter struct {
	sender   Sender
	users    UserService
	devices  DeviceService
	pairer   Pairer
	limiter  PairingLimiter
	sessions *sessionStore
	cfg      PresenterConfig
}

func NewPresenter(
	sender Sender,
	users UserService,
	devices DeviceService,
	pairer Pairer,
	limiter PairingLimiter,
	cfg PresenterConfig,
) *Presenter {
	return &Presenter{
		sender:   sender,
		users:    users,
		devices:  devices,
		pairer:   pairer,
		limiter:  limiter,
		sessions: newSessionStore(config.SessionCacheSize, cfg.SessionTTL),
		cfg:      cfg,
	}
}

// HandleMessage processes a text message, which is either a command or the
// answer to a previous prompt.
func (p *Presenter) HandleMessage(ctx context.Context, from From, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	if !strings.HasPrefix(text, "/") {
		p.handleText(ctx, from, text)
		return
	}

	fields := strings.Fields(text)
	cmd := strings.ToLower(strings.SplitN(fields[0], "@", 2)[0])
	args := fields[1:]

	log.Debug().Int64("chatId", from.ChatID).Str("command", cmd).Msg("telegram command")

	switch cmd {
	case "/start":
		p.start(ctx, from, args)
	case "/help":
		p.reply(ctx, from, msgHelp, mainMenu())
	case "/profile":
		p.profile(ctx, from)
	case "/devices":
		p.listDevices(ctx, from)
	case "/add":
		if len(args) != 1 {
			p.reply(ctx, from, msgAddUsage, nil)
			return
		}
		p.beginAdd(ctx, from, args[0])
	case "/remove":
		if len(args) != 1 {
			p.reply(ctx, from, msgRemoveUsage, nil)
			return
		}
		p.removeDevice(ctx, from, args[0])
	case "/label":
		if len(args) != 1 {
			p.reply(ctx, from, msgLabelUsage, nil)
			return
		}
		p.label(ctx, from, args[0])
	case "/motor_speed":
		p.motorSpeed(ctx, from, args)
	default:
		p.reply(ctx, from, msgUnknownCommand, nil)
	}
}

// HandleCallback processes an inline button press.
func (p *Presenter) HandleCallback(ctx context.Context, from From, data string) {
	log.Debug().Int64("chatId", from.ChatID).Str("data", data).Msg("telegram callback")

	switch {
	case data == cbSignUp:
		p.signUp(ctx, from)
	case data == cbBackToMain:
		p.reply(ctx, from, msgChoose, mainMenu())
	case data == cbProfile:
		p.profile(ctx, from)
	case data == cbDevices:
		p.listDevices(ctx, from)
	case data == cbAddDevice:
		p.askSerial(ctx, from)
	case data == cbConfirmAdd:
		p.confirmAdd(ctx, from)
	case data == cbCancelAdd:
		p.cancelAdd(ctx, from)
	case data == cbStartSingle, data == cbStartInfinite, data == cbStopInfinite:
		p.motorState(ctx, from, data)
	case data == cbSetSingleSpeed:
		p.showSpeedMenu(ctx, from, model.SpeedSingle)
	case data == cbSetInfiniteSpeed:
		p.showSpeedMenu(ctx, from, model.SpeedInfinite)
	case strings.HasPrefix(data, cbIncPrefix):
		p.adjustSpeed(ctx, from, strings.TrimPrefix(data, cbIncPrefix), 10)
	case strings.HasPrefix(data, cbDecPrefix):
		p.adjustSpeed(ctx, from, strings.TrimPrefix(data, cbDecPrefix), -10)
	case strings.HasPrefix(data, cbSelectPrefix):
		p.selectDevice(ctx, from, strings.TrimPrefix(data, cbSelectPrefix))
	case strings.HasPrefix(data, cbRemovePrefix):
		p.removeDevice(ctx, from, strings.TrimPrefix(data, cbRemovePrefix))
	default:
		log.Warn().Str("data", data).Msg("unknown callback data")
	}
}

func (p *Presenter) handleText(ctx context.Context, from From, text string) {
	sess := p.sessions.get(from.ChatID)
	sess.mu.Lock()
	awaiting := sess.awaitingSerial
	sess.awaitingSerial = false
	sess.mu.Unlock()

	if !awaiting {
		p.reply(ctx, from, msgUnknownCommand, nil)
		return
	}
	p.beginAdd(ctx, from, text)
}

// start greets the user. A serial argument comes from a QR label deep link
// and enters the add-device flow.
func (p *Presenter) start(ctx context.Context, from From, args []string) {
	user, err := p.users.Get(ctx, from.UserID)
	if apperrors.HasCode(err, apperrors.ErrCodeNotRegistered) {
		if len(args) > 0 && bus.ValidSegment(args[0]) {
			sess := p.sessions.get(from.ChatID)
			sess.mu.Lock()
			sess.pendingSerial = args[0]
			sess.mu.Unlock()
		}
		p.reply(ctx, from, fmt.Sprintf(msgNotRegistered, from.Name), nil)
		p.reply(ctx, from, msgSignUpPrompt, signUpMenu())
		return
	}
	if err != nil {
		p.fail(ctx, from, err)
		return
	}

	if len(args) > 0 {
		p.beginAdd(ctx, from, args[0])
		return
	}
	p.reply(ctx, from, fmt.Sprintf(msgWelcomeBack, user.Name), mainMenu())
}

func (p *Presenter) signUp(ctx context.Context, from From) {
	_, created, err := p.users.Register(ctx, from.UserID, from.Name)
	if err != nil {
		p.fail(ctx, from, err)
		return
	}
	if created {
		p.reply(ctx, from, msgRegistered, nil)
	} else {
		p.reply(ctx, from, msgAlreadyUser, nil)
	}

	sess := p.sessions.get(from.ChatID)
	sess.mu.Lock()
	pending := sess.pendingSerial
	sess.mu.Unlock()

	if pending != "" {
		p.beginAdd(ctx, from, pending)
		return
	}
	p.reply(ctx, from, msgChoose, mainMenu())
}

func (p *Presenter) profile(ctx context.Context, from From) {
	user, err := p.users.Get(ctx, from.UserID)
	if err != nil {
		p.fail(ctx, from, err)
		return
	}

	premium := "No"
	if user.Premium() {
		premium = "Yes"
	}
	text := fmt.Sprintf(msgProfile, user.TelegramID, user.Name, premium, user.CreatedAt.Format("2006-01-02"))
	p.reply(ctx, from, text, Keyboard{{{Text: "Back", Data: cbBackToMain}}})
}

func (p *Presenter) askSerial(ctx context.Context, from From) {
	if _, err := p.users.Get(ctx, from.UserID); err != nil {
		p.fail(ctx, from, err)
		return
	}

	sess := p.sessions.get(from.ChatID)
	sess.mu.Lock()
	sess.awaitingSerial = true
	sess.mu.Unlock()

	p.reply(ctx, from, msgAskSerial, nil)
}

// beginAdd validates serial and asks the user to confirm pairing it.
func (p *Presenter) beginAdd(ctx context.Context, from From, serial string) {
	if _, err := p.users.Get(ctx, from.UserID); err != nil {
		p.fail(ctx, from, err)
		return
	}
	if !bus.ValidSegment(serial) {
		p.reply(ctx, from, msgInvalidSerial, nil)
		return
	}

	exists, err := p.devices.Exists(ctx, serial)
	if err != nil {
		p.fail(ctx, from, err)
		return
	}
	if exists {
		p.reply(ctx, from, fmt.Sprintf(msgDeviceTaken, serial), nil)
		return
	}

	sess := p.sessions.get(from.ChatID)
	sess.mu.Lock()
	if sess.pairing {
		sess.mu.Unlock()
		p.reply(ctx, from, msgPairingBusy, nil)
		return
	}
	sess.pendingSerial = serial
	sess.mu.Unlock()

	p.reply(ctx, from, fmt.Sprintf(msgConfirmAdd, serial), confirmAddMenu())
}

func (p *Presenter) cancelAdd(ctx context.Context, from From) {
	sess := p.sessions.get(from.ChatID)
	sess.mu.Lock()
	if sess.pairing {
		sess.mu.Unlock()
		p.reply(ctx, from, msgPairingBusy, nil)
		return
	}
	sess.pendingSerial = ""
	sess.awaitingSerial = false
	sess.mu.Unlock()

	p.reply(ctx, from, msgAddCancelled, mainMenu())
}

// confirmAdd runs the pairing handshake for the pending serial and reports
// the outcome. It blocks until the device answers or the wait times out.
func (p *Presenter) confirmAdd(ctx context.Context, from From) {
	sess := p.sessions.get(from.ChatID)
	sess.mu.Lock()
	serial := sess.pendingSerial
	switch {
	case sess.pairing:
		sess.mu.Unlock()
		p.reply(ctx, from, msgPairingBusy, nil)
		return
	case serial == "":
		sess.mu.Unlock()
		p.reply(ctx, from, msgNothingToAdd, nil)
		return
	}
	sess.pairing = true
	sess.mu.Unlock()

	defer func() {
		sess.mu.Lock()
		sess.pairing = false
		sess.pendingSerial = ""
		sess.mu.Unlock()
	}()

	if allowed, resetAt := p.limiter.AllowPairing(ctx, from.UserID, p.cfg.PairingRateLimitPerMin); !allowed {
		wait := max(int(time.Until(resetAt).Seconds()), 1)
		p.reply(ctx, from, fmt.Sprintf(msgPairingLimited, wait), nil)
		return
	}

	p.reply(ctx, from, fmt.Sprintf(msgPairingWait, serial), nil)

	res := p.pairer.PairDevice(ctx, serial, from.UserID)
	log.Info().
		Int64("telegramId", from.UserID).
		Str("serial", serial).
		Str("outcome", res.Outcome.String()).
		Msg("pairing finished")

	switch res.Outcome {
	case pairing.OutcomeAccepted:
		sess.mu.Lock()
		sess.selected = serial
		sess.mu.Unlock()
		p.reply(ctx, from, fmt.Sprintf(msgPaired, serial), mainMenu())
	case pairing.OutcomeRejected:
		reason := res.Reason
		if reason == "" {
			reason = "no reason given"
		}
		p.reply(ctx, from, fmt.Sprintf(msgPairRejected, serial, reason), mainMenu())
	case pairing.OutcomeConflict:
		p.reply(ctx, from, fmt.Sprintf(msgDeviceTaken, serial), mainMenu())
	default:
		p.reply(ctx, from, fmt.Sprintf(msgPairTimedOut, serial), mainMenu())
	}
}

func (p *Presenter) listDevices(ctx context.Context, from From) {
	devices, err := p.devices.ListByOwner(ctx, from.UserID)
	if err != nil {
		p.fail(ctx, from, err)
		return
	}
	if len(devices) == 0 {
		p.reply(ctx, from, msgNoDevices, Keyboard{{{Text: "Add Device", Data: cbAddDevice}}})
		return
	}

	sess := p.sessions.get(from.ChatID)
	sess.mu.Lock()
	selected := sess.selected
	sess.mu.Unlock()

	p.reply(ctx, from, msgYourDevices, devicesMenu(devices, selected))
}

func (p *Presenter) selectDevice(ctx context.Context, from From, serial string) {
	if _, err := p.devices.Owned(ctx, from.UserID, serial); err != nil {
		p.fail(ctx, from, err)
		return
	}

	sess := p.sessions.get(from.ChatID)
	sess.mu.Lock()
	sess.selected = serial
	sess.mu.Unlock()

	p.reply(ctx, from, fmt.Sprintf(msgDeviceSelected, serial), mainMenu())
}

func (p *Presenter) removeDevice(ctx context.Context, from From, serial string) {
	if err := p.devices.RemoveOwned(ctx, from.UserID, serial); err != nil {
		p.fail(ctx, from, err)
		return
	}

	sess := p.sessions.get(from.ChatID)
	sess.mu.Lock()
	if sess.selected == serial {
		sess.selected = ""
	}
	sess.mu.Unlock()

	p.reply(ctx, from, fmt.Sprintf(msgRemoved, serial), mainMenu())
}

func (p *Presenter) label(ctx context.Context, from From, serial string) {
	if _, err := p.users.Get(ctx, from.UserID); err != nil {
		p.fail(ctx, from, err)
		return
	}
	if !bus.ValidSegment(serial) {
		p.reply(ctx, from, msgInvalidSerial, nil)
		return
	}
	if p.cfg.BotUsername == "" {
		p.reply(ctx, from, msgLabelUnavailable, nil)
		return
	}

	png, err := qrcode.Encode(DeepLink(p.cfg.BotUsername, serial), qrcode.Medium, qrLabelSize)
	if err != nil {
		p.fail(ctx, from, apperrors.Internal("failed to render QR label").WithCause(err))
		return
	}
	if err := p.sender.SendPhoto(ctx, from.ChatID, png, fmt.Sprintf(msgLabelCaption, serial)); err != nil {
		log.Error().Err(err).Int64("chatId", from.ChatID).Msg("failed to send QR label")
	}
}

// DeepLink is the URL encoded in a device's QR label. Opening it sends
// "/start <serial>" to the bot.
func DeepLink(botUsername, serial string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s", strings.TrimPrefix(botUsername, "@"), serial)
}

// selectedDevice returns the chat's selected device, falling back to the
// user's only device when nothing is selected.
func (p *Presenter) selectedDevice(ctx context.Context, from From) (string, error) {
	sess := p.sessions.get(from.ChatID)
	sess.mu.Lock()
	selected := sess.selected
	sess.mu.Unlock()

	if selected != "" {
		if _, err := p.devices.Owned(ctx, from.UserID, selected); err != nil {
			return "", err
		}
		return selected, nil
	}

	devices, err := p.devices.ListByOwner(ctx, from.UserID)
	if err != nil {
		return "", err
	}
	if len(devices) != 1 {
		return "", nil
	}

	sess.mu.Lock()
	sess.selected = devices[0].SerialNumber
	sess.mu.Unlock()
	return devices[0].SerialNumber, nil
}

func (p *Presenter) motorState(ctx context.Context, from From, state string) {
	serial, err := p.selectedDevice(ctx, from)
	if err != nil {
		p.fail(ctx, from, err)
		return
	}
	if serial == "" {
		p.reply(ctx, from, msgSelectDevice, nil)
		return
	}

	sess := p.sessions.get(from.ChatID)
	sess.mu.Lock()
	single, infinite := sess.speeds[model.SpeedSingle], sess.speeds[model.SpeedInfinite]
	sess.mu.Unlock()

	switch state {
	case cbStartSingle:
		err = p.devices.Start(ctx, serial, model.StartSingle, single)
	case cbStartInfinite:
		err = p.devices.Start(ctx, serial, model.StartInfinite, infinite)
	default:
		err = p.devices.Stop(ctx, serial)
	}
	if err != nil {
		p.fail(ctx, from, err)
		return
	}

	p.reply(ctx, from, fmt.Sprintf(msgMotorState, state), mainMenu())
}

func (p *Presenter) showSpeedMenu(ctx context.Context, from From, kind model.SpeedKind) {
	p.reply(ctx, from, fmt.Sprintf(msgSpeedMenu, speedLabel(kind)), speedMenu(kind))
}

func parseSpeedLabel(label string) (model.SpeedKind, bool) {
	switch label {
	case speedLabel(model.SpeedSingle):
		return model.SpeedSingle, true
	case speedLabel(model.SpeedInfinite):
		return model.SpeedInfinite, true
	default:
		return "", false
	}
}

func (p *Presenter) adjustSpeed(ctx context.Context, from From, label string, delta int) {
	kind, ok := parseSpeedLabel(label)
	if !ok {
		log.Warn().Str("label", label).Msg("unknown speed label")
		return
	}

	sess := p.sessions.get(from.ChatID)
	sess.mu.Lock()
	speed := sess.adjustSpeed(kind, delta)
	sess.mu.Unlock()

	if !p.pushSpeed(ctx, from, kind, speed) {
		return
	}
	p.reply(ctx, from, fmt.Sprintf(msgSpeedAdjusted, kind, speed), speedMenu(kind))
}

func (p *Presenter) motorSpeed(ctx context.Context, from From, args []string) {
	if len(args) != 2 {
		p.reply(ctx, from, msgSpeedUsage, nil)
		return
	}
	kind := model.SpeedKind(args[0])
	speed, err := strconv.Atoi(args[1])
	if !kind.Valid() || err != nil || speed < 0 {
		p.reply(ctx, from, msgSpeedUsage, nil)
		return
	}

	sess := p.sessions.get(from.ChatID)
	sess.mu.Lock()
	sess.speeds[kind] = 0
	speed = sess.adjustSpeed(kind, speed)
	sess.mu.Unlock()

	if !p.pushSpeed(ctx, from, kind, speed) {
		return
	}
	p.reply(ctx, from, fmt.Sprintf(msgSpeedSet, speed, kind), nil)
}

// pushSpeed sends a changed speed preset to the selected device. Without a
// selected device the preset is only kept in the session.
func (p *Presenter) pushSpeed(ctx context.Context, from From, kind model.SpeedKind, speed int) bool {
	serial, err := p.selectedDevice(ctx, from)
	if err != nil {
		p.fail(ctx, from, err)
		return false
	}
	if serial == "" {
		return true
	}
	if err := p.devices.Set(ctx, serial, model.SettingFor(kind), speed); err != nil {
		p.fail(ctx, from, err)
		return false
	}
	return true
}

func (p *Presenter) reply(ctx context.Context, from From, text string, kb Keyboard) {
	if err := p.sender.SendText(ctx, from.ChatID, text, kb); err != nil {
		log.Error().Err(err).Int64("chatId", from.ChatID).Msg("failed to send telegram message")
	}
}

// fail reports err to the user as plain text.
func (p *Presenter) fail(ctx context.Context, from From, err error) {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeNotRegistered:
		p.reply(ctx, from, msgUseStart, nil)
	case apperrors.ErrCodeNotFound:
		p.reply(ctx, from, msgDeviceNotFound, nil)
	case apperrors.ErrCodeBusUnavailable:
		p.reply(ctx, from, msgBusUnavailable, nil)
	case apperrors.ErrCodeInvalidInput, apperrors.ErrCodeValidation:
		appErr, _ := apperrors.AsAppError(err)
		p.reply(ctx, from, appErr.Message, nil)
	default:
		log.Error().Err(err).Int64("chatId", from.ChatID).Msg("telegram handler error")
		p.reply(ctx, from, msgSomethingWrong, nil)
	}
}
