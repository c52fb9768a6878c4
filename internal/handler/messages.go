package handler

// User-facing chat text.
const (
	msgNotRegistered = "Hi %s! You are not registered in our system."
	msgSignUpPrompt  = "Click on this button to register."
	msgWelcomeBack   = "Welcome back %s! I am your motor control bot. Use the buttons below to control the motor."
	msgHelp = "I am your motor control bot. Commands:\n" +
		"/start - show the main menu\n" +
		"/help - show this message\n" +
		"/devices - list your devices\n" +
		"/add <serial> - add a device\n" +
		"/remove <serial> - remove a device\n" +
		"/label <serial> - QR label for a device\n" +
		"/motor_speed <SINGLE_SPEED|INFINITE_SPEED> <speed> - set motor speed\n" +
		"/profile - your account"
	msgChoose         = "Please choose:"
	msgRegistered     = "You are successfully registered!"
	msgAlreadyUser    = "You are already registered!"
	msgUseStart       = "You are not registered. Use /start to register."
	msgUnknownCommand = "Unknown command. Use /help to see what I can do."
	msgSomethingWrong = "Something went wrong. Please try again."
	msgBusUnavailable = "The device network is unavailable right now. Try again later."
	msgDeviceNotFound = "Device not found."
	msgProfile        = "User Info:\nID: %d\nName: %s\nPremium: %s\nJoined At: %s"

	msgAskSerial        = "Send me the serial number printed on the device."
	msgInvalidSerial    = "That serial number is not valid."
	msgDeviceTaken      = "Device %s is already registered."
	msgConfirmAdd       = "Add device %s?"
	msgNothingToAdd     = "There is no device waiting for confirmation. Use /add <serial>."
	msgAddCancelled     = "Adding the device was cancelled."
	msgPairingBusy      = "Pairing is already in progress. Please wait."
	msgPairingLimited   = "Too many pairing attempts. Try again in %d seconds."
	msgPairingWait      = "Waiting for device %s to confirm..."
	msgPaired           = "Device %s paired successfully!"
	msgPairRejected     = "Device %s refused pairing: %s"
	msgPairTimedOut     = "Device %s did not respond in time. Make sure it is powered on and connected, then try again."
	msgAddUsage         = "Usage: /add <serial>"
	msgLabelUsage       = "Usage: /label <serial>"
	msgLabelCaption     = "Scan to add %s"
	msgLabelUnavailable = "QR labels are not available: the bot username is not configured."

	msgNoDevices      = "You have no devices yet. Use /add <serial> to add one."
	msgYourDevices    = "Your devices:"
	msgDeviceSelected = "Selected %s."
	msgSelectDevice   = "Select a device first with /devices."
	msgRemoveUsage    = "Usage: /remove <serial>"
	msgRemoved        = "Device %s removed."

	msgMotorState    = "Motor state set to %s"
	msgSpeedMenu     = "Set %s Speed:"
	msgSpeedAdjusted = "%s speed adjusted to %d"
	msgSpeedSet      = "Motor speed set to %d with type %s"
	msgSpeedUsage    = "Usage: /motor_speed <SINGLE_SPEED|INFINITE_SPEED> <speed>"
)
