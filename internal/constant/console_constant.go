package constant

const (
	// Internal bus topic carrying conversation updates to the websocket hub.
	ConsoleUpdateTopic = "console.updates"

	// Websocket frame types.
	WsTypeConsoleUpdate = "console_update"
	WsTypeTurnFinished  = "turn_finished"

	// Redis channel shared by every instance for cross-instance fan-out.
	ClusterConsoleChannel = "cluster_console_events"

	// Response headers on binary downloads.
	HeaderArchiveKey   = "X-Archive-Key"
	HeaderArchiveURL   = "X-Archive-Url"
	HeaderReportSource = "X-Report-Source"

	// Form field carrying uploaded files.
	UploadFormField = "file"

	ModuleConsole   = "CONSOLE"
	ModuleForwarder = "FORWARDER"
	ModuleHub       = "HUB"
	ModuleEvents    = "EVENTS"
)
