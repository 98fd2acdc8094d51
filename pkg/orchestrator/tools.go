package orchestrator

const BookingToolName = "openBookingModal"

const bookingResult = "Booking modal opened successfully."

// BookingTool is the declaration offered to the model for opening the
// booking form.
var BookingTool = FunctionDeclaration{
	Name:        BookingToolName,
	Description: "Opens the booking consultation form/modal on the user screen.",
	Parameters: map[string]any{
		"type":       "OBJECT",
		"properties": map[string]any{},
	},
}

// ToolBridge turns model tool calls into host application actions.
type ToolBridge struct {
	onOpenBooking func()
}

// NewToolBridge returns a bridge that calls onOpenBooking for every booking
// tool invocation. A nil callback is allowed.
func NewToolBridge(onOpenBooking func()) *ToolBridge {
	return &ToolBridge{onOpenBooking: onOpenBooking}
}

// Declarations lists the tools the bridge can handle.
func (b *ToolBridge) Declarations() []FunctionDeclaration {
	return []FunctionDeclaration{BookingTool}
}

// Handle runs call and returns the response to send back. Unknown tools are
// ignored and report false.
func (b *ToolBridge) Handle(call FunctionCall) (FunctionResponse, bool) {
	if call.Name != BookingToolName {
		return FunctionResponse{}, false
	}
	if b.onOpenBooking != nil {
		b.onOpenBooking()
	}
	return FunctionResponse{
		ID:       call.ID,
		Name:     call.Name,
		Response: map[string]any{"result": bookingResult},
	}, true
}
