package payment

// State описывает этап протокола оплаты.
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateInvoicing    State = "INVOICING"
	StatePaying       State = "PAYING"
	StateVerified     State = "VERIFIED"
	StateFailed       State = "FAILED"
)

var transitions = map[State][]State{
	StateDisconnected: {StateConnecting, StateFailed},
	StateConnecting:   {StateConnected, StateFailed},
	StateConnected:    {StateInvoicing, StateFailed},
	StateInvoicing:    {StatePaying, StateFailed},
	StatePaying:       {StateVerified, StateFailed},
	StateVerified:     {StateDisconnected},
	StateFailed:       {StateDisconnected},
}

// CanTransition сообщает, допустим ли переход между этапами.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal сообщает, завершён ли протокол.
func (s State) Terminal() bool {
	return s == StateVerified || s == StateFailed
}
