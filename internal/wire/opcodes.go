package wire

// OpCode identifies a banking operation carried by a Message.
type OpCode uint16

const (
	OpOpenAccount        OpCode = 0x0001
	OpCloseAccount       OpCode = 0x0002
	OpDeposit            OpCode = 0x0003
	OpWithdraw           OpCode = 0x0004
	OpRegisterCallback   OpCode = 0x0005
	OpUnregisterCallback OpCode = 0x0006
	OpQueryBalance       OpCode = 0x0101
	OpTransfer           OpCode = 0x0102
	OpAccountUpdate      OpCode = 0x8001
)

// Idempotent reports whether duplicate execution of op is harmless. This
// mirrors spec.md's operations table and lets callers pick ALO/AMO
// automatically if desired (spec.md §9, Extensibility).
func (op OpCode) Idempotent() bool {
	switch op {
	case OpRegisterCallback, OpUnregisterCallback, OpQueryBalance:
		return true
	default:
		return false
	}
}

// Known reports whether op is a recognised operation code.
func (op OpCode) Known() bool {
	switch op {
	case OpOpenAccount, OpCloseAccount, OpDeposit, OpWithdraw,
		OpRegisterCallback, OpUnregisterCallback,
		OpQueryBalance, OpTransfer, OpAccountUpdate:
		return true
	default:
		return false
	}
}

func (op OpCode) String() string {
	switch op {
	case OpOpenAccount:
		return "OPEN_ACCOUNT"
	case OpCloseAccount:
		return "CLOSE_ACCOUNT"
	case OpDeposit:
		return "DEPOSIT"
	case OpWithdraw:
		return "WITHDRAW"
	case OpRegisterCallback:
		return "REGISTER_CALLBACK"
	case OpUnregisterCallback:
		return "UNREGISTER_CALLBACK"
	case OpQueryBalance:
		return "QUERY_BALANCE"
	case OpTransfer:
		return "TRANSFER"
	case OpAccountUpdate:
		return "ACCOUNT_UPDATE"
	default:
		return "UNKNOWN"
	}
}

// requiredTLVs lists the TLV types that must be present in a request's
// payload for a given opCode, per spec.md §3's operations table.
var requiredTLVs = map[OpCode][]TLVType{
	OpOpenAccount:        {TLVUsername, TLVPassword, TLVCurrency},
	OpCloseAccount:       {TLVUsername, TLVPassword, TLVAccountNo},
	OpDeposit:            {TLVUsername, TLVPassword, TLVAccountNo, TLVAmountCents},
	OpWithdraw:           {TLVUsername, TLVPassword, TLVAccountNo, TLVAmountCents},
	OpRegisterCallback:   {TLVTTLSeconds},
	OpUnregisterCallback: {},
	OpQueryBalance:       {TLVUsername, TLVPassword, TLVAccountNo},
	OpTransfer:           {TLVUsername, TLVPassword, TLVAccountNo, TLVToAccountNo, TLVAmountCents},
}
