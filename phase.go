package firecall

type Role int

const (
	RoleNone Role = iota
	RoleInitiator
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return "none"
	}
}

type Phase int

const (
	PhaseIdle Phase = iota

	PhaseOfferCreated
	PhaseOffered
	PhaseAwaitingAnswer

	PhaseJoinedWithOffer
	PhaseAnswerCreated
	PhaseAnswered

	PhaseConnected
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseOfferCreated:
		return "offer-created"
	case PhaseOffered:
		return "offered"
	case PhaseAwaitingAnswer:
		return "awaiting-answer"
	case PhaseJoinedWithOffer:
		return "joined-with-offer"
	case PhaseAnswerCreated:
		return "answer-created"
	case PhaseAnswered:
		return "answered"
	case PhaseConnected:
		return "connected"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// transitions lists the forward moves per role. Closed is reachable from every phase and is
// handled by Hangup, not by this table.
var transitions = map[Role]map[Phase]Phase{
	RoleInitiator: {
		PhaseIdle:           PhaseOfferCreated,
		PhaseOfferCreated:   PhaseOffered,
		PhaseOffered:        PhaseAwaitingAnswer,
		PhaseAwaitingAnswer: PhaseConnected,
	},
	RoleResponder: {
		PhaseIdle:            PhaseJoinedWithOffer,
		PhaseJoinedWithOffer: PhaseAnswerCreated,
		PhaseAnswerCreated:   PhaseAnswered,
		PhaseAnswered:        PhaseConnected,
	},
}

func canTransition(role Role, from, to Phase) bool {
	next, ok := transitions[role][from]
	return ok && next == to
}
