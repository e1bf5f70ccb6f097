package sim

type slotKind uint8

const (
	slotTurn slotKind = iota
	slotOut
	slotIn
)

type slot struct {
	kind slotKind
	bit  bool
}

type swdState uint8

const (
	swdReset swdState = iota
	swdIdle
	swdHeader
	swdData
	swdLockout
)

// swdPort is the SW-DP wire front end. It advances one slot per rising
// SWCLK edge and sets up its output for the following cycle at that edge.
type swdPort struct {
	dp         *DebugPort
	turnaround int

	state  swdState
	header uint8
	nbits  int

	plan  []slot
	pos   int
	req   Request
	wdata uint64
	wbits int

	driving bool
	out     bool

	stats SWDStats
}

// SWDStats counts what the SW-DP saw on the wire.
type SWDStats struct {
	Requests   int
	BadHeaders int
	BadWrites  int
	LineResets int
}

func newSWDPort(dp *DebugPort, turnaround int) *swdPort {
	if turnaround < 1 {
		turnaround = 1
	}
	return &swdPort{dp: dp, turnaround: turnaround, state: swdIdle, plan: make([]slot, 0, 48)}
}

func (s *swdPort) lineReset() {
	if s.state != swdReset {
		s.stats.LineResets++
	}
	s.state = swdReset
	s.plan = s.plan[:0]
	s.driving = false
}

func (s *swdPort) rise(hostDrive, level bool) {
	switch s.state {
	case swdReset:
		if hostDrive && !level {
			s.state = swdIdle
		}
	case swdIdle:
		if hostDrive && level {
			s.header, s.nbits = 1, 1
			s.state = swdHeader
		}
	case swdHeader:
		if level {
			s.header |= 1 << uint(s.nbits)
		}
		s.nbits++
		if s.nbits == 8 {
			s.decode()
		}
	case swdData:
		s.step(level)
	}
}

func (s *swdPort) decode() {
	h := s.header
	bit := func(n uint) uint8 { return h >> n & 1 }
	ap, rnw, a2, a3 := bit(1), bit(2), bit(3), bit(4)
	if bit(0) != 1 || bit(6) != 0 || bit(7) != 1 || bit(5) != ap^rnw^a2^a3 {
		s.stats.BadHeaders++
		s.state = swdLockout
		return
	}
	s.stats.Requests++

	s.req = Request{AP: ap == 1, Read: rnw == 1, Addr: a2<<2 | a3<<3}
	reply := s.dp.consult(&s.req)
	if reply.Ack == AckNone {
		s.state = swdIdle
		return
	}

	s.plan = s.plan[:0]
	s.turn()
	for i := 0; i < 3; i++ {
		s.plan = append(s.plan, slot{kind: slotOut, bit: reply.Ack>>uint(i)&1 != 0})
	}
	switch {
	case reply.Ack != AckOK:
		s.turn()
	case s.req.Read:
		v := s.dp.readPosted(s.req)
		p := parity(v)
		if reply.CorruptParity {
			p ^= 1
		}
		word := uint64(v) | p<<32
		for i := 0; i < 33; i++ {
			s.plan = append(s.plan, slot{kind: slotOut, bit: word>>uint(i)&1 != 0})
		}
		s.turn()
	default:
		s.turn()
		for i := 0; i < 33; i++ {
			s.plan = append(s.plan, slot{kind: slotIn})
		}
		s.wdata, s.wbits = 0, 0
	}

	s.pos = 0
	s.state = swdData
	s.prepare()
}

func (s *swdPort) turn() {
	for i := 0; i < s.turnaround; i++ {
		s.plan = append(s.plan, slot{kind: slotTurn})
	}
}

func (s *swdPort) prepare() {
	next := s.plan[s.pos]
	s.driving = next.kind == slotOut
	s.out = next.bit
}

func (s *swdPort) step(level bool) {
	if s.plan[s.pos].kind == slotIn {
		if level {
			s.wdata |= 1 << uint(s.wbits)
		}
		s.wbits++
	}
	s.pos++
	if s.pos < len(s.plan) {
		s.prepare()
		return
	}

	s.driving = false
	s.state = swdIdle
	if s.wbits == 33 {
		s.wbits = 0
		data := uint32(s.wdata)
		if parity(data) != s.wdata>>32&1 {
			s.stats.BadWrites++
			s.dp.ctrl |= CtrlWDataErr
			return
		}
		s.req.Value = data
		s.dp.write(s.req)
	}
}
