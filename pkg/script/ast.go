package script

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// Script is a parsed probe script: one statement per command.
type Script struct {
	Statements []*Statement `@@*`
}

// Statement is one script command.
type Statement struct {
	Pos lexer.Position

	Connect    *Connect    `  @@`
	Disconnect *Disconnect `| @@`
	Clock      *Clock      `| @@`
	Configure  *Configure  `| @@`
	SWD        *SWDConfig  `| @@`
	JTAG       *JTAGConfig `| @@`
	Reset      *Reset      `| @@`
	Sequence   *Sequence   `| @@`
	IDCode     *IDCode     `| @@`
	Queue      *Queue      `| @@`
	Poll       *Poll       `| @@`
	Access     *Access     `| @@`
	Execute    *Execute    `| @@`
	Abort      *Abort      `| @@`
	Status     *Status     `| @@`
}

// Disconnect releases the debug pins.
type Disconnect struct {
	Word string `@"disconnect"`
}

// Connect selects a wire discipline: connect swd|jtag|default.
type Connect struct {
	Port string `"connect" @("swd" | "jtag" | "default")`
}

// Clock sets the clock rate in hertz: clock 4000000.
type Clock struct {
	Hz string `"clock" @Number`
}

// Configure sets the transfer policy:
// configure idle 0 retry 100 match 100 [abort-on-error].
type Configure struct {
	Idle         string `"configure" "idle" @Number`
	Retry        string `"retry" @Number`
	Match        string `"match" @Number`
	AbortOnError bool   `@"abort-on-error"?`
}

// SWDConfig sets the turnaround: swd turnaround 1 [dataphase].
type SWDConfig struct {
	Turnaround string `"swd" "turnaround" @Number`
	DataPhase  bool   `@"dataphase"?`
}

// JTAGConfig describes the chain: jtag irlen 4 5.
type JTAGConfig struct {
	IRLengths []string `"jtag" "irlen" @Number+`
}

// Reset drives nRESET: reset assert|release|pulse <us>.
type Reset struct {
	Action string `"reset" @("assert" | "release" | "pulse")`
	Micros string `@Number?`
}

// Sequence clocks raw SWJ bits, LSB first: sequence 51 0x7ffffffffffff.
type Sequence struct {
	Bits string `"sequence" @Number`
	Data string `@Number`
}

// Expect checks a read value.
type Expect struct {
	Value string `"expect" @Number`
	Mask  string `( "mask" @Number )?`
}

// IDCode scans one JTAG device: idcode 0 [expect 0x4ba00477].
type IDCode struct {
	Index  string  `"idcode" @Number`
	Expect *Expect `@@?`
}

// Access is one register read or write:
// read dp|ap <addr> [expect <v> [mask <m>]] or write dp|ap <addr> <v>.
type Access struct {
	Op     string  `@("read" | "write")`
	Port   string  `@("dp" | "ap")`
	Addr   string  `@Number`
	Value  string  `@Number?`
	Expect *Expect `@@?`
}

// Queue appends an access to the probe queue: queue write dp 8 0.
type Queue struct {
	Access *Access `"queue" @@`
}

// Poll is a value-match read: poll dp 4 0xa0000000 [mask 0xa0000000].
type Poll struct {
	Port  string `"poll" @("dp" | "ap")`
	Addr  string `@Number`
	Value string `@Number`
	Mask  string `( "mask" @Number )?`
}

// Execute runs the probe queue.
type Execute struct {
	Word string `@"execute"`
}

// Abort drops the probe queue.
type Abort struct {
	Word string `@"abort"`
}

// Status prints the session status.
type Status struct {
	Word string `@"status"`
}
