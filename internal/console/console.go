// Package console turns operator input into control commands. The parser is
// a small state machine: a command prefix either applies directly or waits
// for an argument line, and `bk` abandons a pending command. Parsed commands
// go onto a queue the engine drains at the start of each tick, so a command
// never lands mid-evaluation.
package console

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	"arbengine/internal/market"
	"arbengine/internal/news"
)

// Kind enumerates every control action the console can produce.
type Kind int

const (
	KindNone Kind = iota
	KindPauseAll
	KindResumeAll
	KindStopStrategy
	KindStartStrategy
	KindManualOrder
	KindClose     // flatten one instrument, or everything
	KindFastClose // flatten a predefined pair or the stock basket
	KindFastOpen  // open a predefined ETF pair
	KindFastBuy
	KindFastSell
	KindNews
	KindNewsCorrection
	KindEndArbitrage
	KindFairValue
	KindQuit // end the session early, flattening everything
)

// NewsInput carries a news release or correction from the operator.
type NewsInput struct {
	Type    news.Type
	Quarter int
	Value   float64
}

// Command is one parsed control action.
type Command struct {
	Kind       Kind
	StrategyID int // s1..s4, r1..r4, e 2|3
	Preset     int // fc/fo argument
	Instrument string
	Size       float64
	Type       market.PriceType
	LimitPrice float64
	News       NewsInput
}

type parserState int

const (
	stateIdle parserState = iota
	stateAwaitingArgs
)

// Parser is the console state machine. Not safe for concurrent use; each
// input source owns its own Parser.
type Parser struct {
	state       parserState
	pending     Kind
	pendingSell bool
}

func NewParser() *Parser {
	return &Parser{state: stateIdle}
}

// Reset returns the parser to IDLE, dropping any pending command.
func (p *Parser) Reset() {
	p.state = stateIdle
	p.pending = KindNone
	p.pendingSell = false
}

// Parse consumes one input line. It returns a complete command when one is
// ready; ok is false while the parser waits for arguments or the line is
// blank. A malformed line errors and resets to IDLE with no side effects.
func (p *Parser) Parse(line string) (cmd Command, ok bool, err error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(line)))
	if len(fields) == 0 {
		return Command{}, false, nil
	}

	if fields[0] == "bk" {
		p.Reset()
		return Command{}, false, nil
	}

	if p.state == stateAwaitingArgs {
		pending, sell := p.pending, p.pendingSell
		p.Reset()
		cmd, err = parseArgs(pending, fields)
		if err != nil {
			return Command{}, false, err
		}
		if sell {
			cmd.Size = -cmd.Size
		}
		return cmd, true, nil
	}

	return p.parsePrefix(fields)
}

func (p *Parser) parsePrefix(fields []string) (Command, bool, error) {
	head, args := fields[0], fields[1:]

	// Argument-free commands apply immediately.
	switch head {
	case "p":
		return Command{Kind: KindPauseAll}, true, nil
	case "r":
		return Command{Kind: KindResumeAll}, true, nil
	case "q":
		return Command{Kind: KindFairValue}, true, nil
	case "quit":
		return Command{Kind: KindQuit}, true, nil
	case "fb":
		return Command{Kind: KindFastBuy}, true, nil
	case "fs":
		return Command{Kind: KindFastSell}, true, nil
	case "s1", "s2", "s3", "s4":
		id, _ := strconv.Atoi(head[1:])
		return Command{Kind: KindStopStrategy, StrategyID: id}, true, nil
	case "r1", "r2", "r3", "r4":
		id, _ := strconv.Atoi(head[1:])
		return Command{Kind: KindStartStrategy, StrategyID: id}, true, nil
	}

	kind, needsArgs := prefixKind(head)
	if !needsArgs {
		p.Reset()
		return Command{}, false, fmt.Errorf("console: unknown command %q", head)
	}

	// Arguments may ride on the same line; otherwise wait for the next one.
	if len(args) > 0 {
		cmd, err := parseArgs(kind, args)
		if err != nil {
			p.Reset()
			return Command{}, false, err
		}
		if head == "s" {
			cmd.Size = -cmd.Size
		}
		return cmd, true, nil
	}
	p.state = stateAwaitingArgs
	p.pending = kind
	p.pendingSell = head == "s"
	return Command{}, false, nil
}

func prefixKind(head string) (Kind, bool) {
	switch head {
	case "b", "s":
		return KindManualOrder, true
	case "c":
		return KindClose, true
	case "fc":
		return KindFastClose, true
	case "fo":
		return KindFastOpen, true
	case "n":
		return KindNews, true
	case "ct":
		return KindNewsCorrection, true
	case "e":
		return KindEndArbitrage, true
	}
	return KindNone, false
}

func parseArgs(kind Kind, args []string) (Command, error) {
	switch kind {
	case KindManualOrder:
		return parseOrderArgs(args)
	case KindClose:
		if len(args) != 1 {
			return Command{}, fmt.Errorf("console: close wants <ticker> or a")
		}
		if args[0] == "a" || args[0] == "all" {
			return Command{Kind: KindClose, Instrument: ""}, nil
		}
		instr, err := resolveTicker(args[0])
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: KindClose, Instrument: instr}, nil
	case KindFastClose, KindFastOpen:
		if len(args) != 1 || (args[0] != "1" && args[0] != "2") {
			return Command{}, fmt.Errorf("console: fast close/open wants 1 or 2")
		}
		preset, _ := strconv.Atoi(args[0])
		return Command{Kind: kind, Preset: preset}, nil
	case KindNews, KindNewsCorrection:
		in, err := parseNewsArgs(args)
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: kind, News: in}, nil
	case KindEndArbitrage:
		if len(args) != 1 || (args[0] != "2" && args[0] != "3") {
			return Command{}, fmt.Errorf("console: end arbitrage wants 2 or 3")
		}
		id, _ := strconv.Atoi(args[0])
		return Command{Kind: KindEndArbitrage, StrategyID: id}, nil
	}
	return Command{}, fmt.Errorf("console: no argument grammar for command")
}

// parseOrderArgs handles "<ticker> <qty> m" and "<ticker> <qty> l <price>".
// The sign convention is fixed later by the b/s prefix, so qty is absolute.
func parseOrderArgs(args []string) (Command, error) {
	if len(args) < 3 {
		return Command{}, fmt.Errorf("console: order wants <ticker> <qty> m|l [price]")
	}
	instr, err := resolveTicker(args[0])
	if err != nil {
		return Command{}, err
	}
	qty, err := strconv.ParseFloat(args[1], 64)
	if err != nil || qty <= 0 {
		return Command{}, fmt.Errorf("console: bad quantity %q", args[1])
	}
	cmd := Command{Kind: KindManualOrder, Instrument: instr, Size: qty}
	switch args[2] {
	case "m":
		if len(args) != 3 {
			return Command{}, fmt.Errorf("console: market order takes no price")
		}
		cmd.Type = market.Market
	case "l":
		if len(args) != 4 {
			return Command{}, fmt.Errorf("console: limit order wants a price")
		}
		px, err := strconv.ParseFloat(args[3], 64)
		if err != nil || px <= 0 {
			return Command{}, fmt.Errorf("console: bad limit price %q", args[3])
		}
		cmd.Type = market.Limit
		cmd.LimitPrice = px
	default:
		return Command{}, fmt.Errorf("console: order type must be m or l")
	}
	return cmd, nil
}

// parseNewsArgs handles "g <quarter> <value>" for GDP and "b <value>" for BCI.
func parseNewsArgs(args []string) (NewsInput, error) {
	if len(args) == 0 {
		return NewsInput{}, fmt.Errorf("console: news wants g <quarter> <value> or b <value>")
	}
	switch args[0] {
	case "g":
		if len(args) != 3 {
			return NewsInput{}, fmt.Errorf("console: gdp news wants <quarter> <value>")
		}
		quarter, err := strconv.Atoi(args[1])
		if err != nil || quarter < 1 {
			return NewsInput{}, fmt.Errorf("console: bad quarter %q", args[1])
		}
		value, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return NewsInput{}, fmt.Errorf("console: bad value %q", args[2])
		}
		return NewsInput{Type: news.GDP, Quarter: quarter, Value: value}, nil
	case "b":
		if len(args) != 2 {
			return NewsInput{}, fmt.Errorf("console: bci news wants <value>")
		}
		value, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return NewsInput{}, fmt.Errorf("console: bad value %q", args[1])
		}
		return NewsInput{Type: news.BCI, Value: value}, nil
	}
	return NewsInput{}, fmt.Errorf("console: news kind must be g or b")
}

var tickerAliases = map[string]string{
	"sad": market.SAD, "s": market.SAD,
	"cry": market.CRY, "c": market.CRY,
	"anger": market.ANGER, "a": market.ANGER,
	"fear": market.FEAR, "f": market.FEAR,
	"joy_c": market.JOYC, "jc": market.JOYC,
	"joy_u": market.JOYU, "ju": market.JOYU,
}

func resolveTicker(token string) (string, error) {
	if instr, ok := tickerAliases[token]; ok {
		return instr, nil
	}
	return "", fmt.Errorf("console: unknown ticker %q", token)
}

// Runner pumps parsed commands from an input stream into a buffered queue.
type Runner struct {
	parser *Parser
	queue  chan Command
}

func NewRunner(buffer int) *Runner {
	return &Runner{
		parser: NewParser(),
		queue:  make(chan Command, buffer),
	}
}

// Queue is the channel the engine drains each tick.
func (r *Runner) Queue() <-chan Command { return r.queue }

// Push enqueues a command built elsewhere, for example the HTTP surface.
// Full queue drops the command so a stalled engine never blocks input.
func (r *Runner) Push(cmd Command) bool {
	select {
	case r.queue <- cmd:
		return true
	default:
		log.Printf("console: command queue full, dropped %v", cmd.Kind)
		return false
	}
}

// Run reads lines until EOF, parsing each and queueing complete commands.
func (r *Runner) Run(in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		cmd, ok, err := r.parser.Parse(scanner.Text())
		if err != nil {
			log.Printf("%v", err)
			continue
		}
		if !ok {
			continue
		}
		r.Push(cmd)
	}
	if err := scanner.Err(); err != nil {
		log.Printf("console: input closed: %v", err)
	}
}
