package harness

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/krisarmstrong/omxconf/pkg/config"
	"github.com/krisarmstrong/omxconf/pkg/logging"
	"github.com/krisarmstrong/omxconf/pkg/scenario"
)

const prompt = "omxconf> "

type command struct {
	usage string
	help  string
	run   func(sh *Shell, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"cc": {"cc", "run the selected conformance tests", (*Shell).conformance},
		"st": {"st <flags>", "set trace flags (names or hex mask)", (*Shell).setTrace},
		"ol": {"ol <file>", "open a log file", (*Shell).openLog},
		"cl": {"cl", "close the log file", (*Shell).closeLog},
		"at": {"at <test>", "add a test to the run", (*Shell).addTest},
		"rt": {"rt <test>", "remove a test from the run", (*Shell).removeTest},
		"lt": {"lt", "list tests (* = selected)", (*Shell).listTests},
		"lc": {"lc", "list components in the core", (*Shell).listComponents},
		"tc": {"tc <component>", "set the component under test", (*Shell).testComponent},
		"mi": {"mi <port> <file>", "map an input file to a port", (*Shell).mapInput},
		"mo": {"mo <port> <file>", "map an output file to a port", (*Shell).mapOutput},
		"ps": {"ps", "print settings", (*Shell).printSettings},
		"h":  {"h", "help", (*Shell).help},
		"q":  {"q", "quit", nil},
	}
}

// Shell is the interactive two-letter command prompt.
type Shell struct {
	ctx  context.Context
	rc   *Context
	out  io.Writer
	quit bool
}

// NewShell binds a shell to a runner context.
func NewShell(rc *Context, out io.Writer) *Shell {
	return &Shell{rc: rc, out: out, ctx: context.Background()}
}

func (sh *Shell) printf(format string, args ...any) {
	fmt.Fprintf(sh.out, format, args...)
}

// Run reads commands from in until q or EOF. Command errors are printed and
// do not end the session.
func (sh *Shell) Run(ctx context.Context, in io.Reader) error {
	sh.ctx = ctx
	scanner := bufio.NewScanner(in)
	sh.printf("%s", prompt)
	for scanner.Scan() {
		if err := sh.Exec(scanner.Text()); err != nil {
			sh.printf("error: %v\n", err)
		}
		if sh.quit || ctx.Err() != nil {
			return nil
		}
		sh.printf("%s", prompt)
	}
	return scanner.Err()
}

// Exec runs one command line.
func (sh *Shell) Exec(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	name := strings.ToLower(fields[0])
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q, h for help", fields[0])
	}
	if name == "q" {
		sh.quit = true
		return nil
	}
	return cmd.run(sh, fields[1:])
}

func want(args []string, n int, usage string) error {
	if len(args) != n {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}

func (sh *Shell) conformance(args []string) error {
	sum, err := sh.rc.Run(sh.ctx)
	if err != nil {
		return err
	}
	sh.printf("%s\n", sum)
	return nil
}

func (sh *Shell) setTrace(args []string) error {
	if err := want(args, 1, commands["st"].usage); err != nil {
		return err
	}
	flags, err := logging.ParseTraceFlags(args[0])
	if err != nil {
		return err
	}
	if err := sh.rc.Update(func(cfg *config.Config) { cfg.Trace = args[0] }); err != nil {
		return err
	}
	logging.SetTraceFlags(flags)
	sh.printf("trace flags: %s\n", flags)
	return nil
}

func (sh *Shell) openLog(args []string) error {
	if err := want(args, 1, commands["ol"].usage); err != nil {
		return err
	}
	if err := logging.OpenLogFile(args[0]); err != nil {
		return err
	}
	return sh.rc.Update(func(cfg *config.Config) { cfg.LogFile = args[0] })
}

func (sh *Shell) closeLog(args []string) error {
	if err := logging.CloseLogFile(); err != nil {
		return err
	}
	return sh.rc.Update(func(cfg *config.Config) { cfg.LogFile = "" })
}

func (sh *Shell) addTest(args []string) error {
	if err := want(args, 1, commands["at"].usage); err != nil {
		return err
	}
	return sh.rc.Update(func(cfg *config.Config) {
		for _, t := range cfg.Tests {
			if t == args[0] {
				return
			}
		}
		cfg.Tests = append(cfg.Tests, args[0])
	})
}

func (sh *Shell) removeTest(args []string) error {
	if err := want(args, 1, commands["rt"].usage); err != nil {
		return err
	}
	found := false
	err := sh.rc.Update(func(cfg *config.Config) {
		if len(cfg.Tests) == 0 {
			cfg.Tests = scenario.Names()
		}
		kept := cfg.Tests[:0]
		for _, t := range cfg.Tests {
			if t == args[0] {
				found = true
				continue
			}
			kept = append(kept, t)
		}
		cfg.Tests = kept
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("test %s is not selected", args[0])
	}
	return nil
}

func (sh *Shell) listTests(args []string) error {
	cfg := sh.rc.Config()
	selected := map[string]bool{}
	for _, t := range cfg.SelectedTests() {
		selected[t] = true
	}
	for _, s := range scenario.All() {
		mark := " "
		if selected[s.Name] {
			mark = "*"
		}
		sh.printf("%s %-24s %s\n", mark, s.Name, s.Description)
	}
	return nil
}

func (sh *Shell) listComponents(args []string) error {
	names, err := sh.rc.ComponentNames()
	if err != nil {
		return err
	}
	for _, n := range names {
		sh.printf("  %s\n", n)
	}
	return nil
}

func (sh *Shell) testComponent(args []string) error {
	if err := want(args, 1, commands["tc"].usage); err != nil {
		return err
	}
	return sh.rc.Update(func(cfg *config.Config) { cfg.Component = args[0] })
}

func parsePort(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return uint32(n), nil
}

func (sh *Shell) mapInput(args []string) error {
	if err := want(args, 2, commands["mi"].usage); err != nil {
		return err
	}
	port, err := parsePort(args[0])
	if err != nil {
		return err
	}
	return sh.rc.Update(func(cfg *config.Config) { cfg.Inputs[port] = args[1] })
}

func (sh *Shell) mapOutput(args []string) error {
	if err := want(args, 2, commands["mo"].usage); err != nil {
		return err
	}
	port, err := parsePort(args[0])
	if err != nil {
		return err
	}
	return sh.rc.Update(func(cfg *config.Config) { cfg.Outputs[port] = args[1] })
}

func sortedPorts(m map[uint32]string) []uint32 {
	ports := make([]uint32, 0, len(m))
	for p := range m {
		ports = append(ports, p)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
	return ports
}

func (sh *Shell) printSettings(args []string) error {
	cfg := sh.rc.Config()
	core := cfg.CoreLibrary
	if core == "" {
		core = "(in-process test core)"
	}
	sh.printf("component:   %s\n", cfg.Component)
	sh.printf("core:        %s\n", core)
	sh.printf("tests:       %s\n", strings.Join(cfg.SelectedTests(), " "))
	sh.printf("trace:       %s\n", cfg.Trace)
	sh.printf("log file:    %s\n", cfg.LogFile)
	sh.printf("buffers:     %d (%s, %s)\n", cfg.Buffers, cfg.AllocMode, cfg.QueueOrder)
	for _, p := range sortedPorts(cfg.Inputs) {
		sh.printf("input  %3d: %s\n", p, cfg.Inputs[p])
	}
	for _, p := range sortedPorts(cfg.Outputs) {
		sh.printf("output %3d: %s\n", p, cfg.Outputs[p])
	}
	return nil
}

func (sh *Shell) help(args []string) error {
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		sh.printf("  %-20s %s\n", commands[n].usage, commands[n].help)
	}
	return nil
}
