package compile

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/specterhq/specter/internal/spec"
)

// CompileError is a definition error with its source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CompileMachine parses one CUE machine struct into a spec.Machine.
//
// The CUE value should be the machine struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`machine: pipeline: { ... }`)
//	m, err := CompileMachine(v.LookupPath(cue.ParsePath("machine.pipeline")))
//
// The machine identifier is taken from the struct label.
func CompileMachine(v cue.Value) (*spec.Machine, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	var id string
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		id = labels[len(labels)-1].String()
	}

	initialVal := v.LookupPath(cue.ParsePath("initial"))
	if !initialVal.Exists() {
		return nil, &CompileError{
			Field:   "initial",
			Message: "initial state is required",
			Pos:     v.Pos(),
		}
	}
	initial, err := initialVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}

	states, err := parseStates(v)
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return nil, &CompileError{
			Field:   "state",
			Message: "at least one state is required",
			Pos:     v.Pos(),
		}
	}

	defs, err := parseTransitions(v)
	if err != nil {
		return nil, err
	}

	forbidden, err := parseForbidden(v)
	if err != nil {
		return nil, err
	}

	return spec.New(id, initial, states, defs, forbidden), nil
}

func parseStates(v cue.Value) ([]spec.State, error) {
	stateVal := v.LookupPath(cue.ParsePath("state"))
	if !stateVal.Exists() {
		return nil, nil
	}

	iter, err := stateVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var states []spec.State
	for iter.Next() {
		sv := iter.Value()
		state := spec.State{ID: iter.Label()}

		if descVal := sv.LookupPath(cue.ParsePath("description")); descVal.Exists() {
			if state.Description, err = descVal.String(); err != nil {
				return nil, formatCUEError(err)
			}
		}
		if termVal := sv.LookupPath(cue.ParsePath("terminal")); termVal.Exists() {
			if state.Terminal, err = termVal.Bool(); err != nil {
				return nil, formatCUEError(err)
			}
		}
		if invVal := sv.LookupPath(cue.ParsePath("invariant")); invVal.Exists() {
			state.Invariant, err = parseExprField(invVal, "state."+state.ID+".invariant")
			if err != nil {
				return nil, err
			}
		}

		states = append(states, state)
	}
	return states, nil
}

func parseTransitions(v cue.Value) ([]spec.TransitionDef, error) {
	transVal := v.LookupPath(cue.ParsePath("transition"))
	if !transVal.Exists() {
		return nil, nil
	}

	iter, err := transVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var defs []spec.TransitionDef
	for iter.Next() {
		def, err := parseTransition(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func parseTransition(id string, v cue.Value) (spec.TransitionDef, error) {
	field := func(name string) string { return "transition." + id + "." + name }
	def := spec.TransitionDef{ID: id, Mode: spec.ModeTrigger}

	fromVal := v.LookupPath(cue.ParsePath("from"))
	if !fromVal.Exists() {
		return def, &CompileError{Field: field("from"), Message: "source state is required", Pos: v.Pos()}
	}
	sources, err := parseSources(fromVal)
	if err != nil {
		return def, err
	}
	def.Sources = sources

	toVal := v.LookupPath(cue.ParsePath("to"))
	if !toVal.Exists() {
		return def, &CompileError{Field: field("to"), Message: "target state is required", Pos: v.Pos()}
	}
	if def.Target, err = toVal.String(); err != nil {
		return def, formatCUEError(err)
	}

	if modeVal := v.LookupPath(cue.ParsePath("mode")); modeVal.Exists() {
		mode, err := modeVal.String()
		if err != nil {
			return def, formatCUEError(err)
		}
		switch spec.ActivationMode(mode) {
		case spec.ModeTrigger, spec.ModeWait:
			def.Mode = spec.ActivationMode(mode)
		default:
			return def, &CompileError{
				Field:   field("mode"),
				Message: fmt.Sprintf("unknown mode %q (want %q or %q)", mode, spec.ModeTrigger, spec.ModeWait),
				Pos:     modeVal.Pos(),
			}
		}
	}

	entryVal := v.LookupPath(cue.ParsePath("entry"))
	if !entryVal.Exists() {
		return def, &CompileError{Field: field("entry"), Message: "entry point is required", Pos: v.Pos()}
	}
	if def.Entry, err = entryVal.String(); err != nil {
		return def, formatCUEError(err)
	}

	if argsVal := v.LookupPath(cue.ParsePath("args")); argsVal.Exists() {
		argsIter, err := argsVal.Fields()
		if err != nil {
			return def, formatCUEError(err)
		}
		def.Args = spec.Env{}
		for argsIter.Next() {
			val, err := extractValue(argsIter.Value(), field("args."+argsIter.Label()))
			if err != nil {
				return def, err
			}
			def.Args[argsIter.Label()] = val
		}
	}

	if expectVal := v.LookupPath(cue.ParsePath("expect")); expectVal.Exists() {
		if def.Expect, err = extractValue(expectVal, field("expect")); err != nil {
			return def, err
		}
	}

	if captureVal := v.LookupPath(cue.ParsePath("capture")); captureVal.Exists() {
		if def.Capture, err = captureVal.String(); err != nil {
			return def, formatCUEError(err)
		}
	}

	if guardVal := v.LookupPath(cue.ParsePath("guard")); guardVal.Exists() {
		if def.Guard, err = parseExprField(guardVal, field("guard")); err != nil {
			return def, err
		}
	}

	if def.Interval, err = parseDurationField(v, "interval", field("interval")); err != nil {
		return def, err
	}
	if def.Timeout, err = parseDurationField(v, "timeout", field("timeout")); err != nil {
		return def, err
	}

	if budgetVal := v.LookupPath(cue.ParsePath("budget")); budgetVal.Exists() {
		if def.Budget, err = parseBudget(budgetVal, field("budget")); err != nil {
			return def, err
		}
	}

	return def, nil
}

// parseSources accepts a single state name, the wildcard, or a list of
// state names.
func parseSources(v cue.Value) ([]string, error) {
	if src, err := v.String(); err == nil {
		return []string{src}, nil
	}

	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var sources []string
	for iter.Next() {
		src, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func parseBudget(v cue.Value, field string) (spec.Budget, error) {
	var b spec.Budget
	var err error

	if b.MaxTime, err = parseDurationField(v, "max_time", field+".max_time"); err != nil {
		return b, err
	}

	if memVal := v.LookupPath(cue.ParsePath("max_memory")); memVal.Exists() {
		if b.MaxMemory, err = parseMemory(memVal, field+".max_memory"); err != nil {
			return b, err
		}
	}

	if classVal := v.LookupPath(cue.ParsePath("complexity")); classVal.Exists() {
		class, err := classVal.String()
		if err != nil {
			return b, formatCUEError(err)
		}
		b.Complexity = spec.ComplexityClass(class)
		if !b.Complexity.Valid() {
			return b, &CompileError{
				Field:   field + ".complexity",
				Message: fmt.Sprintf("unknown complexity class %q", class),
				Pos:     classVal.Pos(),
			}
		}
	}

	return b, nil
}

func parseDurationField(v cue.Value, name, field string) (time.Duration, error) {
	dv := v.LookupPath(cue.ParsePath(name))
	if !dv.Exists() {
		return 0, nil
	}
	s, err := dv.String()
	if err != nil {
		return 0, formatCUEError(err)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("invalid duration %q: %v", s, err),
			Pos:     dv.Pos(),
		}
	}
	if d < 0 {
		return 0, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("duration %q must not be negative", s),
			Pos:     dv.Pos(),
		}
	}
	return d, nil
}

// parseMemory accepts a plain byte count or a suffixed string such as
// "64MB". Suffixes are powers of 1024.
func parseMemory(v cue.Value, field string) (int64, error) {
	if n, err := v.Int64(); err == nil {
		if n < 0 {
			return 0, &CompileError{Field: field, Message: "memory limit must not be negative", Pos: v.Pos()}
		}
		return n, nil
	}

	s, err := v.String()
	if err != nil {
		return 0, formatCUEError(err)
	}

	upper := strings.ToUpper(strings.TrimSpace(s))
	multiplier := int64(1)
	for _, suffix := range []struct {
		tag  string
		mult int64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	} {
		if strings.HasSuffix(upper, suffix.tag) {
			upper = strings.TrimSuffix(upper, suffix.tag)
			multiplier = suffix.mult
			break
		}
	}

	n, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil || n < 0 {
		return 0, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("invalid memory limit %q (want bytes or a KB/MB/GB suffix)", s),
			Pos:     v.Pos(),
		}
	}
	return n * multiplier, nil
}

func parseExprField(v cue.Value, field string) (*spec.Expr, error) {
	src, err := v.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	expr, err := spec.ParseExpr(src)
	if err != nil {
		return nil, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("invalid expression %q: %v", src, err),
			Pos:     v.Pos(),
		}
	}
	return expr, nil
}

// extractValue converts a concrete CUE scalar into a spec.Value.
func extractValue(v cue.Value, field string) (spec.Value, error) {
	switch v.Kind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return spec.String(s), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return spec.Int(n), nil
	case cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return spec.Float(f), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return spec.Bool(b), nil
	default:
		return nil, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("unsupported value kind %v (want string, int, float, or bool)", v.Kind()),
			Pos:     v.Pos(),
		}
	}
}

func parseForbidden(v cue.Value) ([]spec.ForbiddenEdge, error) {
	listVal := v.LookupPath(cue.ParsePath("forbidden"))
	if !listVal.Exists() {
		return nil, nil
	}

	iter, err := listVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var edges []spec.ForbiddenEdge
	for iter.Next() {
		ev := iter.Value()
		var edge spec.ForbiddenEdge

		fromVal := ev.LookupPath(cue.ParsePath("from"))
		toVal := ev.LookupPath(cue.ParsePath("to"))
		if !fromVal.Exists() || !toVal.Exists() {
			return nil, &CompileError{
				Field:   "forbidden",
				Message: "forbidden edges need both from and to",
				Pos:     ev.Pos(),
			}
		}
		if edge.Source, err = fromVal.String(); err != nil {
			return nil, formatCUEError(err)
		}
		if edge.Target, err = toVal.String(); err != nil {
			return nil, formatCUEError(err)
		}
		if reasonVal := ev.LookupPath(cue.ParsePath("reason")); reasonVal.Exists() {
			if edge.Reason, err = reasonVal.String(); err != nil {
				return nil, formatCUEError(err)
			}
		}

		edges = append(edges, edge)
	}
	return edges, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
