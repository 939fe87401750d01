package scenario

import (
	"context"
	"fmt"

	"github.com/krisarmstrong/omxconf/pkg/driver"
	"github.com/krisarmstrong/omxconf/pkg/omx"
	"github.com/krisarmstrong/omxconf/pkg/probe"
)

func init() {
	register("StateTransitionTest", "walk the state machine, including same-state and illegal requests", stateTransitionTest)
	register("InvalidStateTest", "drive the component to Invalid and check every request is refused", invalidStateTest)
	register("ParameterTest", "enumerate port formats and feed malformed parameter structures", parameterTest)
}

// step is one StateSet request and what the component must answer.
type step struct {
	target omx.State
	want   omx.Error
}

var stateWalk = []step{
	{omx.StateLoaded, omx.ErrorSameState},
	{omx.StateExecuting, omx.ErrorIncorrectStateTransition},
	{omx.StatePause, omx.ErrorIncorrectStateTransition},
	{omx.StateIdle, omx.ErrorNone},
	{omx.StateIdle, omx.ErrorSameState},
	{omx.StateWaitForResources, omx.ErrorIncorrectStateTransition},
	{omx.StateExecuting, omx.ErrorNone},
	{omx.StateExecuting, omx.ErrorSameState},
	{omx.StateLoaded, omx.ErrorIncorrectStateTransition},
	{omx.StatePause, omx.ErrorNone},
	{omx.StateExecuting, omx.ErrorNone},
	{omx.StatePause, omx.ErrorNone},
	{omx.StateLoaded, omx.ErrorIncorrectStateTransition},
	{omx.StateIdle, omx.ErrorNone},
	{omx.StatePause, omx.ErrorNone},
	{omx.StateIdle, omx.ErrorNone},
	{omx.StateLoaded, omx.ErrorNone},
	{omx.StateWaitForResources, omx.ErrorNone},
	{omx.StateIdle, omx.ErrorIncorrectStateTransition},
	{omx.StateWaitForResources, omx.ErrorSameState},
	{omx.StateLoaded, omx.ErrorNone},
}

func stateTransitionTest(ctx context.Context, env *Env) (err error) {
	s := newSession(env)
	defer func() { err = s.finish(err) }()

	d, err := s.cut()
	if err != nil {
		return err
	}
	for i, st := range stateWalk {
		if err := ctx.Err(); err != nil {
			return err
		}
		from := d.State()
		callbacks := d.StateCallbacks()
		if st.want == omx.ErrorNone {
			err = d.Transition(st.target)
		} else {
			err = d.ExpectTransitionError(st.target, st.want)
		}
		if err != nil {
			return fmt.Errorf("step %d (%s -> %s): %w", i, from, st.target, err)
		}
		if st.want == omx.ErrorSameState && d.StateCallbacks() != callbacks {
			return &driver.ViolationError{Op: fmt.Sprintf("step %d", i), Detail: "state changed callback for a same-state request"}
		}
		if _, err := d.CheckState(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if err := checkAccounting(d); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}

func invalidStateTest(ctx context.Context, env *Env) (err error) {
	s := newSession(env)
	defer func() { err = s.finish(err) }()

	d, err := s.cut()
	if err != nil {
		return err
	}
	if err := walk(d, omx.StateIdle); err != nil {
		return err
	}
	if err := d.Transition(omx.StateInvalid); err != nil {
		return fmt.Errorf("enter Invalid: %w", err)
	}
	if st := d.State(); st != omx.StateInvalid {
		return fmt.Errorf("shadow state %s after entering Invalid", st)
	}

	for _, target := range []omx.State{omx.StateLoaded, omx.StateIdle, omx.StateExecuting} {
		if err := d.ExpectTransitionError(target, omx.ErrorInvalidState); err != nil {
			return err
		}
	}
	for _, p := range d.Registry().Ports() {
		def := omx.NewPortDefinition(p.Index)
		if err := driver.ExpectError("GetParameter in Invalid",
			d.Component().GetParameter(omx.IndexParamPortDefinition, def), omx.ErrorInvalidState); err != nil {
			return err
		}
		if err := driver.ExpectError("Flush in Invalid",
			d.SendCommand(omx.CommandFlush, p.Index, nil), omx.ErrorInvalidState); err != nil {
			return err
		}
	}
	return nil
}

func parameterTest(ctx context.Context, env *Env) (err error) {
	s := newSession(env)
	defer func() { err = s.finish(err) }()

	d, err := s.cut()
	if err != nil {
		return err
	}
	comp := d.Component()
	findings := []probe.Finding{probe.CheckVersion(comp)}
	bogus := d.Registry().BogusIndex()
	for _, p := range d.Registry().Ports() {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, f, err := probe.EnumerateFormats(comp, p.Index)
		if err != nil {
			return err
		}
		findings = append(findings, f...)
		findings = append(findings, probe.NegativeParams(comp, p.Index, bogus)...)
	}
	if _, err := d.CheckState(); err != nil {
		return err
	}
	return probe.Error(findings)
}
