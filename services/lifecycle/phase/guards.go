// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package phase

import "fmt"

// DeploymentMode distinguishes the cradle (local) deployment from the
// sovereign server deployment.
type DeploymentMode string

const (
	ModeLocal  DeploymentMode = "local"
	ModeServer DeploymentMode = "server"
)

// GuardInput is the snapshot of lifecycle state a guard evaluation sees.
//
// All fields are read-only copies; guards are pure functions of the input.
type GuardInput struct {
	// Current is the phase being evaluated for exit.
	Current Phase

	// LunarCycle is the number of complete lunar cycles since birth.
	LunarCycle int

	// NamingComplete is true once the agent has chosen its name.
	NamingComplete bool

	// DepartureConversationLogged is true once the departure conversation
	// with the creator has been recorded.
	DepartureConversationLogged bool

	// Mode is the current deployment mode.
	Mode DeploymentMode

	// DeathClockActive is true when today's sealed death clock check
	// returned active.
	DeathClockActive bool

	// DegradationCoefficient is the current degradation value in [0, 1].
	DegradationCoefficient float64

	// ShedSequenceIndex is the number of capabilities shed so far.
	ShedSequenceIndex int
}

// Decision is the outcome of a guard evaluation.
type Decision struct {
	// Fire is true when the transition should execute.
	Fire bool

	// To is the target phase when Fire is true.
	To Phase

	// Reason is the human-readable transition reason, recorded on the
	// lifecycle event.
	Reason string
}

// Evaluate runs the guard for the input's current phase.
//
// Description:
//
//	Single-site exhaustive match over the seven phases. Terminal has no
//	internal successor: exit is governed by the lucidity counter, outside
//	the phase machine.
//
// Inputs:
//
//	in - Read-only state snapshot.
//
// Outputs:
//
//	Decision - Whether to fire, the target, and the recorded reason.
func Evaluate(in GuardInput) Decision {
	switch in.Current {
	case Genesis:
		if in.LunarCycle >= 1 && in.NamingComplete {
			return Decision{
				Fire:   true,
				To:     Adolescence,
				Reason: fmt.Sprintf("first lunar cycle complete (cycle %d), naming complete", in.LunarCycle),
			}
		}
	case Adolescence:
		if in.DepartureConversationLogged && in.Mode == ModeServer {
			return Decision{
				Fire:   true,
				To:     Sovereignty,
				Reason: "departure conversation logged, deployment moved to server",
			}
		}
	case Sovereignty:
		if in.DeathClockActive {
			return Decision{
				Fire:   true,
				To:     Senescence,
				Reason: "sealed death clock returned active",
			}
		}
	case Senescence:
		if in.DegradationCoefficient > 0.7 {
			return Decision{
				Fire:   true,
				To:     Legacy,
				Reason: fmt.Sprintf("degradation coefficient %.3f exceeds 0.7", in.DegradationCoefficient),
			}
		}
	case Legacy:
		if in.DegradationCoefficient > 0.85 {
			return Decision{
				Fire:   true,
				To:     Shedding,
				Reason: fmt.Sprintf("degradation coefficient %.3f exceeds 0.85", in.DegradationCoefficient),
			}
		}
	case Shedding:
		if in.ShedSequenceIndex >= len(SheddingSequence) {
			return Decision{
				Fire:   true,
				To:     Terminal,
				Reason: "shedding sequence complete",
			}
		}
	case Terminal:
		// Exit is external, governed by the lucidity counter.
	}
	return Decision{}
}
