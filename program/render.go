package program

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// WriteText renders the instruction stream one instruction per line with
// loop bodies indented.
func WriteText(w io.Writer, p *Program) error {
	depth := 0
	for _, in := range p.instrs {
		if in.Op == OpLoopEnd && depth > 0 {
			depth--
		}
		line := strings.Repeat("  ", depth) + p.textLine(in)
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
		if in.Op == OpLoopBegin {
			depth++
		}
	}
	return nil
}

func (p *Program) textLine(in Instruction) string {
	switch in.Op {
	case OpDeclare:
		return fmt.Sprintf("declare %s %s = %s", in.Var.Type, in.Var.Name, in.Value)
	case OpAssign:
		return fmt.Sprintf("assign %s = %s", in.Var.Name, in.Value)
	case OpStep:
		scale := in.Value
		if ch, ok := p.channels[in.Channel]; ok {
			scale = ch.AmplitudeScale(in.Value)
		}
		return fmt.Sprintf("step %s delta=%s scale=%s duration=%s", in.Channel, in.Value, scale, in.Duration)
	case OpRamp:
		return fmt.Sprintf("ramp %s delta=%s duration=%s", in.Channel, in.Value, in.Duration)
	case OpHold, OpWait:
		return fmt.Sprintf("%s %s duration=%s", in.Op, in.Channel, in.Duration)
	case OpRampToZero:
		return fmt.Sprintf("ramp_to_zero %s", in.Channel)
	case OpLoopBegin:
		return fmt.Sprintf("loop %s {", in.Value)
	case OpLoopEnd:
		return "}"
	}
	return in.Op.String()
}

type jsonInstruction struct {
	Op       string `json:"op"`
	Channel  string `json:"channel,omitempty"`
	Var      string `json:"var,omitempty"`
	Type     string `json:"type,omitempty"`
	Value    string `json:"value,omitempty"`
	Duration string `json:"duration,omitempty"`
}

type jsonProgram struct {
	ID           string            `json:"id"`
	Inputs       []string          `json:"inputs,omitempty"`
	Instructions []jsonInstruction `json:"instructions"`
}

// WriteJSON renders the program as an indented JSON document.
func WriteJSON(w io.Writer, p *Program) error {
	doc := jsonProgram{ID: p.id, Instructions: make([]jsonInstruction, 0, len(p.instrs))}
	for _, v := range p.vars {
		if v.Input {
			doc.Inputs = append(doc.Inputs, v.Name)
		}
	}
	for _, in := range p.instrs {
		ji := jsonInstruction{Op: in.Op.String(), Channel: in.Channel}
		if in.Var != nil {
			ji.Var = in.Var.Name
			ji.Type = in.Var.Type.String()
		}
		if in.Value.IsSet() {
			ji.Value = in.Value.String()
		}
		if in.Duration.IsSet() {
			ji.Duration = in.Duration.String()
		}
		doc.Instructions = append(doc.Instructions, ji)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
