package arttest

import (
	"github.com/pkg/errors"
	"golang.org/x/arch/arm64/arm64asm"

	"github.com/pboyd/arthook/memory"
)

// ErrRunaway is returned when an invocation exceeds StepLimit instructions.
var ErrRunaway = errors.New("step limit exceeded")

// execute interprets AArch64 code starting at pc with x0 set to record, until
// it reaches a registered body. Only the instructions used by method
// prologues and dispatch code are implemented.
func (r *Runtime) execute(pc, record uint64, receiver any, args []any) (any, error) {
	var (
		x    [32]uint64
		zero bool
	)
	x[0] = record

	for step := 0; step < r.StepLimit; step++ {
		if body, ok := r.bodies[pc]; ok {
			m, ok := r.methods[x[0]]
			if !ok {
				return nil, errors.Errorf("body at %#x entered with unknown record %#x", pc, x[0])
			}
			if body == nil {
				return nil, nil
			}
			return body(&Call{Runtime: r, Method: m, Receiver: receiver, Args: args})
		}

		raw, err := r.Mem.Read(pc, 4)
		if err != nil {
			return nil, errors.Wrapf(err, "instruction fetch at %#x", pc)
		}
		inst, err := arm64asm.Decode(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "decode at %#x", pc)
		}

		next := pc + 4
		switch inst.Op {
		case arm64asm.NOP:

		case arm64asm.LDR:
			rel, ok := inst.Args[1].(arm64asm.PCRel)
			if !ok || inst.Enc>>30 != 1 {
				return nil, errors.Errorf("unsupported %v at %#x", inst, pc)
			}
			v, err := memory.ReadWord(r.Mem, pc+uint64(rel), 8)
			if err != nil {
				return nil, errors.Wrapf(err, "literal load at %#x", pc)
			}
			x[inst.Enc&31] = v

		case arm64asm.CMP:
			rn, rm := inst.Enc>>5&31, inst.Enc>>16&31
			zero = x[rn] == x[rm]

		case arm64asm.B:
			var (
				taken = true
				rel   arm64asm.PCRel
			)
			switch a := inst.Args[0].(type) {
			case arm64asm.Cond:
				switch a.Value {
				case 0: // EQ
					taken = zero
				case 1: // NE
					taken = !zero
				default:
					return nil, errors.Errorf("unsupported condition in %v at %#x", inst, pc)
				}
				rel = inst.Args[1].(arm64asm.PCRel)
			case arm64asm.PCRel:
				rel = a
			}
			if taken {
				next = pc + uint64(rel)
			}

		case arm64asm.BR:
			next = x[inst.Enc>>5&31]

		default:
			return nil, errors.Errorf("unsupported %v at %#x", inst, pc)
		}
		pc = next
	}

	return nil, errors.Wrapf(ErrRunaway, "%d instructions", r.StepLimit)
}
