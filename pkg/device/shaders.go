package device

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"brickstream/pkg/compositor"
)

// program records the parameters set on it
type program struct {
	desc     compositor.ProgramDesc
	bound    bool
	binds    int
	vec4     [compositor.NumSlots][4]float64
	matrices [compositor.NumMatrixSlots]*mat.Dense
	samplers map[compositor.Sampler]int
}

func (p *program) Bind() {
	p.bound = true
	p.binds++
}

func (p *program) Release() { p.bound = false }

func (p *program) SetVec4(slot compositor.Slot, v [4]float64) {
	p.vec4[slot] = v
}

func (p *program) SetMatrix(slot compositor.MatrixSlot, m mat.Matrix) {
	p.matrices[slot] = mat.DenseCopyOf(m)
}

func (p *program) SetSampler(s compositor.Sampler, unit int) {
	p.samplers[s] = unit
}

type shaderCache struct {
	programs map[compositor.ProgramDesc]*program
	fail     bool
}

func newShaderCache() *shaderCache {
	return &shaderCache{
		programs: make(map[compositor.ProgramDesc]*program),
	}
}

// Program returns the cached program for desc, building it on first use
func (d *Device) Program(desc compositor.ProgramDesc) (compositor.Program, error) {
	if d.cache.fail {
		return nil, fmt.Errorf("device: program %+v failed to build", desc)
	}
	p, ok := d.cache.programs[desc]
	if !ok {
		p = &program{desc: desc, samplers: make(map[compositor.Sampler]int)}
		d.cache.programs[desc] = p
	}
	return p, nil
}

// FailPrograms makes every program lookup fail until reset
func (d *Device) FailPrograms(fail bool) { d.cache.fail = fail }

// Programs returns the number of distinct programs built
func (d *Device) Programs() int { return len(d.cache.programs) }

// ProgramParams returns the color slot and bind count of a built program
func (d *Device) ProgramParams(desc compositor.ProgramDesc) (color [4]float64, binds int, ok bool) {
	p, ok := d.cache.programs[desc]
	if !ok {
		return color, 0, false
	}
	return p.vec4[compositor.SlotColor], p.binds, true
}
