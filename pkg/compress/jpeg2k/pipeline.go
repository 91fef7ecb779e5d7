package jpeg2k

import "fmt"

// step is one named procedure of a codec pipeline
type step struct {
	name string
	run  func() error
}

// pipeline runs its steps in order and stops at the first failure
type pipeline []step

func (p *pipeline) add(name string, run func() error) {
	*p = append(*p, step{name: name, run: run})
}

func (p pipeline) exec() error {
	for _, s := range p {
		if err := s.run(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}
