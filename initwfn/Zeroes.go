package initwfn

import G "gorgonia.org/gorgonia"

type ZeroesConfig struct {
}

// NewZeroes returns a new all-zero weight initializer
func NewZeroes() (*InitWFn, error) {
	config := ZeroesConfig{}

	return newInitWFn(config)
}

func (z ZeroesConfig) Type() Type {
	return Zeroes
}

func (z ZeroesConfig) Create() G.InitWFn {
	return G.Zeroes()
}
