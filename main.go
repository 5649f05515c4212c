package main

import (
	"fmt"

	"sfneuman.com/gooption/agent/nonlinear/discrete/optioncritic"
	"sfneuman.com/gooption/environment/catcher"
	"sfneuman.com/gooption/experiment"
	"sfneuman.com/gooption/experiment/tracker"
	"sfneuman.com/gooption/expreplay"
	"sfneuman.com/gooption/initwfn"
	"sfneuman.com/gooption/solver"
)

func main() {
	var seed uint64 = 192382

	// Create the environment
	rows, cols := 10, 10
	env, _, err := catcher.NewWithRandomStart(rows, cols, seed, 0.99, 250)
	if err != nil {
		panic(err)
	}

	// Create the solvers and the weight initializer
	criticSol, err := solver.NewDefaultRMSProp(0.00025, 32)
	if err != nil {
		panic(err)
	}
	actorSol, err := solver.NewDefaultRMSProp(0.00025, 1)
	if err != nil {
		panic(err)
	}
	initWFn, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		panic(err)
	}

	// Create the learning algorithm
	conf := optioncritic.Config{
		Channels:   env.Channels(),
		Rows:       rows,
		Cols:       cols,
		Filters:    []int{8, 16},
		Kernels:    []int{3, 3},
		Strides:    []int{1, 1},
		HiddenSize: 64,
		NumOptions: 4,

		InitWFn:      initWFn,
		CriticSolver: criticSol,
		ActorSolver:  actorSol,

		EpsStart: 1.0,
		EpsMin:   0.1,
		EpsDecay: 20_000,
		EpsTest:  0.05,

		Gamma:          0.99,
		ClipDelta:      1.0,
		TerminationReg: 0.01,
		EntropyReg:     0.01,

		ExpReplay: expreplay.Config{
			RemoveMethod:      expreplay.Fifo,
			SampleMethod:      expreplay.Uniform,
			RemoveSize:        1,
			SampleSize:        32,
			MaxReplayCapacity: 10_000,
			MinReplayCapacity: 500,
		},

		UpdateInterval:       4,
		Tau:                  1.0,
		TargetUpdateInterval: 1_000,
	}
	a, err := conf.CreateAgent(env, seed)
	if err != nil {
		panic(err)
	}

	// Experiment
	var saver tracker.Tracker = tracker.NewReturn("./data.bin")
	e := experiment.NewOnline(env, a, 100_000, saver)
	e.Run()
	e.Save()

	data := tracker.LoadData("./data.bin")
	fmt.Println(data[len(data)-10:])
}
