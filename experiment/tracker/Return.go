package tracker

import (
	"encoding/gob"
	"fmt"
	"log"
	"os"

	ts "sfneuman.com/gooption/timestep"
)

// Return tracks and saves the episodic return in an experiment. The
// rewards of each TimeStep it is given are accumulated into the return
// of the current episode, and the accumulated return is cached when the
// episode's last timestep arrives.
//
// An episode must finish for its return to be saved. If the last
// episode in an experiment does not finish, that episode's return is
// dropped.
type Return struct {
	lastTimeStep   int
	currentReturn  float64
	episodeReturns []float64
	filename       string
}

// NewReturn creates and returns a new *Return Tracker
func NewReturn(filename string) Tracker {
	return &Return{
		lastTimeStep: -1,
		filename:     filename,
	}
}

// Track accumulates the reward seen on a timestep into the current
// episode's return. Episode boundaries are detected from the timestep
// itself, so a new episode starts accumulating automatically.
//
// Track panics if it is called on non-sequential timesteps.
func (r *Return) Track(step ts.TimeStep) {
	if r.lastTimeStep+1 != step.Number {
		panic(fmt.Sprintf("track: non-sequential timesteps: timestep %v "+
			"--> timestep %v", r.lastTimeStep, step.Number))
	}

	r.currentReturn += step.Reward

	if step.Last() {
		r.episodeReturns = append(r.episodeReturns, r.currentReturn)
		r.currentReturn = 0.0
		r.lastTimeStep = -1
	} else {
		r.lastTimeStep = step.Number
	}
}

// Save saves the episodic returns to disk
func (r *Return) Save() {
	file, err := os.Create(r.filename)
	if err != nil {
		log.Fatalf("could not open save file: %v", err)
	}
	defer file.Close()

	en := gob.NewEncoder(file)
	if err := en.Encode(r.episodeReturns); err != nil {
		log.Fatalf("could not encode return data: %v", err)
	}
}
