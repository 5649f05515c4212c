// Package experiment implements functionality for running an experiment
package experiment

import (
	"sfneuman.com/gooption/experiment/tracker"
	ts "sfneuman.com/gooption/timestep"
)

// Experiment outlines structs that can run experiments. The Run()
// method runs episodes until the experiment's timestep limit is
// reached, and RunEpisode() runs a single episode.
//
// Experiments record data through tracker.Trackers. Every environment
// TimeStep is sent to each registered Tracker, which decides what data
// from the timestep to cache. Save() writes all cached data to disk,
// usually after the experiment has been run. New Trackers can be
// registered through the constructor or through Register().
type Experiment interface {
	Run()
	RunEpisode() bool // Returns whether the timestep limit was reached

	// Sends the current timestep to each registered Tracker
	track(ts.TimeStep)

	// Save all tracked data to disk
	Save()

	// Register adds a Tracker to the (possibly already running)
	// experiment. Useful to start tracking data only after a
	// specified event.
	Register(t tracker.Tracker)
}
