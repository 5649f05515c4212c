// Package tracker implements Trackers, which record data generated
// during an experiment and save it to disk once the experiment ends
package tracker

import (
	"encoding/gob"
	"log"
	"os"

	ts "sfneuman.com/gooption/timestep"
)

// Tracker records experiment data timestep by timestep and saves the
// recorded data after the experiment has finished
type Tracker interface {
	Track(t ts.TimeStep)
	Save()
}

// LoadData loads and returns the data saved by a Tracker
func LoadData(filename string) []float64 {
	file, err := os.Open(filename)
	if err != nil {
		log.Fatalf("could not open data file: %v", err)
	}
	defer file.Close()

	dec := gob.NewDecoder(file)
	var data []float64

	if err := dec.Decode(&data); err != nil {
		log.Fatalf("could not decode data: %v", err)
	}

	return data
}
