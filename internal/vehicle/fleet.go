// Package vehicle runs the per-vehicle conductor/driver pair as its own
// goroutine (SPEC_FULL.md §5 "Per-vehicle conductor loop (N_vehicles)" and
// "Per-vehicle driver loop (N_vehicles)"). The lifecycle shape — a
// map of running entities guarded by a mutex, each with its own stop
// channel, joined on shutdown via a WaitGroup — is the same one
// other_examples' courier-emulation delivery simulator uses per delivery.
package vehicle

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/citytransit/simcore/internal/model"
)

// Driver is the subset of *driver.Driver a Runner depends on.
type Driver interface {
	Start(now time.Time, boardingDelaySeconds int)
	Tick(now time.Time, dt time.Duration)
	Location() (model.Location, model.Direction)
	State() model.DriverState
}

// Conductor is the subset of *conductor.Conductor a Runner depends on.
type Conductor interface {
	Tick(now time.Time, vehicleLoc model.Location, direction model.Direction) bool
}

// Runner ticks one vehicle's driver then its conductor, every interval,
// until stopped.
type Runner struct {
	vehicleID            string
	driver               Driver
	conductor            Conductor
	interval             time.Duration
	boardingDelaySeconds int

	stopCh chan struct{}
}

// NewRunner constructs a Runner for one vehicle. Call Run in its own
// goroutine (the Fleet below does this for you).
func NewRunner(vehicleID string, d Driver, c Conductor, interval time.Duration, boardingDelaySeconds int) *Runner {
	return &Runner{
		vehicleID:            vehicleID,
		driver:               d,
		conductor:            c,
		interval:             interval,
		boardingDelaySeconds: boardingDelaySeconds,
		stopCh:               make(chan struct{}),
	}
}

// Run starts the vehicle (DISEMBARKED -> BOARDING) and ticks it every
// interval until ctx is cancelled or Stop is called.
func (r *Runner) Run(ctx context.Context) {
	now := time.Now()
	r.driver.Start(now, r.boardingDelaySeconds)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	last := now
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			r.driver.Tick(now, dt)
			loc, dir := r.driver.Location()
			r.conductor.Tick(now, loc, dir)
		}
	}
}

// Stop signals Run to return without waiting for ctx cancellation.
func (r *Runner) Stop() { close(r.stopCh) }

// Fleet owns one Runner per vehicle and joins them all on Shutdown.
type Fleet struct {
	mu      sync.Mutex
	runners map[string]*Runner
	wg      sync.WaitGroup
}

// NewFleet constructs an empty Fleet.
func NewFleet() *Fleet {
	return &Fleet{runners: make(map[string]*Runner)}
}

// Add registers and starts a vehicle's Runner in its own goroutine.
func (f *Fleet) Add(ctx context.Context, r *Runner) {
	f.mu.Lock()
	f.runners[r.vehicleID] = r
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		r.Run(ctx)
	}()
}

// Remove stops and unregisters a single vehicle without affecting the rest
// of the fleet.
func (f *Fleet) Remove(vehicleID string) {
	f.mu.Lock()
	r, ok := f.runners[vehicleID]
	if ok {
		delete(f.runners, vehicleID)
	}
	f.mu.Unlock()
	if ok {
		r.Stop()
	}
}

// Size returns the number of vehicles currently running.
func (f *Fleet) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runners)
}

// Shutdown stops every runner and waits for all of their goroutines to
// return.
func (f *Fleet) Shutdown() {
	f.mu.Lock()
	for _, r := range f.runners {
		r.Stop()
	}
	f.mu.Unlock()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Println("[fleet] shutdown timed out waiting for vehicle runners")
	}
}
