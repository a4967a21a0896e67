package dpos

import (
	"time"

	"github.com/dposnet/dposd/domain/chainconfig"
	"github.com/dposnet/dposd/util/mstime"
)

// Slots maps time to forging slots. Times are seconds since the network
// epoch.
type Slots struct {
	params     *chainconfig.Params
	timeSource mstime.TimeSource
}

// NewSlots returns the slot clock of params.
func NewSlots(params *chainconfig.Params, timeSource mstime.TimeSource) *Slots {
	return &Slots{params: params, timeSource: timeSource}
}

// GetTime returns t in seconds since the epoch.
func (s *Slots) GetTime(t time.Time) uint32 {
	seconds := int64(t.Sub(s.params.Epoch) / time.Second)
	if seconds < 0 {
		return 0
	}
	return uint32(seconds)
}

// Now returns the current time in seconds since the epoch.
func (s *Slots) Now() uint32 {
	return s.GetTime(s.timeSource.Now())
}

// RealTime returns the wall clock time of epochTime.
func (s *Slots) RealTime(epochTime uint32) time.Time {
	return s.params.Epoch.Add(time.Duration(epochTime) * time.Second)
}

// GetSlotNumber returns the slot epochTime falls into.
func (s *Slots) GetSlotNumber(epochTime uint32) int64 {
	return int64(epochTime) / s.params.SlotDuration()
}

// CurrentSlot returns the slot of the current time.
func (s *Slots) CurrentSlot() int64 {
	return s.GetSlotNumber(s.Now())
}

// GetSlotTime returns the time slot starts at.
func (s *Slots) GetSlotTime(slot int64) uint32 {
	return uint32(slot * s.params.SlotDuration())
}

// GetNextSlot returns the slot after the current one.
func (s *Slots) GetNextSlot() int64 {
	return s.CurrentSlot() + 1
}

// GetLastSlot returns the last slot of the round starting at nextSlot.
func (s *Slots) GetLastSlot(nextSlot int64) int64 {
	return nextSlot + int64(s.params.ActiveDelegates)
}

// Round returns the round height belongs to.
func (s *Slots) Round(height uint64) uint64 {
	return RoundOf(height, s.params.ActiveDelegates)
}

// RoundOf returns the round height belongs to, counting from 1.
func RoundOf(height uint64, activeDelegates uint32) uint64 {
	delegates := uint64(activeDelegates)
	return (height + delegates - 1) / delegates
}

// FirstHeightOfRound returns the first height of round.
func FirstHeightOfRound(round uint64, activeDelegates uint32) uint64 {
	return (round-1)*uint64(activeDelegates) + 1
}

// IsLastOfRound returns whether height is the last height of its round.
func IsLastOfRound(height uint64, activeDelegates uint32) bool {
	return height%uint64(activeDelegates) == 0
}
