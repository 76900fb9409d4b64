// Package consensus resolves a round of submitted votes into an estimate
// according to the room's consensus mode. Resolve is a pure function; all
// state transitions it implies are applied by the session engine under the
// room lock.
package consensus

import (
	"math"
	"sort"
	"strconv"

	"github.com/agilecards/agilecards/internal/models"
)

// Status is the result category of a reveal attempt.
type Status string

const (
	// StatusValidated means an estimate was produced and the round advances.
	StatusValidated Status = "validated"
	// StatusWait means quorum has not been met and nothing changes.
	StatusWait Status = "wait"
	// StatusRevote means strict mode found no unanimity; votes are cleared
	// and the round repeats.
	StatusRevote Status = "revote"
	// StatusSkipped means a forced reveal found only coffee votes; the round
	// advances without an estimate.
	StatusSkipped Status = "skipped"
	// StatusCoffee means every player voted coffee; the session signals a
	// break and the round does not advance.
	StatusCoffee Status = "coffee"
)

// Outcome is the resolver's decision for one reveal attempt.
type Outcome struct {
	Status Status
	// Result holds the estimate when Status is StatusValidated.
	Result string
}

// Resolve decides the outcome of a reveal given the votes submitted so far,
// in submission order. The caller must guarantee len(values) > 0 and must
// hold the room's serialization lock while applying the outcome.
//
// Coffee votes count toward quorum but are excluded from aggregation. When
// every submitted vote is coffee: full quorum yields StatusCoffee, a forced
// partial reveal yields StatusSkipped, and an unforced partial reveal yields
// StatusWait. Without force, any vote count below playerCount yields
// StatusWait.
func Resolve(mode models.Mode, values []string, playerCount int, force bool) Outcome {
	numeric := make([]string, 0, len(values))
	for _, v := range values {
		if v != models.CoffeeValue {
			numeric = append(numeric, v)
		}
	}

	if len(numeric) == 0 {
		if len(values) >= playerCount {
			return Outcome{Status: StatusCoffee}
		}
		if force {
			return Outcome{Status: StatusSkipped}
		}
		return Outcome{Status: StatusWait}
	}

	if !force && len(values) < playerCount {
		return Outcome{Status: StatusWait}
	}

	switch mode {
	case models.ModeStrict:
		return resolveStrict(numeric)
	case models.ModeAverage:
		return Outcome{Status: StatusValidated, Result: resolveAverage(numeric)}
	case models.ModeMedian:
		return Outcome{Status: StatusValidated, Result: resolveMedian(numeric)}
	case models.ModeMajority:
		return Outcome{Status: StatusValidated, Result: resolveMajority(numeric)}
	default:
		// Mode is validated at room creation; an unknown mode resolves to
		// wait so it can never mutate the round.
		return Outcome{Status: StatusWait}
	}
}

func resolveStrict(values []string) Outcome {
	for _, v := range values[1:] {
		if v != values[0] {
			return Outcome{Status: StatusRevote}
		}
	}
	return Outcome{Status: StatusValidated, Result: values[0]}
}

// resolveAverage rounds the arithmetic mean half away from zero.
func resolveAverage(values []string) string {
	sum := 0
	for _, v := range values {
		n, _ := strconv.Atoi(v)
		sum += n
	}
	mean := float64(sum) / float64(len(values))
	return strconv.Itoa(int(math.Round(mean)))
}

// resolveMedian takes the element at floor(n/2) of the ascending sort, the
// upper median for even counts. The two middle values are never averaged so
// the result stays inside the card set.
func resolveMedian(values []string) string {
	nums := make([]int, len(values))
	for i, v := range values {
		nums[i], _ = strconv.Atoi(v)
	}
	sort.Ints(nums)
	return strconv.Itoa(nums[len(nums)/2])
}

// resolveMajority picks the most frequent value. Ties break to the value
// first encountered in submission order among the tied maxima.
func resolveMajority(values []string) string {
	counts := make(map[string]int, len(values))
	for _, v := range values {
		counts[v]++
	}
	best := values[0]
	for _, v := range values {
		if counts[v] > counts[best] {
			best = v
		}
	}
	return best
}
