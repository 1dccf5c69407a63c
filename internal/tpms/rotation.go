package tpms

import "fmt"

// RotationPattern relabels tire positions after a physical rotation: the
// sensor that lived at Mapping[new] moves to position new. Pure data
// transformation over stored configuration; the BLE protocol is untouched.
type RotationPattern struct {
	Name    string
	Mapping map[int]int // new position -> old position
}

// RotationPatterns lists the supported patterns per tire count. Positions
// are numbered front-to-back, left before right: on a 4-tire rig 1=LF 2=RF
// 3=LR 4=RR; the 6-tire patterns treat 3..6 as the rear duals.
var RotationPatterns = map[int][]RotationPattern{
	4: {
		{Name: "X-Pattern", Mapping: map[int]int{1: 4, 2: 3, 3: 2, 4: 1}},
		{Name: "Front-to-Back", Mapping: map[int]int{1: 3, 2: 4, 3: 1, 4: 2}},
		{Name: "Forward Cross", Mapping: map[int]int{1: 3, 2: 4, 3: 2, 4: 1}},
		{Name: "Rearward Cross", Mapping: map[int]int{1: 4, 2: 3, 3: 1, 4: 2}},
	},
	6: {
		{Name: "Front-to-Back", Mapping: map[int]int{1: 3, 2: 4, 3: 5, 4: 6, 5: 1, 6: 2}},
		{Name: "Side-to-Side Rear", Mapping: map[int]int{1: 1, 2: 2, 3: 4, 4: 3, 5: 6, 6: 5}},
	},
}

// FindRotationPattern looks up a named pattern for the given tire count.
func FindRotationPattern(tires int, name string) (RotationPattern, error) {
	for _, pattern := range RotationPatterns[tires] {
		if pattern.Name == name {
			return pattern, nil
		}
	}
	return RotationPattern{}, fmt.Errorf("tpms: no rotation pattern %q for %d tires", name, tires)
}

// Rotate rewrites a config-level position→sensor-id table according to the
// pattern. Positions absent from the table stay absent; the sensor ids
// themselves never change, only which position they are filed under.
func Rotate(table map[string]string, pattern RotationPattern) map[string]string {
	rotated := make(map[string]string, len(table))
	for newPos, oldPos := range pattern.Mapping {
		if id, ok := table[fmt.Sprintf("tire_%d", oldPos)]; ok {
			rotated[fmt.Sprintf("tire_%d", newPos)] = id
		}
	}
	// Positions the pattern does not touch (a spare, say) carry over.
	for pos, id := range table {
		var num int
		if _, err := fmt.Sscanf(pos, "tire_%d", &num); err != nil {
			continue
		}
		if _, touched := pattern.Mapping[num]; !touched {
			rotated[pos] = id
		}
	}
	return rotated
}
