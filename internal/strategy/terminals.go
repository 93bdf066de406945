package strategy

import (
	"slices"
	"strconv"
	"strings"
)

// terminalGroups maps a trigger to the pockets that count as a hit against it.
// Triggers 0..3 have their own sets; every other pocket belongs to one of four
// digit groups.
var terminalGroups = map[int][]int{
	0: {0, 3, 6, 10, 13, 16, 20, 23, 26, 30, 33, 36},
	1: {1, 4, 7, 11, 14, 17, 21, 24, 27, 31, 34},
	2: {0, 2, 5, 8, 12, 15, 18, 22, 25, 28, 32, 35},
	3: {0, 3, 6, 9, 10, 13, 16, 19, 20, 23, 26, 29, 30, 33, 36},
}

var (
	groupA = []int{4, 7, 8, 10, 14, 17, 18, 20, 24, 27, 28, 30, 34, 0}
	groupB = []int{5, 6, 9, 10, 15, 16, 19, 20, 25, 26, 29, 30, 35, 36, 0}
	groupC = []int{3, 6, 9, 10, 13, 16, 19, 20, 23, 26, 29, 30, 33, 36, 0}
	groupD = []int{1, 2, 3, 10, 11, 12, 13, 20, 21, 22, 23, 30, 31, 32, 33, 0}
)

func init() {
	for _, v := range []int{4, 7, 8, 14, 17, 18, 24, 27, 28, 34} {
		terminalGroups[v] = groupA
	}
	for _, v := range []int{5, 9, 15, 19, 25, 29, 35} {
		terminalGroups[v] = groupB
	}
	for _, v := range []int{6, 16, 26, 36} {
		terminalGroups[v] = groupC
	}
	for _, v := range []int{10, 11, 12, 13, 20, 21, 22, 23, 30, 31, 32, 33} {
		terminalGroups[v] = groupD
	}
}

// Terminals returns the terminal set for trigger v, or nil for values off the wheel.
// The result is a copy and may be modified by the caller.
func Terminals(v int) []int {
	return slices.Clone(terminalGroups[v])
}

// DisplayTerminals caps a terminal set to the part shown to players.
func DisplayTerminals(terminals []int) []int {
	if len(terminals) > displayTerminals {
		terminals = terminals[:displayTerminals]
	}
	return slices.Clone(terminals)
}

const displayTerminals = 3

func joinInts(vs []int) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
