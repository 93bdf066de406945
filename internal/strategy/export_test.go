package strategy

var Replay = replay
