package telemetry

// Log attribute keys shared across packages.
const (
	FieldSessionID = "session_id"
	FieldPlayerID  = "player_id"
	FieldTeamID    = "team_id"
	FieldAmount    = "amount"
	FieldRound     = "round"
	FieldCommand   = "command"
)
