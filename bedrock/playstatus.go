package bedrock

// PlayStatus is the status code carried by the PlayStatus packet,
// used both to report login failures during the handshake and to
// signal PlayerSpawn at the end of it (spec.md §4.4 "StartGame
// emission"). The distilled spec's §4.4 table only names
// LoginFailedClient/Server; valentine's (this core's Rust
// predecessor) handshake reacts to a wider set of codes, mirrored by
// the pack's own didntpot-mg-gophertunnel conn.go handlePlayStatus
// (SPEC_FULL.md §C.5). Only LoginFailedClient, LoginFailedServer and
// PlayerSpawn are ever constructed by this core. InvalidTenant,
// VanillaEdu, EduVanilla, ServerFull and ServerNotReady are defined
// for wire compatibility but kept unwired: tenant and
// Education/Vanilla cross-play validation are Xbox Live/Education
// Edition concepts outside this core's scope (spec.md §1), and
// neither a connection-capacity limit nor an async world-load stage
// exists anywhere in this core to trigger ServerFull or
// ServerNotReady from.
type PlayStatus int32

const (
	PlayStatusLoginSuccess PlayStatus = iota
	PlayStatusLoginFailedClient
	PlayStatusLoginFailedServer
	PlayStatusPlayerSpawn
	PlayStatusLoginFailedInvalidTenant
	PlayStatusLoginFailedVanillaEdu
	PlayStatusLoginFailedEduVanilla
	PlayStatusLoginFailedServerFull
	PlayStatusLoginFailedServerNotReady
)

// Fatal reports whether status represents a login failure that must
// close the handshake, as opposed to a successful progress signal.
func (s PlayStatus) Fatal() bool {
	switch s {
	case PlayStatusLoginSuccess, PlayStatusPlayerSpawn:
		return false
	default:
		return true
	}
}
