package wiser

import "fmt"

// Lighting application used for all the level commands.
const lightingApplication = 56

const cbcVersion = "3.7.0"

// EncodeAuth builds the command authenticating the control connection with
// the key fetched over HTTP.
func EncodeAuth(authKey string) string {
	return fmt.Sprintf(`<cbus_auth_cmd value="%s" cbc_version="%s" count="0"/>`, authKey, cbcVersion)
}

// EncodeSetLevel builds the command setting the level of a single group. The
// level is not validated, the hub decides what is acceptable.
func EncodeSetLevel(address AccessoryAddress, level int, ramp int) string {
	return fmt.Sprintf(
		`<cbus_cmd app="%d" command="cbusSetLevel" network="%d" numaddresses="1" addresses="%d" levels="%d" ramps="%d"/>`,
		lightingApplication, address.Network, address.GroupAddress, level, ramp)
}

// EncodeGetAllLevels builds the query for the levels of the 256 group
// addresses. The response seeds the state after each connection.
func EncodeGetAllLevels() string {
	return `<cbus_cmd app="0x38" command="cbusGetLevel" numaddresses="256" />`
}
