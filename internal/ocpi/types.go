package ocpi

import "strings"

// Version is an OCPI protocol version string.
type Version string

const (
	Version221 Version = "2.2.1"
	Version230 Version = "2.3.0"
)

// KnownVersions lists the versions this platform can speak, most preferred first.
var KnownVersions = []Version{Version230, Version221}

func (v Version) Valid() bool {
	switch v {
	case Version221, Version230:
		return true
	default:
		return false
	}
}

// ModuleID identifies an OCPI module in an endpoint manifest.
type ModuleID string

const (
	ModuleCDRs        ModuleID = "cdrs"
	ModuleCommands    ModuleID = "commands"
	ModuleCredentials ModuleID = "credentials"
	ModuleLocations   ModuleID = "locations"
	ModuleSessions    ModuleID = "sessions"
	ModuleTariffs     ModuleID = "tariffs"
	ModuleTokens      ModuleID = "tokens"
	ModuleVersions    ModuleID = "versions"
)

func (m ModuleID) Valid() bool {
	switch m {
	case ModuleCDRs, ModuleCommands, ModuleCredentials, ModuleLocations,
		ModuleSessions, ModuleTariffs, ModuleTokens, ModuleVersions:
		return true
	default:
		return false
	}
}

// Role is the role a party plays in the network.
type Role string

const (
	RoleCPO  Role = "CPO"
	RoleEMSP Role = "EMSP"
	RoleHUB  Role = "HUB"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCPO, RoleEMSP, RoleHUB:
		return true
	default:
		return false
	}
}

// ParseRole accepts any casing of CPO, EMSP or HUB.
func ParseRole(raw string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(raw)))
	return r, r.Valid()
}

// EndpointRole qualifies a peer endpoint by the side of the peer serving it.
type EndpointRole string

const (
	EndpointRoleCPO  EndpointRole = "cpo"
	EndpointRoleEMSP EndpointRole = "emsp"
)

func ParseEndpointRole(raw string) (EndpointRole, bool) {
	switch EndpointRole(strings.ToLower(strings.TrimSpace(raw))) {
	case EndpointRoleCPO:
		return EndpointRoleCPO, true
	case EndpointRoleEMSP:
		return EndpointRoleEMSP, true
	default:
		return "", false
	}
}

// EndpointRolesFor expands party roles into the endpoint roles they serve.
func EndpointRolesFor(roles []Role) []EndpointRole {
	var hasCPO, hasEMSP bool
	for _, r := range roles {
		switch r {
		case RoleCPO:
			hasCPO = true
		case RoleEMSP:
			hasEMSP = true
		case RoleHUB:
			hasCPO, hasEMSP = true, true
		}
	}

	out := make([]EndpointRole, 0, 2)
	if hasCPO {
		out = append(out, EndpointRoleCPO)
	}
	if hasEMSP {
		out = append(out, EndpointRoleEMSP)
	}
	return out
}

// VersionRef is one entry of a versions listing.
type VersionRef struct {
	Version Version `json:"version"`
	URL     string  `json:"url"`
}

// Endpoint is one entry of a version detail manifest.
type Endpoint struct {
	Identifier ModuleID     `json:"identifier"`
	URL        string       `json:"url"`
	Role       EndpointRole `json:"role,omitempty"`
}

// VersionDetail is the manifest published for a single version.
type VersionDetail struct {
	Version   Version    `json:"version"`
	Endpoints []Endpoint `json:"endpoints"`
}

type BusinessDetails struct {
	Name    string `json:"name"`
	Website string `json:"website,omitempty"`
}

type CredentialsRole struct {
	Role            Role            `json:"role"`
	CountryCode     string          `json:"country_code"`
	PartyID         string          `json:"party_id"`
	BusinessDetails BusinessDetails `json:"business_details"`
}

// Credentials is the object exchanged by the credentials module.
type Credentials struct {
	Token string            `json:"token"`
	URL   string            `json:"url"`
	Roles []CredentialsRole `json:"roles"`
}
