package server

import "slices"

// ProtectedResourceMetadata is the RFC 9728 document describing Galaxy as
// the resource these tokens unlock.
type ProtectedResourceMetadata struct {
	Resource             string   `json:"resource"`
	AuthorizationServers []string `json:"authorization_servers"`
	ScopesSupported      []string `json:"scopes_supported"`
	TokenTypesSupported  []string `json:"token_types_supported"`
}

// ResourceMetadata returns the protected resource metadata.
func (s *Server) ResourceMetadata() ProtectedResourceMetadata {
	return ProtectedResourceMetadata{
		Resource:             s.galaxy.URL(),
		AuthorizationServers: []string{s.Config.BaseURL},
		ScopesSupported:      slices.Clone(s.Config.RequiredScopes),
		TokenTypesSupported:  []string{"Bearer"},
	}
}

// AuthorizationServerMetadata is the RFC 8414 discovery document.
type AuthorizationServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	ScopesSupported                   []string `json:"scopes_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	RevocationEndpointAuthMethods     []string `json:"revocation_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
}

// ServerMetadata returns the authorization server metadata.
func (s *Server) ServerMetadata() AuthorizationServerMetadata {
	base := s.Config.BaseURL
	return AuthorizationServerMetadata{
		Issuer:                            base,
		AuthorizationEndpoint:             base + AuthorizePath,
		TokenEndpoint:                     base + TokenPath,
		RegistrationEndpoint:              base + RegisterPath,
		RevocationEndpoint:                base + RevokePath,
		ScopesSupported:                   slices.Clone(s.Config.RequiredScopes),
		ResponseTypesSupported:            slices.Clone(supportedResponseTypes),
		GrantTypesSupported:               slices.Clone(supportedGrantTypes),
		TokenEndpointAuthMethodsSupported: slices.Clone(supportedAuthMethods),
		RevocationEndpointAuthMethods:     slices.Clone(supportedAuthMethods),
		CodeChallengeMethodsSupported:     []string{PKCEMethodS256},
	}
}
